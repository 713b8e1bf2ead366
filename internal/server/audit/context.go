// Package audit carries per-request origin details (client IP and user
// agent) through context.Context to the audit sink.
package audit

import "context"

// RequestInfo identifies where a request came from.
type RequestInfo struct {
	IP        string
	UserAgent string
}

type ctxKey struct{}

// WithRequestInfo returns a copy of ctx carrying info.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

// RequestInfoFrom returns the RequestInfo stored in ctx, or the zero value.
func RequestInfoFrom(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(ctxKey{}).(RequestInfo)
	return info
}
