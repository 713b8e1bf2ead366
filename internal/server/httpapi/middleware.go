package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v6"
	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/netx"
	"github.com/dmitrijs2005/docshare/internal/server/audit"
	"github.com/dmitrijs2005/docshare/internal/server/auth"
)

type ctxKey string

const sessionKey ctxKey = "session"

func sessionFrom(ctx context.Context) auth.Session {
	sess, _ := ctx.Value(sessionKey).(auth.Session)
	return sess
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestInfo puts the client address and user agent on the context for
// the audit sink and logs each request.
func (s *Server) requestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := audit.WithRequestInfo(r.Context(), audit.RequestInfo{
			IP:        netx.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.logger.Debug(ctx, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String())
	})
}

// rateLimited throttles the auth routes per client IP. The limiter lives on
// the server because mux wraps middleware on every request.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return tollbooth.LimitHandler(s.limiter, next)
}

// requireSession admits only live authenticated sessions. It validates both
// expiry ceilings, then refreshes last activity and re-issues the cookie.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := s.deps.Clock.Now()

		st, ok := s.deps.Sessions.Decode(s.carrier(r), now).(auth.Authenticated)
		if !ok {
			s.writeError(w, r, common.ErrorUnauthorized)
			return
		}

		if err := s.deps.Sessions.Validate(ctx, st.Session, now); err != nil {
			s.clearSessionCookie(w)
			s.writeError(w, r, err)
			return
		}

		carrier, sess, err := s.deps.Sessions.Touch(st.Session, now)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.setSessionCookie(w, carrier, s.deps.Sessions.CookieMaxAge(sess, now))

		next(w, r.WithContext(context.WithValue(ctx, sessionKey, sess)))
	}
}

func (s *Server) carrier(r *http.Request) string {
	c, err := r.Cookie(common.SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) setSessionCookie(w http.ResponseWriter, carrier string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    carrier,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     common.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
