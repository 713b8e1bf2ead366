// Package httpapi exposes the docshare services over HTTP/JSON. Sessions
// travel in an HttpOnly cookie; every document route is authorized by the
// access service before it touches storage.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v6"
	"github.com/didip/tollbooth/v6/limiter"
	"github.com/dmitrijs2005/docshare/internal/logging"
	"github.com/dmitrijs2005/docshare/internal/server/config"
	"github.com/dmitrijs2005/docshare/internal/server/services"
	"github.com/go-playground/validator/v10"
)

const shutdownTimeout = 10 * time.Second

// Deps are the services the transport calls into.
type Deps struct {
	Accounts  AccountService
	Login     LoginService
	Sessions  SessionService
	MFA       MFAService
	Documents DocumentService
	Sharing   SharingService
	Audit     AuditHistory
	Clock     services.Clock
}

type Server struct {
	address       string
	deps          Deps
	logger        logging.Logger
	validate      *validator.Validate
	secureCookies bool
	limiter       *limiter.Limiter
}

func NewServer(c *config.Config, l logging.Logger, d Deps) *Server {
	if d.Clock == nil {
		d.Clock = services.SystemClock{}
	}
	return &Server{
		address:       c.HTTPAddr,
		deps:          d,
		logger:        l.With("module", "http_server"),
		validate:      validator.New(),
		secureCookies: c.SecureCookies,
		limiter:       newAuthLimiter(c.LoginRateLimit),
	}
}

// newAuthLimiter throttles the auth routes per client IP.
func newAuthLimiter(perSecond float64) *limiter.Limiter {
	lmt := tollbooth.NewLimiter(perSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookups([]string{"X-Forwarded-For", "X-Real-IP", "RemoteAddr"})
	lmt.SetMessageContentType("application/json")
	lmt.SetMessage(`{"error":"too many requests"}`)
	return lmt
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown error", "error", err.Error())
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
