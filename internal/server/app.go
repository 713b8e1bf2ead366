// Package server wires the docshare services together and runs them: the
// HTTP API, the periodic audit archiver and graceful shutdown on signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/docshare/internal/logging"
	"github.com/dmitrijs2005/docshare/internal/server/config"
	"github.com/dmitrijs2005/docshare/internal/server/httpapi"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docshare/internal/server/services"
	"github.com/dmitrijs2005/docshare/internal/server/storage"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	auditor     *services.AuditService
	access      *services.AccessService
	httpServer  *httpapi.Server
	maintenance time.Duration
}

// OpenDB opens the pgx-backed pool and checks it is reachable.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	rm := repomanager.NewPostgresRepositoryManager()
	db, err := OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	store, err := storage.NewS3Store(ctx, c)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("object storage init error: %w", err)
	}

	clock := services.SystemClock{}
	auditor := services.NewAuditService(db, rm, logger, clock)
	creds := services.NewCredentialService(db, rm, auditor, c, clock)
	mfa := services.NewMFAService(db, rm, auditor, creds, c, clock)
	sessions := services.NewSessionService(auditor, c)
	login := services.NewLoginService(creds, mfa, sessions, auditor, clock)
	access := services.NewAccessService(db, rm, auditor, clock, c.RequireMFA)
	docs := services.NewDocumentService(db, rm, store, access, auditor, logger, clock, c.SignedURLTTL)

	srv := httpapi.NewServer(c, logger, httpapi.Deps{
		Accounts:  creds,
		Login:     login,
		Sessions:  sessions,
		MFA:       mfa,
		Documents: docs,
		Sharing:   access,
		Audit:     auditor,
		Clock:     clock,
	})

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		auditor:     auditor,
		access:      access,
		httpServer:  srv,
		maintenance: c.ArchiveInterval,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.httpServer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// runMaintenance archives audit records past retention and purges lapsed
// grants on every tick until ctx is done.
func (app *App) runMaintenance(ctx context.Context) {
	if app.maintenance <= 0 {
		app.logger.Info(ctx, "Periodic maintenance disabled")
		return
	}

	ticker := time.NewTicker(app.maintenance)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.maintain(ctx)
		}
	}
}

func (app *App) maintain(ctx context.Context) {
	arc, err := app.auditor.Archive(ctx, app.config.AuditRetentionDays)
	switch {
	case err != nil:
		app.logger.Error(ctx, "audit archive failed", "error", err.Error())
	case arc != nil:
		app.logger.Info(ctx, "Audit records archived", "archive_id", arc.ID, "records", arc.RecordCount)
	}

	n, err := app.access.PurgeExpiredGrants(ctx)
	if err != nil {
		app.logger.Error(ctx, "grant purge failed", "error", err.Error())
	} else if n > 0 {
		app.logger.Info(ctx, "Expired grants purged", "count", n)
	}

	if f := app.auditor.Failures(); f > 0 {
		app.logger.Warn(ctx, "audit sink has dropped records", "failures", f)
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runMaintenance(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.WithoutCancel(ctx), "db close error", "error", err.Error())
	}
	app.logger.Info(context.WithoutCancel(ctx), "App stopped")
}
