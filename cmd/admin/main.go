package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/docshare/internal/admin"
	"github.com/dmitrijs2005/docshare/internal/logging"
	"github.com/dmitrijs2005/docshare/internal/server"
	"github.com/dmitrijs2005/docshare/internal/server/config"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docshare/internal/server/services"
)

func main() {
	if err := admin.NewRootCmd(open).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// open connects to the configured database and builds the services the
// admin commands need. Audit records are attributed to the system actor.
func open(ctx context.Context) (*admin.Deps, error) {
	cfg := config.LoadConfig()
	logger := logging.NewJSONLogger(os.Stderr, cfg.LogLevel)

	db, err := server.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	rm := repomanager.NewPostgresRepositoryManager()
	clock := services.SystemClock{}
	auditor := services.NewAuditService(db, rm, logger, clock)

	return &admin.Deps{
		Migrate:       func(ctx context.Context) error { return rm.RunMigrations(ctx, db) },
		Audit:         auditor,
		Grants:        services.NewAccessService(db, rm, auditor, clock, cfg.RequireMFA),
		Accounts:      services.NewCredentialService(db, rm, auditor, cfg, clock),
		RetentionDays: cfg.AuditRetentionDays,
		Close:         func() { db.Close() },
	}, nil
}
