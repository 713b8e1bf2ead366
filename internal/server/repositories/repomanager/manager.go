package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/docshare/internal/dbx"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/archives"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/backupcodes"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/documents"
	"github.com/dmitrijs2005/docshare/internal/server/repositories/permissions"
)

// RepositoryManager vends repositories bound to a DBTX so services can run
// several of them inside one dbx.WithTx transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	BackupCodes(db dbx.DBTX) backupcodes.Repository
	Documents(db dbx.DBTX) documents.Repository
	Permissions(db dbx.DBTX) permissions.Repository
	AuditLogs(db dbx.DBTX) auditlogs.Repository
	Archives(db dbx.DBTX) archives.Repository
}
