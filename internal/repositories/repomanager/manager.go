package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/dmitrijs2005/otpkeeper/internal/repositories/alerts"
	"github.com/dmitrijs2005/otpkeeper/internal/repositories/users"
)

// RepositoryManager vends repositories bound to a DB or a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Alerts(db dbx.DBTX) alerts.Repository
}
