// Package migration brings the billing schema up to date on startup.
// Postgres deployments run versioned SQL migrations; other dialects
// (sqlite in development and tests, mysql) fall back to AutoMigrate.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	invoicedomain "github.com/hostflow/billing/internal/invoice/domain"
	ledgerdomain "github.com/hostflow/billing/internal/ledger/domain"
	plandomain "github.com/hostflow/billing/internal/plan/domain"
	teamdomain "github.com/hostflow/billing/internal/team/domain"
	webhookdomain "github.com/hostflow/billing/internal/webhook/domain"
	"gorm.io/gorm"
)

//go:embed sql
var embeddedMigrations embed.FS

const migrationsDir = "sql"

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the billing tables through gorm. Used where the SQL
// migration path does not apply.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&teamdomain.Team{},
		&teamdomain.Site{},
		&teamdomain.PaymentMethod{},
		&plandomain.Plan{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.SiteUsage{},
		&invoicedomain.Comment{},
		&ledgerdomain.PaymentLedgerEntry{},
		&webhookdomain.Event{},
	)
}
