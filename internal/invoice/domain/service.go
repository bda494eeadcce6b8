package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrInvoiceNotDraft  = errors.New("invoice_not_draft")
	ErrNotSubmitted     = errors.New("invoice_not_submitted")
	ErrCurrencyMissing  = errors.New("currency_missing")
	ErrDuplicateInvoice = errors.New("duplicate_invoice")
)

// DuplicateError names the invoice already covering the same (team, period).
type DuplicateError struct {
	Existing snowflake.ID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate entry: invoice %s already exists for this period", e.Existing)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateInvoice
}

type Service interface {
	// Create validates and persists a new draft invoice. The duplicate guard
	// runs only here, never on subsequent saves.
	Create(ctx context.Context, invoice *Invoice) error

	// Save revalidates and persists an existing draft invoice, replacing its
	// line items wholesale.
	Save(ctx context.Context, invoice *Invoice) error

	GetByID(ctx context.Context, id snowflake.ID) (*Invoice, error)
	GetByStripeInvoiceID(ctx context.Context, stripeInvoiceID string) (*Invoice, error)

	// Submit drives the idempotent gateway create/finalize protocol and moves
	// the invoice from Draft to Submitted. On gateway failure all local
	// changes roll back except the stripe invoice id obtained before the
	// failure, which is persisted so the next attempt resumes instead of
	// creating a second remote invoice.
	Submit(ctx context.Context, id snowflake.ID) error

	// Cancel moves a submitted invoice to Cancelled and unlinks it from all
	// payment ledger entries referencing it.
	Cancel(ctx context.Context, id snowflake.ID) error

	// Delete removes the invoice after the same ledger unlinking as Cancel.
	Delete(ctx context.Context, id snowflake.ID) error

	// CreateForPeriod seeds a draft invoice for the team's (month, year)
	// period with one usage row per active site.
	CreateForPeriod(ctx context.Context, teamID snowflake.ID, month, year int) (*Invoice, error)

	// DraftForPeriod returns the draft invoice covering (team, month, year),
	// or nil when none exists.
	DraftForPeriod(ctx context.Context, teamID snowflake.ID, month, year int) (*Invoice, error)
}
