// Package domain defines the payment gateway capability consumed by billing.
package domain

import (
	"context"
	"errors"
)

// InvoiceStatus mirrors the remote invoice lifecycle.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

// Invoice is the remote invoice state read back from the gateway.
// All monetary fields are in minor currency units.
type Invoice struct {
	ID               string
	Status           InvoiceStatus
	StartingBalance  int64
	EndingBalance    *int64
	AmountDue        int64
	AmountPaid       int64
	HostedInvoiceURL string
}

type CreateInvoiceItemParams struct {
	Customer       string
	Description    string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

type CreateInvoiceParams struct {
	Customer         string
	CollectionMethod string
	AutoAdvance      bool
	IdempotencyKey   string
}

var (
	ErrInvoiceNotFound = errors.New("gateway_invoice_not_found")
)

// Client is the idempotency-keyed create/finalize/read protocol against the
// payment gateway. Calls are synchronous and blocking; the caller owns the
// transaction boundary around them.
type Client interface {
	CreateInvoiceItem(ctx context.Context, params CreateInvoiceItemParams) error
	CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error)
	RetrieveInvoice(ctx context.Context, id string) (*Invoice, error)
	FinalizeInvoice(ctx context.Context, id string, idempotencyKey string) (*Invoice, error)
}
