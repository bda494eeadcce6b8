// Package domain contains the inbound gateway event model and payload types.
package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventTypePaymentSucceeded = "invoice.payment_succeeded"
	EventTypePaymentFailed    = "invoice.payment_failed"
)

// Kind is the closed set of event categories the reconciler dispatches on.
// Everything outside the two payment outcomes collapses to KindOther, which
// is processed as an explicit no-op.
type Kind int

const (
	KindOther Kind = iota
	KindPaymentSucceeded
	KindPaymentFailed
)

func KindOf(eventType string) Kind {
	switch eventType {
	case EventTypePaymentSucceeded:
		return KindPaymentSucceeded
	case EventTypePaymentFailed:
		return KindPaymentFailed
	default:
		return KindOther
	}
}

// Event is a durably stored gateway callback. Events are stored before they
// are processed so a crash between delivery and reconciliation loses nothing.
type Event struct {
	ID            snowflake.ID   `gorm:"primaryKey"`
	StripeEventID string         `gorm:"type:text;not null;uniqueIndex"`
	Type          string         `gorm:"type:text;not null;index"`
	Payload       datatypes.JSON `gorm:"not null"`
	ProcessedAt   *time.Time
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Event) TableName() string { return "webhook_events" }

// Envelope is the outer shape of a gateway event body.
type Envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// InvoicePayload is the gateway invoice object embedded in payment events.
// Monetary fields are in minor currency units. webhooks_delivered_at and
// attempt_count are only present on payment_failed events.
type InvoicePayload struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	AmountDue         int64  `json:"amount_due"`
	AmountPaid        int64  `json:"amount_paid"`
	StartingBalance   int64  `json:"starting_balance"`
	EndingBalance     *int64 `json:"ending_balance"`
	HostedInvoiceURL  string `json:"hosted_invoice_url"`
	StatusTransitions struct {
		PaidAt *int64 `json:"paid_at"`
	} `json:"status_transitions"`
	WebhooksDeliveredAt *int64 `json:"webhooks_delivered_at"`
	AttemptCount        *int   `json:"attempt_count"`
}

type Service interface {
	// Ingest durably stores the raw event, then reconciles it. A redelivered
	// event id is acknowledged without reprocessing only once processing has
	// succeeded; otherwise the stored event is reconciled again.
	Ingest(ctx context.Context, body []byte) error

	// Process reconciles a stored event into invoice and account state.
	Process(ctx context.Context, event *Event) error
}
