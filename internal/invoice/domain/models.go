// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the payment status projected from the latest known gateway state.
type Status string

const (
	StatusDraft  Status = "Draft"
	StatusUnpaid Status = "Unpaid"
	StatusPaid   Status = "Paid"
)

// DocStatus is the three-state submission lifecycle of a billing document.
type DocStatus int8

const (
	DocStatusDraft     DocStatus = 0
	DocStatusSubmitted DocStatus = 1
	DocStatusCancelled DocStatus = 2
)

// Invoice covers one team's usage for one billing period. All monetary fields
// are major currency units; the gateway reports minor units which are scaled
// by 1/100 when mapped in.
type Invoice struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	TeamID        snowflake.ID `gorm:"not null;index;uniqueIndex:ux_invoices_team_period,priority:1"`
	CustomerName  string       `gorm:"type:text"`
	CustomerEmail string       `gorm:"type:text"`

	Month       int       `gorm:"not null"`
	Year        int       `gorm:"not null"`
	PeriodStart time.Time `gorm:"uniqueIndex:ux_invoices_team_period,priority:2"`
	PeriodEnd   time.Time `gorm:"uniqueIndex:ux_invoices_team_period,priority:3"`
	DueDate     time.Time

	Currency string  `gorm:"type:text"`
	Total    float64 `gorm:"not null;default:0"`

	Status    Status    `gorm:"type:text;not null;default:'Draft'"`
	DocStatus DocStatus `gorm:"not null;default:0"`

	// StripeInvoiceID, once set, is never cleared. It anchors the idempotent
	// create-vs-resume branching across retried submissions.
	StripeInvoiceID  string `gorm:"index"`
	StripeInvoiceURL string `gorm:"type:text"`

	StartingBalance float64 `gorm:"not null;default:0"`
	EndingBalance   float64 `gorm:"not null;default:0"`
	AmountDue       float64 `gorm:"not null;default:0"`
	AmountPaid      float64 `gorm:"not null;default:0"`

	PaymentDate         *time.Time
	PaymentAttemptCount int `gorm:"not null;default:0"`
	PaymentAttemptDate  *time.Time

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Items     []InvoiceItem `gorm:"-"`
	SiteUsage []SiteUsage   `gorm:"-"`
}

func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is a priced line on an invoice. Quantity is days active, Rate
// the plan's day price, Amount their product.
type InvoiceItem struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	InvoiceID   snowflake.ID `gorm:"not null;index"`
	SiteID      snowflake.ID `gorm:"not null"`
	PlanID      snowflake.ID `gorm:"not null"`
	Description string       `gorm:"type:text"`
	Quantity    int          `gorm:"not null"`
	Rate        float64      `gorm:"not null"`
	Amount      float64      `gorm:"not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (InvoiceItem) TableName() string { return "invoice_items" }

// SiteUsage records how many days a site was active within the invoice period.
// Rows with zero active days are discarded before pricing.
type SiteUsage struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	InvoiceID  snowflake.ID `gorm:"not null;index"`
	SiteID     snowflake.ID `gorm:"not null"`
	SiteName   string       `gorm:"type:text;not null"`
	PlanID     snowflake.ID `gorm:"not null"`
	DaysActive int          `gorm:"not null;default:0"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (SiteUsage) TableName() string { return "invoice_site_usage" }

// Comment is an operator-visible note on an invoice, used for failure traces.
type Comment struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	InvoiceID snowflake.ID `gorm:"not null;index"`
	Content   string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Comment) TableName() string { return "invoice_comments" }
