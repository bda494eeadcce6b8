// Package domain contains the payment ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// LedgerPurpose classifies a payment ledger entry.
type LedgerPurpose string

const (
	PurposePayment LedgerPurpose = "payment"
	PurposeCredit  LedgerPurpose = "credit"
	PurposeRefund  LedgerPurpose = "refund"
)

// PaymentLedgerEntry is an accounting record that may reference an invoice.
// When the referenced invoice is cancelled or removed the reference is set
// to NULL; the entry itself is never deleted.
type PaymentLedgerEntry struct {
	ID         snowflake.ID  `gorm:"primaryKey"`
	TeamID     snowflake.ID  `gorm:"not null;index"`
	InvoiceID  *snowflake.ID `gorm:"index"`
	Purpose    LedgerPurpose `gorm:"type:text;not null"`
	Amount     float64       `gorm:"not null;default:0"`
	Currency   string        `gorm:"type:text;not null"`
	ModifiedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ModifiedBy string        `gorm:"type:text"`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentLedgerEntry) TableName() string { return "payment_ledger_entries" }
