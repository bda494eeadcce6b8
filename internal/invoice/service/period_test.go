package service

import (
	"testing"
	"time"

	invoicedomain "github.com/hostflow/billing/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
)

func TestDerivePeriodCalendarMonth(t *testing.T) {
	invoice := &invoicedomain.Invoice{Month: 1, Year: 2024}
	derivePeriod(invoice)

	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), invoice.PeriodStart)
	assert.Equal(t, time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC), invoice.PeriodEnd)
	assert.Equal(t, invoice.PeriodEnd, invoice.DueDate)
}

func TestDerivePeriodLeapFebruary(t *testing.T) {
	invoice := &invoicedomain.Invoice{Month: 2, Year: 2024}
	derivePeriod(invoice)
	assert.Equal(t, 29, invoice.PeriodEnd.Day())

	invoice = &invoicedomain.Invoice{Month: 2, Year: 2023}
	derivePeriod(invoice)
	assert.Equal(t, 28, invoice.PeriodEnd.Day())
}

func TestDerivePeriodIdempotent(t *testing.T) {
	invoice := &invoicedomain.Invoice{Month: 4, Year: 2024}
	derivePeriod(invoice)
	start, end, due := invoice.PeriodStart, invoice.PeriodEnd, invoice.DueDate

	derivePeriod(invoice)
	assert.Equal(t, start, invoice.PeriodStart)
	assert.Equal(t, end, invoice.PeriodEnd)
	assert.Equal(t, due, invoice.DueDate)
}

func TestPeriodLabel(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "Jan 01 - Jan 31 2024", periodLabel(start, end))
}
