package service

import (
	"fmt"
	"time"

	invoicedomain "github.com/hostflow/billing/internal/invoice/domain"
)

// derivePeriod fills period_start, period_end and due_date from month/year.
// It is a pure calendar derivation: re-running it on an already populated
// invoice changes nothing.
func derivePeriod(invoice *invoicedomain.Invoice) {
	if invoice.PeriodStart.IsZero() {
		invoice.PeriodStart = time.Date(invoice.Year, time.Month(invoice.Month), 1, 0, 0, 0, 0, time.UTC)
	}

	if invoice.PeriodEnd.IsZero() {
		start := invoice.PeriodStart
		// normalizing day 0 of the next month yields the last day of this one
		invoice.PeriodEnd = time.Date(start.Year(), start.Month()+1, 0, 0, 0, 0, 0, time.UTC)
	}

	invoice.DueDate = invoice.PeriodEnd
}

// periodLabel renders the human-readable period, e.g. "Jan 01 - Jan 31 2024".
func periodLabel(start, end time.Time) string {
	return fmt.Sprintf("%s - %s %d", start.Format("Jan 02"), end.Format("Jan 02"), end.Year())
}