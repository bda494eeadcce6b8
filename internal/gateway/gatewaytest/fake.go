// Package gatewaytest provides a scriptable in-memory gateway client for
// tests that exercise the submission and reconciliation flows.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	gatewaydomain "github.com/hostflow/billing/internal/gateway/domain"
)

// FakeClient implements gatewaydomain.Client entirely in memory. Any of the
// Fail* hooks can be set to force the corresponding call to error, which lets
// tests cut the create/finalize protocol at a chosen step.
type FakeClient struct {
	mu sync.Mutex

	nextID   int
	invoices map[string]*gatewaydomain.Invoice

	// Per-customer pending item amount, consumed by the next CreateInvoice.
	pendingItems map[string]int64

	FailCreateItem     error
	FailCreateInvoice  error
	FailRetrieve       error
	FailFinalize       error
	FinalizeStatusPaid bool

	CreateItemCalls    int
	CreateInvoiceCalls int
	RetrieveCalls      int
	FinalizeCalls      int

	ItemKeys    []string
	InvoiceKeys []string
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		invoices:     make(map[string]*gatewaydomain.Invoice),
		pendingItems: make(map[string]int64),
	}
}

func (f *FakeClient) CreateInvoiceItem(ctx context.Context, params gatewaydomain.CreateInvoiceItemParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateItemCalls++
	f.ItemKeys = append(f.ItemKeys, params.IdempotencyKey)
	if f.FailCreateItem != nil {
		return f.FailCreateItem
	}
	f.pendingItems[params.Customer] += params.Amount
	return nil
}

func (f *FakeClient) CreateInvoice(ctx context.Context, params gatewaydomain.CreateInvoiceParams) (*gatewaydomain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateInvoiceCalls++
	f.InvoiceKeys = append(f.InvoiceKeys, params.IdempotencyKey)
	if f.FailCreateInvoice != nil {
		return nil, f.FailCreateInvoice
	}

	f.nextID++
	amount := f.pendingItems[params.Customer]
	delete(f.pendingItems, params.Customer)

	invoice := &gatewaydomain.Invoice{
		ID:        fmt.Sprintf("in_fake_%04d", f.nextID),
		Status:    gatewaydomain.InvoiceStatusDraft,
		AmountDue: amount,
	}
	f.invoices[invoice.ID] = invoice
	return copyInvoice(invoice), nil
}

func (f *FakeClient) RetrieveInvoice(ctx context.Context, id string) (*gatewaydomain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.RetrieveCalls++
	if f.FailRetrieve != nil {
		return nil, f.FailRetrieve
	}
	invoice, ok := f.invoices[id]
	if !ok {
		return nil, gatewaydomain.ErrInvoiceNotFound
	}
	return copyInvoice(invoice), nil
}

func (f *FakeClient) FinalizeInvoice(ctx context.Context, id, idempotencyKey string) (*gatewaydomain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.FinalizeCalls++
	if f.FailFinalize != nil {
		return nil, f.FailFinalize
	}
	invoice, ok := f.invoices[id]
	if !ok {
		return nil, gatewaydomain.ErrInvoiceNotFound
	}

	if f.FinalizeStatusPaid {
		invoice.Status = gatewaydomain.InvoiceStatusPaid
		invoice.AmountPaid = invoice.AmountDue
		invoice.AmountDue = 0
	} else {
		invoice.Status = gatewaydomain.InvoiceStatusOpen
	}
	invoice.HostedInvoiceURL = "https://pay.stripe.test/" + id
	return copyInvoice(invoice), nil
}

// SetInvoiceStatus rewrites the stored remote invoice, for tests that need a
// specific remote state before a retrieve.
func (f *FakeClient) SetInvoiceStatus(id string, status gatewaydomain.InvoiceStatus, amountDue, amountPaid int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if invoice, ok := f.invoices[id]; ok {
		invoice.Status = status
		invoice.AmountDue = amountDue
		invoice.AmountPaid = amountPaid
	}
}

func copyInvoice(invoice *gatewaydomain.Invoice) *gatewaydomain.Invoice {
	out := *invoice
	if invoice.EndingBalance != nil {
		v := *invoice.EndingBalance
		out.EndingBalance = &v
	}
	return &out
}
