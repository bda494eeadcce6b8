// Package stripe implements the payment gateway capability with the Stripe API.
package stripe

import (
	"context"
	"fmt"
	"strings"

	gatewaydomain "github.com/hostflow/billing/internal/gateway/domain"
	obsmetrics "github.com/hostflow/billing/internal/observability/metrics"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

type Client struct {
	api *client.API
	log *zap.Logger
}

func NewClient(secretKey string, log *zap.Logger) *Client {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Client{
		api: api,
		log: log.Named("gateway.stripe"),
	}
}

func (c *Client) CreateInvoiceItem(ctx context.Context, params gatewaydomain.CreateInvoiceItemParams) error {
	itemParams := &stripe.InvoiceItemParams{
		Customer:    stripe.String(params.Customer),
		Description: stripe.String(params.Description),
		Amount:      stripe.Int64(params.Amount),
		Currency:    stripe.String(strings.ToLower(params.Currency)),
	}
	itemParams.Context = ctx
	if params.IdempotencyKey != "" {
		itemParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}

	_, err := c.api.InvoiceItems.New(itemParams)
	obsmetrics.Billing().IncGatewayCall("create_invoice_item", outcome(err))
	if err != nil {
		return fmt.Errorf("create invoice item: %w", err)
	}
	return nil
}

func (c *Client) CreateInvoice(ctx context.Context, params gatewaydomain.CreateInvoiceParams) (*gatewaydomain.Invoice, error) {
	invoiceParams := &stripe.InvoiceParams{
		Customer:         stripe.String(params.Customer),
		CollectionMethod: stripe.String(params.CollectionMethod),
		AutoAdvance:      stripe.Bool(params.AutoAdvance),
	}
	invoiceParams.Context = ctx
	if params.IdempotencyKey != "" {
		invoiceParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}

	remote, err := c.api.Invoices.New(invoiceParams)
	obsmetrics.Billing().IncGatewayCall("create_invoice", outcome(err))
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return fromStripeInvoice(remote), nil
}

func (c *Client) RetrieveInvoice(ctx context.Context, id string) (*gatewaydomain.Invoice, error) {
	getParams := &stripe.InvoiceParams{}
	getParams.Context = ctx

	remote, err := c.api.Invoices.Get(id, getParams)
	obsmetrics.Billing().IncGatewayCall("retrieve_invoice", outcome(err))
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, gatewaydomain.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("retrieve invoice %s: %w", id, err)
	}
	return fromStripeInvoice(remote), nil
}

func (c *Client) FinalizeInvoice(ctx context.Context, id string, idempotencyKey string) (*gatewaydomain.Invoice, error) {
	finalizeParams := &stripe.InvoiceFinalizeInvoiceParams{}
	finalizeParams.Context = ctx
	if idempotencyKey != "" {
		finalizeParams.IdempotencyKey = stripe.String(idempotencyKey)
	}

	remote, err := c.api.Invoices.FinalizeInvoice(id, finalizeParams)
	obsmetrics.Billing().IncGatewayCall("finalize_invoice", outcome(err))
	if err != nil {
		return nil, fmt.Errorf("finalize invoice %s: %w", id, err)
	}
	return fromStripeInvoice(remote), nil
}

func fromStripeInvoice(remote *stripe.Invoice) *gatewaydomain.Invoice {
	ending := remote.EndingBalance
	return &gatewaydomain.Invoice{
		ID:               remote.ID,
		Status:           gatewaydomain.InvoiceStatus(remote.Status),
		StartingBalance:  remote.StartingBalance,
		EndingBalance:    &ending,
		AmountDue:        remote.AmountDue,
		AmountPaid:       remote.AmountPaid,
		HostedInvoiceURL: remote.HostedInvoiceURL,
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
