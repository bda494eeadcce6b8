package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hostflow/billing/internal/config"
	invoicedomain "github.com/hostflow/billing/internal/invoice/domain"
	"github.com/hostflow/billing/internal/observability/metrics"
	"github.com/hostflow/billing/internal/providers/email"
	teamdomain "github.com/hostflow/billing/internal/team/domain"
	webhookdomain "github.com/hostflow/billing/internal/webhook/domain"
	"github.com/hostflow/billing/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	Config     config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	TeamSvc    teamdomain.Service
	InvoiceSvc invoicedomain.Service
	Email      email.Provider
}

type Service struct {
	cfg config.Config
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	teamSvc    teamdomain.Service
	invoiceSvc invoicedomain.Service
	email      email.Provider
}

func NewService(p ServiceParam) webhookdomain.Service {
	return &Service{
		cfg:        p.Config,
		db:         p.DB,
		log:        p.Log.Named("webhook.service"),
		genID:      p.GenID,
		teamSvc:    p.TeamSvc,
		invoiceSvc: p.InvoiceSvc,
		email:      p.Email,
	}
}

func (s *Service) Ingest(ctx context.Context, body []byte) error {
	var envelope webhookdomain.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("malformed event body: %w", err)
	}

	event := webhookdomain.Event{
		ID:            s.genID.Generate(),
		StripeEventID: envelope.ID,
		Type:          envelope.Type,
		Payload:       datatypes.JSON(body),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return err
		}
		return s.reprocessRedelivery(ctx, envelope.ID)
	}

	return s.Process(ctx, &event)
}

// reprocessRedelivery handles a redelivered event id. Already-processed
// events are acknowledged without reprocessing; an event whose first
// processing attempt failed is run again from the stored payload, so a
// transient failure cannot permanently swallow a payment outcome.
func (s *Service) reprocessRedelivery(ctx context.Context, stripeEventID string) error {
	var stored webhookdomain.Event
	if err := s.db.WithContext(ctx).First(&stored, "stripe_event_id = ?", stripeEventID).Error; err != nil {
		return err
	}

	if stored.ProcessedAt != nil {
		s.log.Info("event already processed, skipping",
			zap.String("stripe_event_id", stripeEventID),
		)
		return nil
	}

	s.log.Info("reprocessing unprocessed redelivery",
		zap.String("stripe_event_id", stripeEventID),
	)
	return s.Process(ctx, &stored)
}

func (s *Service) Process(ctx context.Context, event *webhookdomain.Event) error {
	kind := webhookdomain.KindOf(event.Type)
	if kind == webhookdomain.KindOther {
		metrics.Billing().IncWebhookEvent(event.Type, "ignored")
		return s.markProcessed(ctx, event)
	}

	var envelope webhookdomain.Envelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		metrics.Billing().IncWebhookEvent(event.Type, "error")
		return fmt.Errorf("malformed event payload: %w", err)
	}
	var payload webhookdomain.InvoicePayload
	if err := json.Unmarshal(envelope.Data.Object, &payload); err != nil {
		metrics.Billing().IncWebhookEvent(event.Type, "error")
		return fmt.Errorf("malformed invoice object: %w", err)
	}

	invoice, err := s.invoiceSvc.GetByStripeInvoiceID(ctx, payload.ID)
	if err != nil {
		metrics.Billing().IncWebhookEvent(event.Type, "error")
		return fmt.Errorf("resolve invoice for stripe invoice %s: %w", payload.ID, err)
	}

	switch kind {
	case webhookdomain.KindPaymentSucceeded:
		err = s.handlePaymentSucceeded(ctx, invoice, &payload)
	case webhookdomain.KindPaymentFailed:
		err = s.handlePaymentFailed(ctx, invoice, &payload)
	}
	if err != nil {
		metrics.Billing().IncWebhookEvent(event.Type, "error")
		return err
	}

	metrics.Billing().IncWebhookEvent(event.Type, "processed")
	return s.markProcessed(ctx, event)
}

// handlePaymentSucceeded forces the invoice to Paid regardless of the prior
// projection and lifts any payment-driven suspension on the team's sites.
func (s *Service) handlePaymentSucceeded(ctx context.Context, invoice *invoicedomain.Invoice, payload *webhookdomain.InvoicePayload) error {
	var paymentDate *time.Time
	if payload.StatusTransitions.PaidAt != nil {
		t := time.Unix(*payload.StatusTransitions.PaidAt, 0).UTC()
		paymentDate = &t
	}

	var endingBalance float64
	if payload.EndingBalance != nil {
		endingBalance = float64(*payload.EndingBalance) / 100
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Exec(
			`UPDATE invoices
			 SET status = ?, doc_status = ?, payment_date = ?,
			     amount_due = ?, amount_paid = ?,
			     starting_balance = ?, ending_balance = ?,
			     stripe_invoice_url = ?, updated_at = ?
			 WHERE id = ?`,
			invoicedomain.StatusPaid,
			invoicedomain.DocStatusSubmitted,
			paymentDate,
			float64(payload.AmountDue)/100,
			float64(payload.AmountPaid)/100,
			float64(payload.StartingBalance)/100,
			endingBalance,
			payload.HostedInvoiceURL,
			time.Now().UTC(),
			invoice.ID,
		).Error
	})
	if err != nil {
		return err
	}

	reason := fmt.Sprintf("Payment received for invoice %s", invoice.ID)
	if err := s.teamSvc.UnsuspendSites(ctx, invoice.TeamID, reason); err != nil {
		return err
	}

	s.log.Info("invoice paid",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("stripe_invoice_id", payload.ID),
	)
	return nil
}

// handlePaymentFailed records the attempt as the gateway reported it. The
// attempt count and date are stored verbatim, never derived locally; a payload
// without a delivery timestamp stores a null attempt date. Suspension only
// fires from the second failure onward, and the notification goes out only
// when the suspend call actually changed site state.
func (s *Service) handlePaymentFailed(ctx context.Context, invoice *invoicedomain.Invoice, payload *webhookdomain.InvoicePayload) error {
	attemptCount := invoice.PaymentAttemptCount
	if payload.AttemptCount != nil {
		attemptCount = *payload.AttemptCount
	}
	var attemptDate *time.Time
	if payload.WebhooksDeliveredAt != nil {
		t := time.Unix(*payload.WebhooksDeliveredAt, 0).UTC()
		attemptDate = &t
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Exec(
			`UPDATE invoices
			 SET status = ?, payment_attempt_count = ?, payment_attempt_date = ?, updated_at = ?
			 WHERE id = ?`,
			invoicedomain.StatusUnpaid,
			attemptCount,
			attemptDate,
			time.Now().UTC(),
			invoice.ID,
		).Error
	})
	if err != nil {
		return err
	}

	if attemptCount <= 1 {
		return nil
	}

	reason := fmt.Sprintf("Payment failed for invoice %s", invoice.ID)
	suspended, err := s.teamSvc.SuspendSites(ctx, invoice.TeamID, reason)
	if err != nil {
		return err
	}
	s.log.Warn("payment failed",
		zap.String("invoice_id", invoice.ID.String()),
		zap.Int("attempt_count", attemptCount),
		zap.Int("sites_suspended", len(suspended)),
	)
	if len(suspended) == 0 {
		return nil
	}
	return s.sendPaymentFailedEmail(ctx, invoice, payload, suspended)
}

var paymentFailedTemplate = template.Must(template.New("payment_failed").Parse(`
<p>Hi,</p>
<p>We could not collect payment of <strong>{{ .Amount }}</strong> for your invoice
{{ if .Last4 }}using the card ending in {{ .Last4 }}{{ end }}.</p>
<p>The following sites have been suspended until the invoice is settled:</p>
<ul>{{ range .Sites }}<li>{{ . }}</li>{{ end }}</ul>
<p><a href="{{ .PayURL }}">Pay the invoice</a> or
<a href="{{ .AccountURL }}">update your payment method</a> to restore service.</p>
`))

func (s *Service) sendPaymentFailedEmail(ctx context.Context, invoice *invoicedomain.Invoice, payload *webhookdomain.InvoicePayload, suspended []string) error {
	last4 := ""
	method, err := s.teamSvc.DefaultPaymentMethod(ctx, invoice.TeamID)
	if err != nil {
		return err
	}
	if method != nil {
		last4 = method.Last4
	}

	var body bytes.Buffer
	err = paymentFailedTemplate.Execute(&body, map[string]any{
		"Amount":     formatAmount(float64(payload.AmountDue)/100, invoice.Currency),
		"Last4":      last4,
		"Sites":      suspended,
		"PayURL":     payload.HostedInvoiceURL,
		"AccountURL": s.cfg.DashboardURL + "/billing",
	})
	if err != nil {
		return err
	}

	return s.email.Send(ctx, []string{invoice.CustomerEmail}, "Payment failed: sites suspended", body.String())
}

func formatAmount(amount float64, currency string) string {
	switch strings.ToUpper(currency) {
	case "USD":
		return fmt.Sprintf("$%.2f", amount)
	case "INR":
		return fmt.Sprintf("₹%.2f", amount)
	default:
		return fmt.Sprintf("%.2f %s", amount, strings.ToUpper(currency))
	}
}

func (s *Service) markProcessed(ctx context.Context, event *webhookdomain.Event) error {
	now := time.Now().UTC()
	event.ProcessedAt = &now
	return s.db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET processed_at = ? WHERE id = ?`,
		now,
		event.ID,
	).Error
}
