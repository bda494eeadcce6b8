package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/hostflow/billing/internal/gateway/domain"
	invoicedomain "github.com/hostflow/billing/internal/invoice/domain"
	plandomain "github.com/hostflow/billing/internal/plan/domain"
	teamdomain "github.com/hostflow/billing/internal/team/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	TeamSvc teamdomain.Service
	PlanSvc plandomain.Service
	Gateway gatewaydomain.Client
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	teamSvc teamdomain.Service
	planSvc plandomain.Service
	gateway gatewaydomain.Client
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("invoice.service"),
		genID:   p.GenID,
		teamSvc: p.TeamSvc,
		planSvc: p.PlanSvc,
		gateway: p.Gateway,
	}
}

// runValidations executes the ordered validation pipeline. Any failing step
// aborts the remaining ones. The duplicate guard runs on creation only.
func (s *Service) runValidations(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, isNew bool) error {
	if err := s.validateTeam(ctx, invoice); err != nil {
		return err
	}
	derivePeriod(invoice)
	if isNew {
		if err := s.validateDuplicate(ctx, tx, invoice); err != nil {
			return err
		}
	}
	if err := s.validateItems(ctx, invoice); err != nil {
		return err
	}
	s.validateAmount(invoice)
	return nil
}

func (s *Service) validateTeam(ctx context.Context, invoice *invoicedomain.Invoice) error {
	team, err := s.teamSvc.Get(ctx, invoice.TeamID)
	if err != nil {
		return err
	}

	invoice.CustomerName = team.Name
	invoice.CustomerEmail = team.User
	invoice.Currency = team.Currency
	if strings.TrimSpace(invoice.Currency) == "" {
		return fmt.Errorf("%w: currency is not set on team %s", invoicedomain.ErrCurrencyMissing, invoice.TeamID)
	}
	return nil
}

func (s *Service) validateDuplicate(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	var existing snowflake.ID
	err := tx.WithContext(ctx).Raw(
		`SELECT id
		 FROM invoices
		 WHERE team_id = ? AND period_start = ? AND period_end = ?
		 LIMIT 1`,
		invoice.TeamID,
		invoice.PeriodStart,
		invoice.PeriodEnd,
	).Scan(&existing).Error
	if err != nil {
		return err
	}
	if existing != 0 {
		return &invoicedomain.DuplicateError{Existing: existing}
	}
	return nil
}

// validateItems rebuilds the line items from the usage rows. Rows with zero
// active days are dropped; the items list is replaced wholesale, never merged.
func (s *Service) validateItems(ctx context.Context, invoice *invoicedomain.Invoice) error {
	usage := invoice.SiteUsage[:0]
	for _, row := range invoice.SiteUsage {
		if row.DaysActive > 0 {
			usage = append(usage, row)
		}
	}
	invoice.SiteUsage = usage

	items := make([]invoicedomain.InvoiceItem, 0, len(usage))
	for _, row := range usage {
		plan, err := s.planSvc.Get(ctx, row.PlanID)
		if err != nil {
			return err
		}
		pricePerDay, err := plan.PricePerDay(invoice.Currency)
		if err != nil {
			return err
		}

		items = append(items, invoicedomain.InvoiceItem{
			ID:          s.genID.Generate(),
			InvoiceID:   invoice.ID,
			SiteID:      row.SiteID,
			PlanID:      row.PlanID,
			Quantity:    row.DaysActive,
			Rate:        pricePerDay,
			Amount:      float64(row.DaysActive) * pricePerDay,
			Description: fmt.Sprintf("%s active for %d days on %s plan", row.SiteName, row.DaysActive, plan.Title),
		})
	}
	invoice.Items = items
	return nil
}

func (s *Service) validateAmount(invoice *invoicedomain.Invoice) {
	var total float64
	for _, item := range invoice.Items {
		total += item.Amount
	}
	invoice.Total = total
}

func (s *Service) Create(ctx context.Context, invoice *invoicedomain.Invoice) error {
	if invoice.ID == 0 {
		invoice.ID = s.genID.Generate()
	}
	invoice.Status = invoicedomain.StatusDraft
	invoice.DocStatus = invoicedomain.DocStatusDraft

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.runValidations(ctx, tx, invoice, true); err != nil {
			return err
		}

		now := time.Now().UTC()
		invoice.CreatedAt = now
		invoice.UpdatedAt = now
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}
		return s.replaceChildRows(ctx, tx, invoice)
	})
}

func (s *Service) Save(ctx context.Context, invoice *invoicedomain.Invoice) error {
	if invoice.DocStatus != invoicedomain.DocStatusDraft {
		return invoicedomain.ErrInvoiceNotDraft
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.runValidations(ctx, tx, invoice, false); err != nil {
			return err
		}
		invoice.UpdatedAt = time.Now().UTC()
		if err := tx.Save(invoice).Error; err != nil {
			return err
		}
		return s.replaceChildRows(ctx, tx, invoice)
	})
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).First(&invoice, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoicedomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	if err := s.loadChildren(ctx, s.db, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (s *Service) GetByStripeInvoiceID(ctx context.Context, stripeInvoiceID string) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).First(&invoice, "stripe_invoice_id = ?", stripeInvoiceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoicedomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	if err := s.loadChildren(ctx, s.db, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// Submit runs the gateway protocol inside the submission transaction. If the
// gateway sequence fails, the transaction rolls back; the stripe invoice id
// obtained before the failure is then persisted directly so the idempotency
// anchor survives for the next retry, and a trace comment is attached.
func (s *Service) Submit(ctx context.Context, id snowflake.ID) error {
	invoice, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if invoice.DocStatus != invoicedomain.DocStatusDraft {
		return invoicedomain.ErrInvoiceNotDraft
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.runValidations(ctx, tx, invoice, false); err != nil {
			return err
		}
		if err := s.syncGatewayInvoice(ctx, invoice); err != nil {
			return err
		}

		invoice.DocStatus = invoicedomain.DocStatusSubmitted
		invoice.UpdatedAt = time.Now().UTC()
		if err := tx.Save(invoice).Error; err != nil {
			return err
		}
		return s.replaceChildRows(ctx, tx, invoice)
	})
	if err != nil {
		s.recordSubmitFailure(ctx, invoice, err)
		return err
	}

	s.log.Info("invoice submitted",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("stripe_invoice_id", invoice.StripeInvoiceID),
		zap.String("status", string(invoice.Status)),
	)
	return nil
}

// syncGatewayInvoice drives create → retrieve → finalize against the gateway
// and maps the remote state back onto the invoice. The local invoice id is
// the idempotency key on every create/finalize attempt, so retries can never
// produce a second remote invoice.
func (s *Service) syncGatewayInvoice(ctx context.Context, invoice *invoicedomain.Invoice) error {
	team, err := s.teamSvc.Get(ctx, invoice.TeamID)
	if err != nil {
		return err
	}

	var remote *gatewaydomain.Invoice
	if invoice.StripeInvoiceID == "" {
		label := periodLabel(invoice.PeriodStart, invoice.PeriodEnd)
		err = s.gateway.CreateInvoiceItem(ctx, gatewaydomain.CreateInvoiceItemParams{
			Customer:       team.StripeCustomerID,
			Description:    fmt.Sprintf("Hostflow Subscription (%s)", label),
			Amount:         int64(math.Round(invoice.Total * 100)),
			Currency:       strings.ToLower(invoice.Currency),
			IdempotencyKey: invoice.ID.String() + "-item",
		})
		if err != nil {
			return err
		}

		remote, err = s.gateway.CreateInvoice(ctx, gatewaydomain.CreateInvoiceParams{
			Customer:         team.StripeCustomerID,
			CollectionMethod: "charge_automatically",
			AutoAdvance:      true,
			IdempotencyKey:   invoice.ID.String(),
		})
		if err != nil {
			return err
		}
		invoice.StripeInvoiceID = remote.ID
	}

	if remote == nil {
		remote, err = s.gateway.RetrieveInvoice(ctx, invoice.StripeInvoiceID)
		if err != nil {
			return err
		}
	}

	if remote.Status == gatewaydomain.InvoiceStatusDraft {
		remote, err = s.gateway.FinalizeInvoice(ctx, invoice.StripeInvoiceID, invoice.ID.String())
		if err != nil {
			return err
		}
	}

	invoice.StartingBalance = float64(remote.StartingBalance) / 100
	invoice.EndingBalance = 0
	if remote.EndingBalance != nil {
		invoice.EndingBalance = float64(*remote.EndingBalance) / 100
	}
	invoice.AmountDue = float64(remote.AmountDue) / 100
	invoice.AmountPaid = float64(remote.AmountPaid) / 100
	invoice.StripeInvoiceURL = remote.HostedInvoiceURL

	if invoice.AmountDue == 0 {
		invoice.Status = invoicedomain.StatusPaid
	} else {
		invoice.Status = invoicedomain.StatusUnpaid
	}
	return nil
}

// recordSubmitFailure preserves the idempotency anchor and attaches the
// failure trace, outside the rolled-back submission transaction.
func (s *Service) recordSubmitFailure(ctx context.Context, invoice *invoicedomain.Invoice, cause error) {
	if invoice.StripeInvoiceID != "" {
		if err := s.db.WithContext(ctx).Exec(
			`UPDATE invoices SET stripe_invoice_id = ?, updated_at = ? WHERE id = ?`,
			invoice.StripeInvoiceID,
			time.Now().UTC(),
			invoice.ID,
		).Error; err != nil {
			s.log.Error("failed to persist stripe invoice id after rollback",
				zap.String("invoice_id", invoice.ID.String()),
				zap.Error(err),
			)
		}
	}

	comment := invoicedomain.Comment{
		ID:        s.genID.Generate(),
		InvoiceID: invoice.ID,
		Content:   "Submission failed\n\n" + cause.Error(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.log.Error("failed to attach failure comment",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	}

	s.log.Warn("invoice submission failed",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("stripe_invoice_id", invoice.StripeInvoiceID),
		zap.Error(cause),
	)
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID) error {
	invoice, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if invoice.DocStatus != invoicedomain.DocStatusSubmitted {
		return invoicedomain.ErrNotSubmitted
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.unlinkLedgerEntries(ctx, tx, invoice.ID); err != nil {
			return err
		}
		return tx.Exec(
			`UPDATE invoices SET doc_status = ?, updated_at = ? WHERE id = ?`,
			invoicedomain.DocStatusCancelled,
			time.Now().UTC(),
			invoice.ID,
		).Error
	})
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	invoice, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.unlinkLedgerEntries(ctx, tx, invoice.ID); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM invoice_items WHERE invoice_id = ?`,
			`DELETE FROM invoice_site_usage WHERE invoice_id = ?`,
			`DELETE FROM invoice_comments WHERE invoice_id = ?`,
			`DELETE FROM invoices WHERE id = ?`,
		} {
			if err := tx.Exec(stmt, invoice.ID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// unlinkLedgerEntries clears the invoice reference on every payment ledger
// entry pointing at this invoice, stamped with modification metadata. Entries
// themselves are never deleted. Runs identically for cancel and delete.
func (s *Service) unlinkLedgerEntries(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE payment_ledger_entries
		 SET invoice_id = NULL, modified_at = ?, modified_by = ?
		 WHERE invoice_id = ?`,
		time.Now().UTC(),
		"system",
		invoiceID,
	).Error
}

func (s *Service) CreateForPeriod(ctx context.Context, teamID snowflake.ID, month, year int) (*invoicedomain.Invoice, error) {
	sites, err := s.teamSvc.ActiveSites(ctx, teamID)
	if err != nil {
		return nil, err
	}

	invoice := &invoicedomain.Invoice{
		ID:     s.genID.Generate(),
		TeamID: teamID,
		Month:  month,
		Year:   year,
	}
	for _, site := range sites {
		invoice.SiteUsage = append(invoice.SiteUsage, invoicedomain.SiteUsage{
			ID:        s.genID.Generate(),
			InvoiceID: invoice.ID,
			SiteID:    site.ID,
			SiteName:  site.Name,
			PlanID:    site.PlanID,
		})
	}

	if err := s.Create(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) DraftForPeriod(ctx context.Context, teamID snowflake.ID, month, year int) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND month = ? AND year = ? AND doc_status = ?",
			teamID, month, year, invoicedomain.DocStatusDraft).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (s *Service) replaceChildRows(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	if err := tx.WithContext(ctx).Exec(`DELETE FROM invoice_items WHERE invoice_id = ?`, invoice.ID).Error; err != nil {
		return err
	}
	if err := tx.WithContext(ctx).Exec(`DELETE FROM invoice_site_usage WHERE invoice_id = ?`, invoice.ID).Error; err != nil {
		return err
	}

	for i := range invoice.Items {
		if invoice.Items[i].ID == 0 {
			invoice.Items[i].ID = s.genID.Generate()
		}
		invoice.Items[i].InvoiceID = invoice.ID
		if err := tx.WithContext(ctx).Create(&invoice.Items[i]).Error; err != nil {
			return err
		}
	}
	for i := range invoice.SiteUsage {
		if invoice.SiteUsage[i].ID == 0 {
			invoice.SiteUsage[i].ID = s.genID.Generate()
		}
		invoice.SiteUsage[i].InvoiceID = invoice.ID
		if err := tx.WithContext(ctx).Create(&invoice.SiteUsage[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) loadChildren(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	if err := tx.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("id").
		Find(&invoice.Items).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("id").
		Find(&invoice.SiteUsage).Error
}
