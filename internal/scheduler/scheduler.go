// Package scheduler drives the periodic billing sweep: submitting finished
// draft invoices to the payment gateway and seeding the next period's drafts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hostflow/billing/internal/clock"
	invoicedomain "github.com/hostflow/billing/internal/invoice/domain"
	obsmetrics "github.com/hostflow/billing/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	InvoiceSvc invoicedomain.Service
	Clock      clock.Clock
	Config     Config `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.InvoiceSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	billingMetrics := obsmetrics.Billing()
	billingMetrics.IncJobRun(name)

	err := fn(parent)
	billingMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err == nil {
		return nil
	}
	billingMetrics.IncJobError(name, "run")
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, "submit_invoices", s.SubmitInvoicesJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SubmitInvoicesJob picks up draft invoices whose billing period has ended
// with a positive total and submits each one. Per invoice it also seeds the
// following period's draft when none exists yet. Submission and seeding are
// independent failure domains: neither failure stops the other, nor the rest
// of the batch.
func (s *Scheduler) SubmitInvoicesJob(ctx context.Context) error {
	today := startOfDay(s.clock.Now().UTC())

	var invoices []invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("doc_status = ? AND period_end < ? AND total > 0",
			invoicedomain.DocStatusDraft, today).
		Order("id").
		Limit(s.cfg.SubmitBatchSize).
		Find(&invoices).Error
	if err != nil {
		return err
	}

	var jobErr error
	processed := 0
	for i := range invoices {
		invoice := &invoices[i]

		if err := s.invoiceSvc.Submit(ctx, invoice.ID); err != nil {
			obsmetrics.Billing().IncJobError("submit_invoices", "submit")
			s.log.Warn("invoice submission failed",
				zap.String("invoice_id", invoice.ID.String()),
				zap.Error(err),
			)
			jobErr = errors.Join(jobErr, fmt.Errorf("submit invoice %s: %w", invoice.ID, err))
		} else {
			processed++
		}

		if err := s.seedNextPeriod(ctx, invoice); err != nil {
			obsmetrics.Billing().IncJobError("submit_invoices", "seed_next_period")
			jobErr = errors.Join(jobErr, err)
		}
	}

	obsmetrics.Billing().AddBatchProcessed("submit_invoices", processed)
	s.log.Info("submission sweep finished",
		zap.Int("picked_up", len(invoices)),
		zap.Int("submitted", processed),
	)
	return jobErr
}

func (s *Scheduler) seedNextPeriod(ctx context.Context, invoice *invoicedomain.Invoice) error {
	month, year := nextPeriod(invoice.Month, invoice.Year)

	draft, err := s.invoiceSvc.DraftForPeriod(ctx, invoice.TeamID, month, year)
	if err != nil {
		return s.seedError(invoice.TeamID, month, year, err)
	}
	if draft != nil {
		return nil
	}

	if _, err := s.invoiceSvc.CreateForPeriod(ctx, invoice.TeamID, month, year); err != nil {
		// A concurrent sweep may have created it in between.
		if errors.Is(err, invoicedomain.ErrDuplicateInvoice) {
			return nil
		}
		return s.seedError(invoice.TeamID, month, year, err)
	}
	return nil
}

func (s *Scheduler) seedError(teamID snowflake.ID, month, year int, err error) error {
	s.log.Warn("next period invoice creation failed",
		zap.String("team_id", teamID.String()),
		zap.Int("month", month),
		zap.Int("year", year),
		zap.Error(err),
	)
	return fmt.Errorf("seed invoice for team %s period %d-%02d: %w", teamID, year, month, err)
}

func nextPeriod(month, year int) (int, int) {
	if month == 12 {
		return 1, year + 1
	}
	return month + 1, year
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
