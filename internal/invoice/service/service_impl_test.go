package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/hostflow/billing/internal/gateway/gatewaytest"
	invoicedomain "github.com/hostflow/billing/internal/invoice/domain"
	ledgerdomain "github.com/hostflow/billing/internal/ledger/domain"
	plandomain "github.com/hostflow/billing/internal/plan/domain"
	planservice "github.com/hostflow/billing/internal/plan/service"
	teamdomain "github.com/hostflow/billing/internal/team/domain"
	teamservice "github.com/hostflow/billing/internal/team/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	node    *snowflake.Node
	gateway *gatewaytest.FakeClient
	svc     invoicedomain.Service

	team *teamdomain.Team
	plan *plandomain.Plan
	site *teamdomain.Site
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&teamdomain.Team{},
		&teamdomain.Site{},
		&teamdomain.PaymentMethod{},
		&plandomain.Plan{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.SiteUsage{},
		&invoicedomain.Comment{},
		&ledgerdomain.PaymentLedgerEntry{},
	))
	return db
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	team := &teamdomain.Team{
		ID:               node.Generate(),
		Name:             "Acme Hosting",
		User:             "owner@acme.test",
		Currency:         "USD",
		StripeCustomerID: "cus_acme",
		Enabled:          true,
	}
	require.NoError(t, db.Create(team).Error)

	plan := &plandomain.Plan{
		ID:             node.Generate(),
		Name:           "standard",
		Title:          "Standard",
		PriceUSDPerDay: 2.0,
		PriceINRPerDay: 160.0,
		Enabled:        true,
	}
	require.NoError(t, db.Create(plan).Error)

	site := &teamdomain.Site{
		ID:     node.Generate(),
		TeamID: team.ID,
		Name:   "acme-blog.hostflow.cloud",
		PlanID: plan.ID,
		Status: teamdomain.SiteStatusActive,
	}
	require.NoError(t, db.Create(site).Error)

	fake := gatewaytest.NewFakeClient()
	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		TeamSvc: teamservice.NewService(teamservice.ServiceParam{DB: db, Log: zap.NewNop()}),
		PlanSvc: planservice.NewService(planservice.ServiceParam{DB: db, Log: zap.NewNop()}),
		Gateway: fake,
	})

	return &testEnv{db: db, node: node, gateway: fake, svc: svc, team: team, plan: plan, site: site}
}

func (e *testEnv) newDraft(t *testing.T, daysActive int) *invoicedomain.Invoice {
	t.Helper()

	invoice := &invoicedomain.Invoice{
		TeamID: e.team.ID,
		Month:  1,
		Year:   2024,
		SiteUsage: []invoicedomain.SiteUsage{
			{SiteID: e.site.ID, SiteName: e.site.Name, PlanID: e.plan.ID, DaysActive: daysActive},
		},
	}
	require.NoError(t, e.svc.Create(context.Background(), invoice))
	return invoice
}

func TestCreateBuildsLineItems(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	invoice := &invoicedomain.Invoice{
		TeamID: env.team.ID,
		Month:  1,
		Year:   2024,
		SiteUsage: []invoicedomain.SiteUsage{
			{SiteID: env.site.ID, SiteName: env.site.Name, PlanID: env.plan.ID, DaysActive: 30},
			{SiteID: env.node.Generate(), SiteName: "idle.hostflow.cloud", PlanID: env.plan.ID, DaysActive: 0},
		},
	}
	require.NoError(t, env.svc.Create(ctx, invoice))

	got, err := env.svc.GetByID(ctx, invoice.ID)
	require.NoError(t, err)

	assert.Equal(t, "Acme Hosting", got.CustomerName)
	assert.Equal(t, "owner@acme.test", got.CustomerEmail)
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, invoicedomain.StatusDraft, got.Status)
	assert.Equal(t, invoicedomain.DocStatusDraft, got.DocStatus)

	// The zero-day row is dropped; 30 days at $2/day.
	require.Len(t, got.Items, 1)
	assert.Equal(t, 30, got.Items[0].Quantity)
	assert.Equal(t, 2.0, got.Items[0].Rate)
	assert.Equal(t, 60.0, got.Items[0].Amount)
	assert.Equal(t, 60.0, got.Total)
	require.Len(t, got.SiteUsage, 1)
	assert.Equal(t, env.site.ID, got.SiteUsage[0].SiteID)
}

func TestCreateDuplicatePeriodRejected(t *testing.T) {
	env := setupEnv(t)
	first := env.newDraft(t, 10)

	dup := &invoicedomain.Invoice{
		TeamID: env.team.ID,
		Month:  1,
		Year:   2024,
	}
	err := env.svc.Create(context.Background(), dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, invoicedomain.ErrDuplicateInvoice)

	var dupErr *invoicedomain.DuplicateError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, first.ID, dupErr.Existing)
}

func TestCreateMissingCurrency(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, env.db.Exec(`UPDATE teams SET currency = '' WHERE id = ?`, env.team.ID).Error)

	invoice := &invoicedomain.Invoice{TeamID: env.team.ID, Month: 1, Year: 2024}
	err := env.svc.Create(context.Background(), invoice)
	assert.ErrorIs(t, err, invoicedomain.ErrCurrencyMissing)
}

func TestSaveReplacesItemsWholesale(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	invoice := env.newDraft(t, 10)

	invoice.SiteUsage = []invoicedomain.SiteUsage{
		{SiteID: env.site.ID, SiteName: env.site.Name, PlanID: env.plan.ID, DaysActive: 15},
	}
	require.NoError(t, env.svc.Save(ctx, invoice))

	got, err := env.svc.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 15, got.Items[0].Quantity)
	assert.Equal(t, 30.0, got.Total)
}

func TestSubmitOpenInvoice(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	invoice := env.newDraft(t, 30)

	require.NoError(t, env.svc.Submit(ctx, invoice.ID))

	got, err := env.svc.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.DocStatusSubmitted, got.DocStatus)
	assert.Equal(t, invoicedomain.StatusUnpaid, got.Status)
	assert.NotEmpty(t, got.StripeInvoiceID)
	assert.Equal(t, 60.0, got.AmountDue)
	assert.NotEmpty(t, got.StripeInvoiceURL)

	assert.Equal(t, 1, env.gateway.CreateItemCalls)
	assert.Equal(t, 1, env.gateway.CreateInvoiceCalls)
	assert.Equal(t, 1, env.gateway.FinalizeCalls)

	// The local invoice identity is the idempotency key on every call.
	assert.Equal(t, []string{invoice.ID.String() + "-item"}, env.gateway.ItemKeys)
	assert.Equal(t, []string{invoice.ID.String()}, env.gateway.InvoiceKeys)
}

func TestSubmitPaidWhenNothingDue(t *testing.T) {
	env := setupEnv(t)
	env.gateway.FinalizeStatusPaid = true
	invoice := env.newDraft(t, 30)

	require.NoError(t, env.svc.Submit(context.Background(), invoice.ID))

	got, err := env.svc.GetByID(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusPaid, got.Status)
	assert.Equal(t, 0.0, got.AmountDue)
	assert.Equal(t, 60.0, got.AmountPaid)
}

func TestSubmitFailureKeepsIdempotencyAnchor(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	invoice := env.newDraft(t, 30)

	env.gateway.FailFinalize = errors.New("gateway unavailable")
	err := env.svc.Submit(ctx, invoice.ID)
	require.Error(t, err)

	got, getErr := env.svc.GetByID(ctx, invoice.ID)
	require.NoError(t, getErr)
	// Submission rolled back, but the remote invoice id survives.
	assert.Equal(t, invoicedomain.DocStatusDraft, got.DocStatus)
	assert.NotEmpty(t, got.StripeInvoiceID)

	var comments int64
	require.NoError(t, env.db.Model(&invoicedomain.Comment{}).
		Where("invoice_id = ?", invoice.ID).Count(&comments).Error)
	assert.Equal(t, int64(1), comments)

	// Retry resumes against the existing remote invoice, no second create.
	env.gateway.FailFinalize = nil
	require.NoError(t, env.svc.Submit(ctx, invoice.ID))

	got, getErr = env.svc.GetByID(ctx, invoice.ID)
	require.NoError(t, getErr)
	assert.Equal(t, invoicedomain.DocStatusSubmitted, got.DocStatus)
	assert.Equal(t, 1, env.gateway.CreateInvoiceCalls)
	assert.Equal(t, 1, env.gateway.CreateItemCalls)
}

func TestSubmitRejectsNonDraft(t *testing.T) {
	env := setupEnv(t)
	invoice := env.newDraft(t, 30)

	require.NoError(t, env.svc.Submit(context.Background(), invoice.ID))
	err := env.svc.Submit(context.Background(), invoice.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotDraft)
}

func TestCancelUnlinksLedgerEntries(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	invoice := env.newDraft(t, 30)
	require.NoError(t, env.svc.Submit(ctx, invoice.ID))

	entryID := env.node.Generate()
	invoiceID := invoice.ID
	require.NoError(t, env.db.Create(&ledgerdomain.PaymentLedgerEntry{
		ID:        entryID,
		TeamID:    env.team.ID,
		InvoiceID: &invoiceID,
		Purpose:   ledgerdomain.PurposePayment,
		Amount:    60.0,
		Currency:  "USD",
	}).Error)

	require.NoError(t, env.svc.Cancel(ctx, invoice.ID))

	got, err := env.svc.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.DocStatusCancelled, got.DocStatus)

	var entry ledgerdomain.PaymentLedgerEntry
	require.NoError(t, env.db.First(&entry, "id = ?", entryID).Error)
	assert.Nil(t, entry.InvoiceID)
	assert.Equal(t, "system", entry.ModifiedBy)
}

func TestCancelRequiresSubmitted(t *testing.T) {
	env := setupEnv(t)
	invoice := env.newDraft(t, 5)

	err := env.svc.Cancel(context.Background(), invoice.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrNotSubmitted)
}

func TestDeleteRemovesInvoiceAndChildren(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	invoice := env.newDraft(t, 30)

	entryID := env.node.Generate()
	invoiceID := invoice.ID
	require.NoError(t, env.db.Create(&ledgerdomain.PaymentLedgerEntry{
		ID:        entryID,
		TeamID:    env.team.ID,
		InvoiceID: &invoiceID,
		Purpose:   ledgerdomain.PurposeCredit,
		Amount:    10.0,
		Currency:  "USD",
	}).Error)

	require.NoError(t, env.svc.Delete(ctx, invoice.ID))

	_, err := env.svc.GetByID(ctx, invoice.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)

	var items int64
	require.NoError(t, env.db.Model(&invoicedomain.InvoiceItem{}).
		Where("invoice_id = ?", invoice.ID).Count(&items).Error)
	assert.Equal(t, int64(0), items)

	// Ledger entries survive with the reference cleared.
	var entry ledgerdomain.PaymentLedgerEntry
	require.NoError(t, env.db.First(&entry, "id = ?", entryID).Error)
	assert.Nil(t, entry.InvoiceID)
}

func TestCreateForPeriodSeedsDraft(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	invoice, err := env.svc.CreateForPeriod(ctx, env.team.ID, 2, 2024)
	require.NoError(t, err)

	got, err := env.svc.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusDraft, got.Status)
	assert.Equal(t, 0.0, got.Total)
	assert.Equal(t, 2, got.Month)
	assert.Equal(t, 2024, got.Year)
	assert.Equal(t, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), got.PeriodEnd)
}

func TestDraftForPeriod(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	draft, err := env.svc.DraftForPeriod(ctx, env.team.ID, 3, 2024)
	require.NoError(t, err)
	assert.Nil(t, draft)

	created, err := env.svc.CreateForPeriod(ctx, env.team.ID, 3, 2024)
	require.NoError(t, err)

	draft, err = env.svc.DraftForPeriod(ctx, env.team.ID, 3, 2024)
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, created.ID, draft.ID)
}
