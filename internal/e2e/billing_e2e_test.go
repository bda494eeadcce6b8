package e2e

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/hostflow/billing/internal/clock"
	"github.com/hostflow/billing/internal/config"
	"github.com/hostflow/billing/internal/gateway/gatewaytest"
	invoicedomain "github.com/hostflow/billing/internal/invoice/domain"
	invoiceservice "github.com/hostflow/billing/internal/invoice/service"
	"github.com/hostflow/billing/internal/migration"
	plandomain "github.com/hostflow/billing/internal/plan/domain"
	planservice "github.com/hostflow/billing/internal/plan/service"
	"github.com/hostflow/billing/internal/providers/email"
	"github.com/hostflow/billing/internal/scheduler"
	"github.com/hostflow/billing/internal/server"
	teamdomain "github.com/hostflow/billing/internal/team/domain"
	teamservice "github.com/hostflow/billing/internal/team/service"
	webhookservice "github.com/hostflow/billing/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_e2e"

type stack struct {
	db      *gorm.DB
	node    *snowflake.Node
	gateway *gatewaytest.FakeClient
	clock   *clock.FakeClock

	invoiceSvc invoicedomain.Service
	sched      *scheduler.Scheduler
	httpSrv    *httptest.Server

	team *teamdomain.Team
	plan *plandomain.Plan
	site *teamdomain.Site
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:memdb_e2e_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(db))

	node, err := snowflake.NewNode(11)
	require.NoError(t, err)

	cfg := config.Config{
		Environment:  "test",
		DashboardURL: "https://dashboard.hostflow.test",
	}
	cfg.Stripe.WebhookSecret = webhookSecret

	log := zap.NewNop()
	teamSvc := teamservice.NewService(teamservice.ServiceParam{DB: db, Log: log})
	planSvc := planservice.NewService(planservice.ServiceParam{DB: db, Log: log})
	fake := gatewaytest.NewFakeClient()
	invoiceSvc := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:      db,
		Log:     log,
		GenID:   node,
		TeamSvc: teamSvc,
		PlanSvc: planSvc,
		Gateway: fake,
	})
	webhookSvc := webhookservice.NewService(webhookservice.ServiceParam{
		Config:     cfg,
		DB:         db,
		Log:        log,
		GenID:      node,
		TeamSvc:    teamSvc,
		InvoiceSvc: invoiceSvc,
		Email:      &email.NoOpProvider{},
	})

	fakeClock := clock.NewFakeClock(time.Date(2024, time.February, 1, 6, 0, 0, 0, time.UTC))
	sched, err := scheduler.New(scheduler.Params{
		DB:         db,
		Log:        log,
		InvoiceSvc: invoiceSvc,
		Clock:      fakeClock,
	})
	require.NoError(t, err)

	engine := server.NewEngine(cfg, log)
	srv := server.NewServer(server.ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		DB:         db,
		InvoiceSvc: invoiceSvc,
		WebhookSvc: webhookSvc,
	})
	srv.RegisterRoutes()
	httpSrv := httptest.NewServer(engine)
	t.Cleanup(httpSrv.Close)

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

	return &stack{
		db:         db,
		node:       node,
		gateway:    fake,
		clock:      fakeClock,
		invoiceSvc: invoiceSvc,
		sched:      sched,
		httpSrv:    httpSrv,
		team:       team,
		plan:       plan,
		site:       site,
	}
}

func (s *stack) postWebhook(t *testing.T, eventID, eventType string, object map[string]any) *http.Response {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": eventType,
		"data": map[string]any{"object": object},
	})
	require.NoError(t, err)

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(timestamp + "." + string(body)))
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, s.httpSrv.URL+"/api/v1/webhooks/stripe", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", timestamp, signature))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *stack) reloadInvoice(t *testing.T, id snowflake.ID) *invoicedomain.Invoice {
	t.Helper()
	var invoice invoicedomain.Invoice
	require.NoError(t, s.db.First(&invoice, "id = ?", id).Error)
	return &invoice
}

func (s *stack) siteStatus(t *testing.T) teamdomain.SiteStatus {
	t.Helper()
	var site teamdomain.Site
	require.NoError(t, s.db.First(&site, "id = ?", s.site.ID).Error)
	return site.Status
}

// TestBillingCycle walks a full month of billing: draft creation, usage
// accrual, the submission sweep, two failed payment attempts driving
// suspension, and the final successful payment lifting it.
func TestBillingCycle(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	// January's draft, with a month of usage on one site.
	invoice, err := s.invoiceSvc.CreateForPeriod(ctx, s.team.ID, 1, 2024)
	require.NoError(t, err)

	invoice.SiteUsage = []invoicedomain.SiteUsage{
		{SiteID: s.site.ID, SiteName: s.site.Name, PlanID: s.plan.ID, DaysActive: 31},
	}
	require.NoError(t, s.invoiceSvc.Save(ctx, invoice))

	// February 1st: the sweep submits January and seeds February.
	require.NoError(t, s.sched.RunOnce(ctx))

	submitted := s.reloadInvoice(t, invoice.ID)
	require.Equal(t, invoicedomain.DocStatusSubmitted, submitted.DocStatus)
	require.Equal(t, invoicedomain.StatusUnpaid, submitted.Status)
	require.NotEmpty(t, submitted.StripeInvoiceID)
	assert.Equal(t, 62.0, submitted.AmountDue)

	febDraft, err := s.invoiceSvc.DraftForPeriod(ctx, s.team.ID, 2, 2024)
	require.NoError(t, err)
	require.NotNil(t, febDraft)

	// First payment attempt fails: recorded, no suspension.
	resp := s.postWebhook(t, "evt_fail_1", "invoice.payment_failed", map[string]any{
		"id":            submitted.StripeInvoiceID,
		"amount_due":    6200,
		"attempt_count": 1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, teamdomain.SiteStatusActive, s.siteStatus(t))

	// Second failure crosses the threshold and suspends the site.
	resp = s.postWebhook(t, "evt_fail_2", "invoice.payment_failed", map[string]any{
		"id":            submitted.StripeInvoiceID,
		"amount_due":    6200,
		"attempt_count": 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, teamdomain.SiteStatusSuspended, s.siteStatus(t))
	assert.Equal(t, 2, s.reloadInvoice(t, invoice.ID).PaymentAttemptCount)

	// Payment finally clears: invoice paid, site restored.
	resp = s.postWebhook(t, "evt_paid", "invoice.payment_succeeded", map[string]any{
		"id":                 submitted.StripeInvoiceID,
		"amount_due":         0,
		"amount_paid":        6200,
		"hosted_invoice_url": "https://pay.stripe.test/inv",
		"status_transitions": map[string]any{"paid_at": time.Date(2024, time.February, 3, 12, 0, 0, 0, time.UTC).Unix()},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	paid := s.reloadInvoice(t, invoice.ID)
	assert.Equal(t, invoicedomain.StatusPaid, paid.Status)
	assert.Equal(t, 62.0, paid.AmountPaid)
	assert.NotNil(t, paid.PaymentDate)
	assert.Equal(t, teamdomain.SiteStatusActive, s.siteStatus(t))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s := newStack(t)

	body := []byte(`{"id":"evt_x","type":"invoice.payment_succeeded","data":{"object":{}}}`)
	req, err := http.NewRequest(http.MethodPost, s.httpSrv.URL+"/api/v1/webhooks/stripe", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInvoiceEndpoints(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	invoice, err := s.invoiceSvc.CreateForPeriod(ctx, s.team.ID, 1, 2024)
	require.NoError(t, err)

	resp, err := http.Get(s.httpSrv.URL + "/api/v1/invoices/" + invoice.ID.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Data invoicedomain.Invoice `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, invoice.ID, payload.Data.ID)

	missing, err := http.Get(s.httpSrv.URL + "/api/v1/invoices/" + s.node.Generate().String())
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
