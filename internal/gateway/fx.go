package gateway

import (
	"github.com/hostflow/billing/internal/config"
	gatewaydomain "github.com/hostflow/billing/internal/gateway/domain"
	"github.com/hostflow/billing/internal/gateway/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewClient(cfg config.Config, log *zap.Logger) gatewaydomain.Client {
	return stripe.NewClient(cfg.Stripe.SecretKey, log)
}

var Module = fx.Module("gateway",
	fx.Provide(NewClient),
)
