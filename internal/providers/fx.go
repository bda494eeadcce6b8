package providers

import (
	"github.com/hostflow/billing/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
)
