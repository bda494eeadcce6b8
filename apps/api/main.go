package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/hostflow/billing/internal/clock"
	"github.com/hostflow/billing/internal/config"
	"github.com/hostflow/billing/internal/gateway"
	"github.com/hostflow/billing/internal/invoice"
	"github.com/hostflow/billing/internal/logger"
	"github.com/hostflow/billing/internal/migration"
	"github.com/hostflow/billing/internal/plan"
	"github.com/hostflow/billing/internal/providers"
	"github.com/hostflow/billing/internal/server"
	"github.com/hostflow/billing/internal/team"
	"github.com/hostflow/billing/internal/webhook"
	"github.com/hostflow/billing/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		team.Module,
		plan.Module,
		gateway.Module,
		invoice.Module,
		providers.Module,
		webhook.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
