package migration

import (
	"github.com/hostflow/billing/internal/config"
	"github.com/hostflow/billing/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else if err := AutoMigrate(conn); err != nil {
			return err
		}

		if err := seed.EnsurePlans(conn); err != nil {
			return err
		}
		if cfg.Environment == "development" {
			return seed.EnsureDemoTeam(conn)
		}
		return nil
	}),
)
