// Package seed bootstraps default data so a fresh install is usable
// immediately: the standard hosting plans, and in development a demo team
// with a couple of sites.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/hostflow/billing/internal/plan/domain"
	teamdomain "github.com/hostflow/billing/internal/team/domain"
	"gorm.io/gorm"
)

var defaultPlans = []plandomain.Plan{
	{Name: "basic", Title: "Basic", PriceUSDPerDay: 0.34, PriceINRPerDay: 27.0},
	{Name: "standard", Title: "Standard", PriceUSDPerDay: 0.84, PriceINRPerDay: 67.0},
	{Name: "premium", Title: "Premium", PriceUSDPerDay: 1.67, PriceINRPerDay: 134.0},
}

// EnsurePlans inserts the standard plans when they are missing. Existing
// plans are left untouched so price edits survive restarts.
func EnsurePlans(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, plan := range defaultPlans {
			var existing plandomain.Plan
			err := tx.Where("name = ?", plan.Name).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			plan.ID = node.Generate()
			plan.Enabled = true
			if err := tx.Create(&plan).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureDemoTeam seeds a demo team with two active sites for local
// development. It is a no-op when any team already exists.
func EnsureDemoTeam(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&teamdomain.Team{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		var basic plandomain.Plan
		if err := tx.Where("name = ?", "basic").First(&basic).Error; err != nil {
			return err
		}

		team := teamdomain.Team{
			ID:       node.Generate(),
			Name:     "Demo Team",
			User:     "demo@hostflow.cloud",
			Currency: "USD",
			Enabled:  true,
		}
		if err := tx.Create(&team).Error; err != nil {
			return err
		}

		for _, name := range []string{"demo-blog.hostflow.cloud", "demo-shop.hostflow.cloud"} {
			site := teamdomain.Site{
				ID:     node.Generate(),
				TeamID: team.ID,
				Name:   name,
				PlanID: basic.ID,
				Status: teamdomain.SiteStatusActive,
			}
			if err := tx.Create(&site).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
