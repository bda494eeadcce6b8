// Package domain contains pricing plan models.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Plan is a site hosting plan priced per active day.
type Plan struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	Name           string       `gorm:"type:text;not null"`
	Title          string       `gorm:"type:text;not null"`
	PriceUSDPerDay float64      `gorm:"not null;default:0"`
	PriceINRPerDay float64      `gorm:"not null;default:0"`
	Enabled        bool         `gorm:"not null;default:true"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Plan) TableName() string { return "plans" }

var (
	ErrPlanNotFound        = errors.New("plan_not_found")
	ErrUnsupportedCurrency = errors.New("unsupported_currency")
)

// PricePerDay returns the plan's day price in the given currency.
func (p Plan) PricePerDay(currency string) (float64, error) {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "USD":
		return p.PriceUSDPerDay, nil
	case "INR":
		return p.PriceINRPerDay, nil
	default:
		return 0, ErrUnsupportedCurrency
	}
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Plan, error)
}
