// Package domain contains persistence models for teams and their sites.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SiteStatus represents site lifecycle states.
type SiteStatus string

const (
	SiteStatusActive    SiteStatus = "Active"
	SiteStatusInactive  SiteStatus = "Inactive"
	SiteStatusSuspended SiteStatus = "Suspended"
	SiteStatusArchived  SiteStatus = "Archived"
)

// Team is a billing account owning sites on the platform.
type Team struct {
	ID                     snowflake.ID `gorm:"primaryKey"`
	Name                   string       `gorm:"type:text;not null"`
	User                   string       `gorm:"type:text;not null"`
	Currency               string       `gorm:"type:text"`
	StripeCustomerID       string       `gorm:"type:text;index"`
	DefaultPaymentMethodID *snowflake.ID
	Enabled                bool      `gorm:"not null;default:true"`
	CreatedAt              time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Team) TableName() string { return "teams" }

// Site is a hosted deployment billed through its team.
type Site struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	TeamID           snowflake.ID `gorm:"not null;index"`
	Name             string       `gorm:"type:text;not null"`
	PlanID           snowflake.ID `gorm:"not null;index"`
	Status           SiteStatus   `gorm:"type:text;not null;default:'Active'"`
	SuspensionReason string       `gorm:"type:text"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Site) TableName() string { return "sites" }

// PaymentMethod mirrors a card on file with the payment gateway.
type PaymentMethod struct {
	ID                    snowflake.ID `gorm:"primaryKey"`
	TeamID                snowflake.ID `gorm:"not null;index"`
	StripePaymentMethodID string       `gorm:"type:text;not null"`
	Brand                 string       `gorm:"type:text"`
	Last4                 string       `gorm:"type:text"`
	CreatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

var (
	ErrTeamNotFound = errors.New("team_not_found")
)

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Team, error)
	ActiveSites(ctx context.Context, teamID snowflake.ID) ([]Site, error)

	// SuspendSites suspends every active site of the team and returns the names
	// of sites actually suspended. Sites already suspended are skipped, so the
	// returned slice may be empty.
	SuspendSites(ctx context.Context, teamID snowflake.ID, reason string) ([]string, error)
	UnsuspendSites(ctx context.Context, teamID snowflake.ID, reason string) error

	// DefaultPaymentMethod returns the team's default card, or nil when none is on file.
	DefaultPaymentMethod(ctx context.Context, teamID snowflake.ID) (*PaymentMethod, error)
}
