package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	teamdomain "github.com/hostflow/billing/internal/team/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) teamdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("team.service"),
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*teamdomain.Team, error) {
	var team teamdomain.Team
	err := s.db.WithContext(ctx).First(&team, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, teamdomain.ErrTeamNotFound
		}
		return nil, err
	}
	return &team, nil
}

func (s *Service) ActiveSites(ctx context.Context, teamID snowflake.ID) ([]teamdomain.Site, error) {
	var sites []teamdomain.Site
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND status = ?", teamID, teamdomain.SiteStatusActive).
		Order("name").
		Find(&sites).Error
	if err != nil {
		return nil, err
	}
	return sites, nil
}

func (s *Service) SuspendSites(ctx context.Context, teamID snowflake.ID, reason string) ([]string, error) {
	var suspended []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sites []teamdomain.Site
		if err := tx.Where("team_id = ? AND status = ?", teamID, teamdomain.SiteStatusActive).
			Find(&sites).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, site := range sites {
			if err := tx.Exec(
				`UPDATE sites SET status = ?, suspension_reason = ?, updated_at = ? WHERE id = ?`,
				teamdomain.SiteStatusSuspended,
				reason,
				now,
				site.ID,
			).Error; err != nil {
				return err
			}
			suspended = append(suspended, site.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(suspended) > 0 {
		s.log.Info("suspended sites",
			zap.String("team_id", teamID.String()),
			zap.Strings("sites", suspended),
			zap.String("reason", reason),
		)
	}
	return suspended, nil
}

func (s *Service) UnsuspendSites(ctx context.Context, teamID snowflake.ID, reason string) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Exec(
		`UPDATE sites SET status = ?, suspension_reason = '', updated_at = ? WHERE team_id = ? AND status = ?`,
		teamdomain.SiteStatusActive,
		now,
		teamID,
		teamdomain.SiteStatusSuspended,
	).Error
	if err != nil {
		return err
	}

	s.log.Info("unsuspended sites",
		zap.String("team_id", teamID.String()),
		zap.String("reason", reason),
	)
	return nil
}

func (s *Service) DefaultPaymentMethod(ctx context.Context, teamID snowflake.ID) (*teamdomain.PaymentMethod, error) {
	team, err := s.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team.DefaultPaymentMethodID == nil {
		return nil, nil
	}

	var method teamdomain.PaymentMethod
	err = s.db.WithContext(ctx).First(&method, "id = ?", *team.DefaultPaymentMethodID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}
