package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hostflow/billing/internal/cache"
	plandomain "github.com/hostflow/billing/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const planCacheTTL = 10 * time.Minute

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	plans cache.Cache[snowflake.ID, plandomain.Plan]
}

func NewService(p ServiceParam) plandomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		plans: cache.NewTTLCache[snowflake.ID, plandomain.Plan](),
	}
}

// Get returns the plan by id. Plans change rarely, so lookups are served
// from a short-lived cache.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (*plandomain.Plan, error) {
	if plan, ok := s.plans.Get(id); ok {
		return &plan, nil
	}

	var plan plandomain.Plan
	err := s.db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, plandomain.ErrPlanNotFound
		}
		return nil, err
	}

	s.plans.Set(id, plan, planCacheTTL)
	return &plan, nil
}
