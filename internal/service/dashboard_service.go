package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/p4-jakarta/portal-api/internal/models"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
)

type dashboardQuotaRepository interface {
	FindActive(ctx context.Context) (*models.Quota, error)
	Occupancy(ctx context.Context) ([]models.QuotaOccupancy, error)
}

type dashboardRegistrationRepository interface {
	CountsByStatus(ctx context.Context) ([]models.RegistrationStatusCount, error)
}

type dashboardUserRepository interface {
	CountByRole(ctx context.Context, role models.UserRole) (int, error)
}

// DashboardService aggregates the admin landing view.
type DashboardService struct {
	quotas        dashboardQuotaRepository
	registrations dashboardRegistrationRepository
	users         dashboardUserRepository
	cache         *CacheService
	cacheTTL      time.Duration
	logger        *zap.Logger
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(quotas dashboardQuotaRepository, registrations dashboardRegistrationRepository, users dashboardUserRepository, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &DashboardService{quotas: quotas, registrations: registrations, users: users, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// Summary builds the dashboard payload, served from cache when fresh.
func (s *DashboardService) Summary(ctx context.Context) (*models.DashboardSummary, error) {
	var cached models.DashboardSummary
	if hit, _ := s.cache.Get(ctx, CacheKeyDashboard, &cached); hit {
		return &cached, nil
	}

	students, err := s.users.CountByRole(ctx, models.RoleStudent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count students")
	}
	teachers, err := s.users.CountByRole(ctx, models.RoleTeacher)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count teachers")
	}

	occupancy, err := s.quotas.Occupancy(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load quota occupancy")
	}

	counts, err := s.registrations.CountsByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration counts")
	}
	pending := 0
	for _, c := range counts {
		if c.Status == models.RegistrationStatusPending {
			pending += c.Count
		}
	}

	summary := &models.DashboardSummary{
		TotalStudents:        students,
		TotalTeachers:        teachers,
		PendingApprovals:     pending,
		QuotaOccupancy:       occupancy,
		RegistrationsByState: counts,
		GeneratedAt:          time.Now().UTC(),
	}

	if active, err := s.quotas.FindActive(ctx); err == nil {
		info := active.Info()
		summary.ActiveQuota = &info
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("failed to load active quota for dashboard", zap.Error(err))
	}

	_ = s.cache.Set(ctx, CacheKeyDashboard, summary, s.cacheTTL)
	return summary, nil
}
