package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/p4-jakarta/portal-api/internal/models"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
)

type quotaStoreRepository interface {
	Create(ctx context.Context, quota *models.Quota) error
	FindByID(ctx context.Context, id string) (*models.Quota, error)
	FindByAcademicYear(ctx context.Context, year string) (*models.Quota, error)
	FindActive(ctx context.Context) (*models.Quota, error)
	ListOpenByAudience(ctx context.Context, audiences ...models.AudienceTarget) ([]models.Quota, error)
	List(ctx context.Context, filter models.QuotaFilter) ([]models.Quota, int, error)
	Update(ctx context.Context, quota *models.Quota) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.QuotaStatus) error
	Delete(ctx context.Context, id string) error
	Occupancy(ctx context.Context) ([]models.QuotaOccupancy, error)
}

type quotaRegistrationCounter interface {
	CountActiveByQuota(ctx context.Context, quotaID string) (int, error)
}

// CreateQuotaRequest is the admin payload for opening a new quota.
type CreateQuotaRequest struct {
	Title        string                `json:"title" validate:"required"`
	AcademicYear string                `json:"academic_year" validate:"required"`
	MaxSeats     int                   `json:"max_seats" validate:"required,gt=0"`
	Audience     models.AudienceTarget `json:"audience" validate:"required,oneof=STUDENTS TEACHERS BOTH"`
	StartDate    *time.Time            `json:"start_date"`
	EndDate      *time.Time            `json:"end_date"`
	TimeNote     string                `json:"time_note"`
	Description  string                `json:"description"`
}

// UpdateQuotaRequest carries partial updates; nil fields keep current values.
type UpdateQuotaRequest struct {
	Title        *string                `json:"title" validate:"omitempty,min=1"`
	AcademicYear *string                `json:"academic_year" validate:"omitempty,min=1"`
	MaxSeats     *int                   `json:"max_seats" validate:"omitempty,gt=0"`
	Audience     *models.AudienceTarget `json:"audience" validate:"omitempty,oneof=STUDENTS TEACHERS BOTH"`
	StartDate    *time.Time             `json:"start_date"`
	EndDate      *time.Time             `json:"end_date"`
	TimeNote     *string                `json:"time_note"`
	Description  *string                `json:"description"`
}

// QuotaService manages training quotas and their public availability views.
type QuotaService struct {
	repo          quotaStoreRepository
	registrations quotaRegistrationCounter
	cache         *CacheService
	infoTTL       time.Duration
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewQuotaService constructs a QuotaService.
func NewQuotaService(repo quotaStoreRepository, registrations quotaRegistrationCounter, cache *CacheService, infoTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *QuotaService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if infoTTL <= 0 {
		infoTTL = time.Minute
	}
	return &QuotaService{repo: repo, registrations: registrations, cache: cache, infoTTL: infoTTL, validator: validate, logger: logger}
}

// Create opens a new quota. One quota per academic year label.
func (s *QuotaService) Create(ctx context.Context, req CreateQuotaRequest) (*models.Quota, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quota payload")
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date precedes start date")
	}

	if _, err := s.repo.FindByAcademicYear(ctx, req.AcademicYear); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a quota already exists for this academic year")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check academic year")
	}

	quota := &models.Quota{
		Title:        req.Title,
		AcademicYear: req.AcademicYear,
		MaxSeats:     req.MaxSeats,
		Audience:     req.Audience,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		TimeNote:     req.TimeNote,
		Description:  req.Description,
	}
	if err := s.repo.Create(ctx, quota); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create quota")
	}

	s.cache.InvalidateQuotaViews(ctx)
	return quota, nil
}

// Get returns the full quota record for administrators.
func (s *QuotaService) Get(ctx context.Context, id string) (*models.Quota, error) {
	quota, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrQuotaNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load quota")
	}
	return quota, nil
}

// Info returns the public availability payload for one quota, cached briefly
// so the landing page does not hammer the counters.
func (s *QuotaService) Info(ctx context.Context, id string) (*models.QuotaInfo, error) {
	key := fmt.Sprintf("%s:%s", CacheKeyQuotaInfo, id)
	var cached models.QuotaInfo
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	quota, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	info := quota.Info()
	_ = s.cache.Set(ctx, key, info, s.infoTTL)
	return &info, nil
}

// ActiveInfo returns availability for the current offering.
func (s *QuotaService) ActiveInfo(ctx context.Context) (*models.QuotaInfo, error) {
	key := CacheKeyQuotaInfo + ":active"
	var cached models.QuotaInfo
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	quota, err := s.repo.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrQuotaNotFound, "no active quota")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active quota")
	}
	info := quota.Info()
	_ = s.cache.Set(ctx, key, info, s.infoTTL)
	return &info, nil
}

// ListOpenForRole returns open quotas the role can register for.
func (s *QuotaService) ListOpenForRole(ctx context.Context, role models.UserRole) ([]models.QuotaInfo, error) {
	var audiences []models.AudienceTarget
	switch role {
	case models.RoleStudent:
		audiences = []models.AudienceTarget{models.AudienceStudents, models.AudienceBoth}
	case models.RoleTeacher:
		audiences = []models.AudienceTarget{models.AudienceTeachers, models.AudienceBoth}
	default:
		audiences = []models.AudienceTarget{models.AudienceStudents, models.AudienceTeachers, models.AudienceBoth}
	}

	quotas, err := s.repo.ListOpenByAudience(ctx, audiences...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list open quotas")
	}
	infos := make([]models.QuotaInfo, 0, len(quotas))
	for i := range quotas {
		infos = append(infos, quotas[i].Info())
	}
	return infos, nil
}

// List returns quotas for administrators with pagination metadata.
func (s *QuotaService) List(ctx context.Context, filter models.QuotaFilter) ([]models.Quota, *models.Pagination, error) {
	quotas, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list quotas")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return quotas, pagination, nil
}

// Update applies partial changes. Capacity can never drop below the seats
// already taken; the repository enforces the same guard in-statement against
// concurrent registrations.
func (s *QuotaService) Update(ctx context.Context, id string, req UpdateQuotaRequest) (*models.Quota, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid quota payload")
	}

	quota, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		quota.Title = *req.Title
	}
	if req.AcademicYear != nil && *req.AcademicYear != quota.AcademicYear {
		if _, err := s.repo.FindByAcademicYear(ctx, *req.AcademicYear); err == nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a quota already exists for this academic year")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check academic year")
		}
		quota.AcademicYear = *req.AcademicYear
	}
	if req.MaxSeats != nil {
		if *req.MaxSeats < quota.SeatsTaken() {
			return nil, appErrors.ErrCapacityBelowRegistered
		}
		quota.MaxSeats = *req.MaxSeats
	}
	if req.Audience != nil {
		quota.Audience = *req.Audience
	}
	if req.StartDate != nil {
		quota.StartDate = req.StartDate
	}
	if req.EndDate != nil {
		quota.EndDate = req.EndDate
	}
	if req.TimeNote != nil {
		quota.TimeNote = *req.TimeNote
	}
	if req.Description != nil {
		quota.Description = *req.Description
	}
	if quota.StartDate != nil && quota.EndDate != nil && quota.EndDate.Before(*quota.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date precedes start date")
	}

	// Raising capacity on a FULL quota reopens it.
	if quota.Status == models.QuotaStatusFull && quota.SeatsTaken() < quota.MaxSeats {
		quota.Status = models.QuotaStatusOpen
	}

	ok, err := s.repo.Update(ctx, quota)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update quota")
	}
	if !ok {
		return nil, appErrors.ErrCapacityBelowRegistered
	}

	s.cache.InvalidateQuotaViews(ctx)
	return quota, nil
}

// ToggleStatus cycles the quota between manual states: OPEN closes, CLOSED
// reopens (or surfaces FULL when no seats remain), FULL closes.
func (s *QuotaService) ToggleStatus(ctx context.Context, id string) (*models.Quota, error) {
	quota, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var next models.QuotaStatus
	switch quota.Status {
	case models.QuotaStatusOpen:
		next = models.QuotaStatusClosed
	case models.QuotaStatusClosed:
		if quota.SeatsTaken() >= quota.MaxSeats {
			next = models.QuotaStatusFull
		} else {
			next = models.QuotaStatusOpen
		}
	case models.QuotaStatusFull:
		next = models.QuotaStatusClosed
	default:
		return nil, appErrors.Clone(appErrors.ErrConflict, "quota is in an unknown state")
	}

	if err := s.repo.UpdateStatus(ctx, id, next); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update quota status")
	}
	quota.Status = next

	s.cache.InvalidateQuotaViews(ctx)
	return quota, nil
}

// Delete removes a quota that has no active registrations.
func (s *QuotaService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	active, err := s.registrations.CountActiveByQuota(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count registrations")
	}
	if active > 0 {
		return appErrors.ErrHasActiveRegistrations
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete quota")
	}

	s.cache.InvalidateQuotaViews(ctx)
	return nil
}

// Occupancy returns seat usage for all quotas.
func (s *QuotaService) Occupancy(ctx context.Context) ([]models.QuotaOccupancy, error) {
	rows, err := s.repo.Occupancy(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load quota occupancy")
	}
	return rows, nil
}
