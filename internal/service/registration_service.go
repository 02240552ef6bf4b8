package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/p4-jakarta/portal-api/internal/models"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
)

type registrationLedger interface {
	Register(ctx context.Context, reg *models.Registration) error
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
	ListByActor(ctx context.Context, actorID string) ([]models.RegistrationDetail, error)
	FindActiveByActorAndQuota(ctx context.Context, actorID, quotaID string) (*models.Registration, error)
	CountActiveInYear(ctx context.Context, actorID string, year int) (int, error)
	Cancel(ctx context.Context, id string) (*models.Registration, error)
	SubmitLetter(ctx context.Context, id, fileName string) error
}

type registrationQuotaReader interface {
	FindByID(ctx context.Context, id string) (*models.Quota, error)
}

type letterStore interface {
	Validate(size int64, mimeType string) error
	Save(originalName string, data []byte) (string, error)
	Delete(name string) error
	Path(name string) string
}

type letterSigner interface {
	Generate(refID, fileName string) (string, time.Time, error)
	Parse(token string) (refID, fileName string, expiresAt time.Time, err error)
}

// RegisterRequest is the payload for joining a quota.
type RegisterRequest struct {
	QuotaID string `json:"quota_id" validate:"required"`
}

// LetterUpload carries an assignment letter received over multipart.
type LetterUpload struct {
	FileName string
	MIMEType string
	Size     int64
	Data     []byte
}

// LetterLink is a time-limited download reference for a stored letter.
type LetterLink struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegistrationService orchestrates the registration lifecycle for students
// and teachers: joining a quota, cancelling, and the assignment letter flow.
type RegistrationService struct {
	repo      registrationLedger
	quotas    registrationQuotaReader
	policy    *EligibilityPolicy
	letters   letterStore
	signer    letterSigner
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(repo registrationLedger, quotas registrationQuotaReader, policy *EligibilityPolicy, letters letterStore, signer letterSigner, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = NewEligibilityPolicy()
	}
	return &RegistrationService{
		repo:      repo,
		quotas:    quotas,
		policy:    policy,
		letters:   letters,
		signer:    signer,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Register joins the actor to a quota. Students are seated immediately.
// Teachers who attach an assignment letter are seated immediately; without
// one the registration stays PENDING and holds no seat until approval.
func (s *RegistrationService) Register(ctx context.Context, actorID string, role models.UserRole, req RegisterRequest, letter *LetterUpload) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if role != models.RoleStudent && role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students and teachers can register")
	}

	quota, err := s.quotas.FindByID(ctx, req.QuotaID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrQuotaNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load quota")
	}

	hasActive := true
	if _, err := s.repo.FindActiveByActorAndQuota(ctx, actorID, req.QuotaID); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing registration")
		}
		hasActive = false
	}

	activeThisYear, err := s.repo.CountActiveInYear(ctx, actorID, time.Now().UTC().Year())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count registrations")
	}

	if err := s.policy.Evaluate(quota, role, activeThisYear, hasActive); err != nil {
		s.metrics.RecordRegistrationAttempt(role, "rejected")
		return nil, err
	}

	reg := &models.Registration{
		QuotaID:   req.QuotaID,
		ActorID:   actorID,
		ActorRole: role,
		Status:    models.RegistrationStatusRegistered,
	}

	var storedLetter string
	if models.RoleRequiresDocument(role) {
		if letter == nil {
			reg.Status = models.RegistrationStatusPending
		} else {
			if s.letters == nil {
				return nil, appErrors.Clone(appErrors.ErrStorage, "letter storage unavailable")
			}
			if err := s.letters.Validate(letter.Size, letter.MIMEType); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "assignment letter rejected")
			}
			storedLetter, err = s.letters.Save(letter.FileName, letter.Data)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to store assignment letter")
			}
			reg.AssignmentLetter = &storedLetter
		}
	}

	if err := s.repo.Register(ctx, reg); err != nil {
		if storedLetter != "" {
			if delErr := s.letters.Delete(storedLetter); delErr != nil {
				s.logger.Warn("failed to remove orphaned letter file", zap.String("file", storedLetter), zap.Error(delErr))
			}
		}
		s.metrics.RecordRegistrationAttempt(role, "rejected")
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register")
	}

	s.metrics.RecordRegistrationAttempt(role, "accepted")
	s.metrics.SetSeatOccupancy(quota.ID, quota.SeatsTaken()+1)
	s.cache.InvalidateQuotaViews(ctx)

	detail, err := s.repo.FindDetailByID(ctx, reg.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration detail")
	}
	return detail, nil
}

// MyRegistrations splits the actor's registrations into live entries and
// closed-out history.
type MyRegistrations struct {
	Active  []models.RegistrationDetail `json:"active"`
	History []models.RegistrationDetail `json:"history"`
}

// ListMine returns the actor's registrations, newest first.
func (s *RegistrationService) ListMine(ctx context.Context, actorID string) (*MyRegistrations, error) {
	details, err := s.repo.ListByActor(ctx, actorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
	}

	mine := &MyRegistrations{
		Active:  []models.RegistrationDetail{},
		History: []models.RegistrationDetail{},
	}
	for _, d := range details {
		if d.Status.Active() {
			mine.Active = append(mine.Active, d)
		} else {
			mine.History = append(mine.History, d)
		}
	}
	return mine, nil
}

// List returns registrations for administrators with pagination metadata.
func (s *RegistrationService) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, *models.Pagination, error) {
	details, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
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
	return details, pagination, nil
}

// Get returns a registration visible to the caller. Non-admins may only see
// their own records.
func (s *RegistrationService) Get(ctx context.Context, id, callerID string, callerRole models.UserRole) (*models.RegistrationDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if callerRole != models.RoleAdmin && detail.ActorID != callerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another user")
	}
	return detail, nil
}

// Cancel withdraws the actor's own registration and frees its seat when one
// was held.
func (s *RegistrationService) Cancel(ctx context.Context, id, actorID string) (*models.Registration, error) {
	reg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if reg.ActorID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another user")
	}

	cancelled, err := s.repo.Cancel(ctx, id)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel registration")
	}

	if cancelled.AssignmentLetter != nil && s.letters != nil {
		if err := s.letters.Delete(*cancelled.AssignmentLetter); err != nil {
			s.logger.Warn("failed to remove letter file for cancelled registration",
				zap.String("registration_id", cancelled.ID), zap.Error(err))
		}
	}

	s.cache.InvalidateQuotaViews(ctx)
	return cancelled, nil
}

// SubmitLetter attaches an assignment letter to the actor's APPROVED
// registration and moves it to DOCUMENT_SUBMITTED. A previously stored file
// is removed only after the database accepted the new one.
func (s *RegistrationService) SubmitLetter(ctx context.Context, id, actorID string, letter LetterUpload) (*models.RegistrationDetail, error) {
	if s.letters == nil {
		return nil, appErrors.Clone(appErrors.ErrStorage, "letter storage unavailable")
	}
	reg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if reg.ActorID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another user")
	}
	if !models.RoleRequiresDocument(reg.ActorRole) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "this registration does not use assignment letters")
	}

	if err := s.letters.Validate(letter.Size, letter.MIMEType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "assignment letter rejected")
	}
	stored, err := s.letters.Save(letter.FileName, letter.Data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to store assignment letter")
	}

	if err := s.repo.SubmitLetter(ctx, id, stored); err != nil {
		if delErr := s.letters.Delete(stored); delErr != nil {
			s.logger.Warn("failed to remove orphaned letter file", zap.String("file", stored), zap.Error(delErr))
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record assignment letter")
	}

	if reg.AssignmentLetter != nil && *reg.AssignmentLetter != stored {
		if err := s.letters.Delete(*reg.AssignmentLetter); err != nil {
			s.logger.Warn("failed to remove replaced letter file", zap.String("file", *reg.AssignmentLetter), zap.Error(err))
		}
	}

	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration detail")
	}
	return detail, nil
}

// LetterDownloadLink issues a signed, expiring token for the stored letter.
// Admins and the owning actor may request one.
func (s *RegistrationService) LetterDownloadLink(ctx context.Context, id, callerID string, callerRole models.UserRole) (*LetterLink, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrStorage, "letter downloads unavailable")
	}
	reg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if callerRole != models.RoleAdmin && reg.ActorID != callerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another user")
	}
	if reg.AssignmentLetter == nil || *reg.AssignmentLetter == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no assignment letter on file")
	}

	token, expiresAt, err := s.signer.Generate(reg.ID, *reg.AssignmentLetter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &LetterLink{Token: token, ExpiresAt: expiresAt}, nil
}

// ResolveLetterToken validates a signed token and returns the on-disk path
// and stored file name for streaming.
func (s *RegistrationService) ResolveLetterToken(token string) (path, fileName string, err error) {
	if s.signer == nil || s.letters == nil {
		return "", "", appErrors.Clone(appErrors.ErrStorage, "letter downloads unavailable")
	}
	_, fileName, _, err = s.signer.Parse(token)
	if err != nil {
		return "", "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired download token")
	}
	return s.letters.Path(fileName), fileName, nil
}
