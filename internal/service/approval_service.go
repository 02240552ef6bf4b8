package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/p4-jakarta/portal-api/internal/models"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
)

type approvalLedger interface {
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	Approve(ctx context.Context, id string) (*models.Registration, error)
	Reject(ctx context.Context, id, reason string) (*models.Registration, error)
	Complete(ctx context.Context, id string) (*models.Registration, error)
	Delete(ctx context.Context, id string) (*models.Registration, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RejectRequest carries the mandatory reason for a rejection.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ApprovalService drives the admin review workflow over registrations.
// Route-level RBAC already restricts these operations to administrators; the
// service records who did what in the audit trail.
type ApprovalService struct {
	repo      approvalLedger
	audit     auditRecorder
	letters   letterStore
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewApprovalService constructs an ApprovalService.
func NewApprovalService(repo approvalLedger, audit auditRecorder, letters letterStore, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ApprovalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{repo: repo, audit: audit, letters: letters, cache: cache, validator: validate, logger: logger}
}

// Approve confirms a registration. A pending teacher registration takes its
// seat at this point; a full quota fails the approval.
func (s *ApprovalService) Approve(ctx context.Context, id, adminID string) (*models.RegistrationDetail, error) {
	reg, err := s.repo.Approve(ctx, id)
	if err != nil {
		return nil, s.mapLedgerError(err, "failed to approve registration")
	}

	s.cache.InvalidateQuotaViews(ctx)
	s.recordAudit(ctx, adminID, models.AuditActionRegistrationApprove, reg.ID, map[string]string{"status": string(reg.Status)})
	return s.detail(ctx, id)
}

// Reject declines a registration with a mandatory reason, releasing its seat
// when one was held.
func (s *ApprovalService) Reject(ctx context.Context, id, adminID string, req RejectRequest) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "a rejection reason is required")
	}

	reg, err := s.repo.Reject(ctx, id, req.Reason)
	if err != nil {
		return nil, s.mapLedgerError(err, "failed to reject registration")
	}

	if reg.AssignmentLetter != nil && s.letters != nil {
		if err := s.letters.Delete(*reg.AssignmentLetter); err != nil {
			s.logger.Warn("failed to remove letter file for rejected registration",
				zap.String("registration_id", reg.ID), zap.Error(err))
		}
	}

	s.cache.InvalidateQuotaViews(ctx)
	s.recordAudit(ctx, adminID, models.AuditActionRegistrationReject, reg.ID, map[string]string{"reason": req.Reason})
	return s.detail(ctx, id)
}

// Complete marks a confirmed registration as finished, freeing the seat for
// the next participant.
func (s *ApprovalService) Complete(ctx context.Context, id, adminID string) (*models.RegistrationDetail, error) {
	reg, err := s.repo.Complete(ctx, id)
	if err != nil {
		return nil, s.mapLedgerError(err, "failed to complete registration")
	}

	s.cache.InvalidateQuotaViews(ctx)
	s.recordAudit(ctx, adminID, models.AuditActionRegistrationComplete, reg.ID, map[string]string{"status": string(reg.Status)})
	return s.detail(ctx, id)
}

// Delete removes a registration record entirely, releasing its seat and its
// stored letter file. The file is only removed once the row is gone.
func (s *ApprovalService) Delete(ctx context.Context, id, adminID string) error {
	reg, err := s.repo.Delete(ctx, id)
	if err != nil {
		return s.mapLedgerError(err, "failed to delete registration")
	}

	if reg.AssignmentLetter != nil && s.letters != nil {
		if err := s.letters.Delete(*reg.AssignmentLetter); err != nil {
			s.logger.Warn("failed to remove letter file for deleted registration",
				zap.String("registration_id", reg.ID), zap.Error(err))
		}
	}

	s.cache.InvalidateQuotaViews(ctx)
	s.recordAudit(ctx, adminID, models.AuditActionRegistrationDelete, reg.ID, map[string]string{"actor_id": reg.ActorID})
	return nil
}

func (s *ApprovalService) detail(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration detail")
	}
	return detail, nil
}

func (s *ApprovalService) mapLedgerError(err error, fallback string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fallback)
}

func (s *ApprovalService) recordAudit(ctx context.Context, adminID, action, resourceID string, values map[string]string) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(values)
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     action,
		Resource:   "registration",
		ResourceID: &resourceID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record approval audit log", zap.Error(err))
	}
}
