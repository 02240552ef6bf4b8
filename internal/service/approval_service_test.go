package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/p4-jakarta/portal-api/internal/models"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
)

type mockApprovalLedger struct {
	registrations map[string]models.Registration
	deleted       []string
}

func (m *mockApprovalLedger) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	if r, ok := m.registrations[id]; ok {
		return &models.RegistrationDetail{Registration: r}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockApprovalLedger) Approve(ctx context.Context, id string) (*models.Registration, error) {
	r, ok := m.registrations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if r.Status != models.RegistrationStatusPending && r.Status != models.RegistrationStatusRegistered {
		return nil, appErrors.ErrInvalidStateTransition
	}
	r.Status = models.RegistrationStatusApproved
	m.registrations[id] = r
	return &r, nil
}

func (m *mockApprovalLedger) Reject(ctx context.Context, id, reason string) (*models.Registration, error) {
	r, ok := m.registrations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if !r.Status.Active() {
		return nil, appErrors.ErrInvalidStateTransition
	}
	r.Status = models.RegistrationStatusRejected
	r.RejectReason = &reason
	m.registrations[id] = r
	return &r, nil
}

func (m *mockApprovalLedger) Complete(ctx context.Context, id string) (*models.Registration, error) {
	r, ok := m.registrations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if r.Status != models.RegistrationStatusApproved && r.Status != models.RegistrationStatusDocumentSubmitted {
		return nil, appErrors.ErrInvalidStateTransition
	}
	r.Status = models.RegistrationStatusCompleted
	m.registrations[id] = r
	return &r, nil
}

func (m *mockApprovalLedger) Delete(ctx context.Context, id string) (*models.Registration, error) {
	r, ok := m.registrations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	delete(m.registrations, id)
	m.deleted = append(m.deleted, id)
	return &r, nil
}

type mockAuditRecorder struct {
	logs []models.AuditLog
}

func (m *mockAuditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

func newApprovalService(repo *mockApprovalLedger, audit *mockAuditRecorder, letters *mockLetterStore) *ApprovalService {
	var store letterStore
	if letters != nil {
		store = letters
	}
	return NewApprovalService(repo, audit, store, nil, validator.New(), zap.NewNop())
}

func TestApprovalServiceApprove(t *testing.T) {
	repo := &mockApprovalLedger{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", ActorRole: models.RoleTeacher, Status: models.RegistrationStatusPending},
	}}
	audit := &mockAuditRecorder{}
	svc := newApprovalService(repo, audit, nil)

	detail, err := svc.Approve(context.Background(), "reg-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusApproved, detail.Status)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionRegistrationApprove, audit.logs[0].Action)

	// Approving twice is refused.
	_, err = svc.Approve(context.Background(), "reg-1", "admin-1")
	assert.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)
}

func TestApprovalServiceRejectRequiresReason(t *testing.T) {
	repo := &mockApprovalLedger{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", ActorRole: models.RoleStudent, Status: models.RegistrationStatusRegistered},
	}}
	svc := newApprovalService(repo, &mockAuditRecorder{}, nil)

	_, err := svc.Reject(context.Background(), "reg-1", "admin-1", RejectRequest{})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	detail, err := svc.Reject(context.Background(), "reg-1", "admin-1", RejectRequest{Reason: "incomplete data"})
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusRejected, detail.Status)
	require.NotNil(t, detail.RejectReason)
	assert.Equal(t, "incomplete data", *detail.RejectReason)
}

func TestApprovalServiceComplete(t *testing.T) {
	repo := &mockApprovalLedger{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", ActorRole: models.RoleTeacher, Status: models.RegistrationStatusDocumentSubmitted},
	}}
	svc := newApprovalService(repo, &mockAuditRecorder{}, nil)

	detail, err := svc.Complete(context.Background(), "reg-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusCompleted, detail.Status)
}

func TestApprovalServiceDeleteRemovesLetterFile(t *testing.T) {
	letter := "stored-surat.pdf"
	repo := &mockApprovalLedger{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", ActorID: "teacher-1", ActorRole: models.RoleTeacher, Status: models.RegistrationStatusDocumentSubmitted, AssignmentLetter: &letter},
	}}
	letters := &mockLetterStore{}
	audit := &mockAuditRecorder{}
	svc := newApprovalService(repo, audit, letters)

	require.NoError(t, svc.Delete(context.Background(), "reg-1", "admin-1"))
	assert.Contains(t, repo.deleted, "reg-1")
	assert.Contains(t, letters.deleted, letter)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionRegistrationDelete, audit.logs[0].Action)
}

func TestApprovalServiceNotFound(t *testing.T) {
	svc := newApprovalService(&mockApprovalLedger{}, &mockAuditRecorder{}, nil)
	_, err := svc.Approve(context.Background(), "missing", "admin-1")
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
