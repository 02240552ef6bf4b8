package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/p4-jakarta/portal-api/internal/models"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
)

type mockRegistrationLedger struct {
	registrations map[string]models.Registration
	activeByQuota map[string]string // actorID+quotaID -> registration ID
	yearlyCounts  map[string]int
	registered    *models.Registration
	cancelled     []string
	letters       map[string]string
	registerErr   error
}

func (m *mockRegistrationLedger) Register(ctx context.Context, reg *models.Registration) error {
	if m.registerErr != nil {
		return m.registerErr
	}
	if m.registrations == nil {
		m.registrations = make(map[string]models.Registration)
	}
	if reg.ID == "" {
		reg.ID = "new-reg"
	}
	reg.SequenceNumber = len(m.registrations) + 1
	reg.RegisteredAt = time.Now().UTC()
	m.registrations[reg.ID] = *reg
	m.registered = reg
	return nil
}

func (m *mockRegistrationLedger) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	if r, ok := m.registrations[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationLedger) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	if r, ok := m.registrations[id]; ok {
		return &models.RegistrationDetail{Registration: r}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationLedger) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	return nil, 0, nil
}

func (m *mockRegistrationLedger) ListByActor(ctx context.Context, actorID string) ([]models.RegistrationDetail, error) {
	var list []models.RegistrationDetail
	for _, r := range m.registrations {
		if r.ActorID == actorID {
			list = append(list, models.RegistrationDetail{Registration: r})
		}
	}
	return list, nil
}

func (m *mockRegistrationLedger) FindActiveByActorAndQuota(ctx context.Context, actorID, quotaID string) (*models.Registration, error) {
	if id, ok := m.activeByQuota[actorID+quotaID]; ok {
		if r, found := m.registrations[id]; found {
			return &r, nil
		}
		return &models.Registration{ID: id, ActorID: actorID, QuotaID: quotaID}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationLedger) CountActiveInYear(ctx context.Context, actorID string, year int) (int, error) {
	return m.yearlyCounts[actorID], nil
}

func (m *mockRegistrationLedger) Cancel(ctx context.Context, id string) (*models.Registration, error) {
	r, ok := m.registrations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	allowed := models.RegistrationStatusRegistered
	if models.RoleRequiresDocument(r.ActorRole) {
		allowed = models.RegistrationStatusPending
	}
	if r.Status != allowed {
		return nil, appErrors.ErrInvalidStateForCancel
	}
	r.Status = models.RegistrationStatusCancelled
	m.registrations[id] = r
	m.cancelled = append(m.cancelled, id)
	return &r, nil
}

func (m *mockRegistrationLedger) SubmitLetter(ctx context.Context, id, fileName string) error {
	r, ok := m.registrations[id]
	if !ok {
		return sql.ErrNoRows
	}
	if r.Status != models.RegistrationStatusApproved {
		return appErrors.ErrInvalidStateTransition
	}
	r.Status = models.RegistrationStatusDocumentSubmitted
	r.AssignmentLetter = &fileName
	m.registrations[id] = r
	if m.letters == nil {
		m.letters = make(map[string]string)
	}
	m.letters[id] = fileName
	return nil
}

type mockQuotaReader struct {
	quotas map[string]*models.Quota
}

func (m *mockQuotaReader) FindByID(ctx context.Context, id string) (*models.Quota, error) {
	if q, ok := m.quotas[id]; ok {
		copied := *q
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

type mockLetterStore struct {
	saved       []string
	deleted     []string
	validateErr error
}

func (m *mockLetterStore) Validate(size int64, mimeType string) error { return m.validateErr }

func (m *mockLetterStore) Save(originalName string, data []byte) (string, error) {
	name := "stored-" + originalName
	m.saved = append(m.saved, name)
	return name, nil
}

func (m *mockLetterStore) Delete(name string) error {
	m.deleted = append(m.deleted, name)
	return nil
}

func (m *mockLetterStore) Path(name string) string { return "/uploads/" + name }

type mockLetterSigner struct{}

func (m *mockLetterSigner) Generate(refID, fileName string) (string, time.Time, error) {
	return refID + "." + fileName, time.Now().Add(time.Minute), nil
}

func (m *mockLetterSigner) Parse(token string) (string, string, time.Time, error) {
	return "reg-1", "letter.pdf", time.Now().Add(time.Minute), nil
}

func newRegistrationService(repo *mockRegistrationLedger, quotas *mockQuotaReader, letters *mockLetterStore) *RegistrationService {
	var store letterStore
	if letters != nil {
		store = letters
	}
	return NewRegistrationService(repo, quotas, NewEligibilityPolicy(), store, &mockLetterSigner{}, nil, nil, validator.New(), zap.NewNop())
}

func TestRegistrationServiceStudentRegister(t *testing.T) {
	repo := &mockRegistrationLedger{}
	quotas := &mockQuotaReader{quotas: map[string]*models.Quota{
		"quota-1": openQuota(40, 10, 2, models.AudienceBoth),
	}}
	svc := newRegistrationService(repo, quotas, nil)

	detail, err := svc.Register(context.Background(), "student-1", models.RoleStudent, RegisterRequest{QuotaID: "quota-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusRegistered, detail.Status)
	assert.Equal(t, models.RoleStudent, repo.registered.ActorRole)
}

func TestRegistrationServiceTeacherWithoutLetterIsPending(t *testing.T) {
	repo := &mockRegistrationLedger{}
	quotas := &mockQuotaReader{quotas: map[string]*models.Quota{
		"quota-1": openQuota(40, 0, 0, models.AudienceTeachers),
	}}
	svc := newRegistrationService(repo, quotas, nil)

	detail, err := svc.Register(context.Background(), "teacher-1", models.RoleTeacher, RegisterRequest{QuotaID: "quota-1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusPending, detail.Status)
	assert.Nil(t, detail.AssignmentLetter)
}

func TestRegistrationServiceTeacherWithLetterIsSeated(t *testing.T) {
	repo := &mockRegistrationLedger{}
	quotas := &mockQuotaReader{quotas: map[string]*models.Quota{
		"quota-1": openQuota(40, 0, 0, models.AudienceTeachers),
	}}
	letters := &mockLetterStore{}
	svc := newRegistrationService(repo, quotas, letters)

	letter := &LetterUpload{FileName: "surat.pdf", MIMEType: "application/pdf", Size: 1024, Data: []byte("pdf")}
	detail, err := svc.Register(context.Background(), "teacher-1", models.RoleTeacher, RegisterRequest{QuotaID: "quota-1"}, letter)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusRegistered, detail.Status)
	require.NotNil(t, detail.AssignmentLetter)
	assert.Contains(t, letters.saved, *detail.AssignmentLetter)
}

func TestRegistrationServiceLetterCleanupOnFailure(t *testing.T) {
	repo := &mockRegistrationLedger{registerErr: appErrors.ErrQuotaFull}
	quotas := &mockQuotaReader{quotas: map[string]*models.Quota{
		"quota-1": openQuota(40, 0, 0, models.AudienceTeachers),
	}}
	letters := &mockLetterStore{}
	svc := newRegistrationService(repo, quotas, letters)

	letter := &LetterUpload{FileName: "surat.pdf", MIMEType: "application/pdf", Size: 1024, Data: []byte("pdf")}
	_, err := svc.Register(context.Background(), "teacher-1", models.RoleTeacher, RegisterRequest{QuotaID: "quota-1"}, letter)
	assert.ErrorIs(t, err, appErrors.ErrQuotaFull)
	assert.Len(t, letters.deleted, 1)
}

func TestRegistrationServiceRejectsIneligible(t *testing.T) {
	repo := &mockRegistrationLedger{
		activeByQuota: map[string]string{"student-1quota-1": "existing"},
		yearlyCounts:  map[string]int{"student-2": DefaultYearlyRegistrationCap},
	}
	quotas := &mockQuotaReader{quotas: map[string]*models.Quota{
		"quota-1": openQuota(40, 1, 0, models.AudienceBoth),
	}}
	svc := newRegistrationService(repo, quotas, nil)

	_, err := svc.Register(context.Background(), "student-1", models.RoleStudent, RegisterRequest{QuotaID: "quota-1"}, nil)
	assert.ErrorIs(t, err, appErrors.ErrAlreadyRegistered)

	_, err = svc.Register(context.Background(), "student-2", models.RoleStudent, RegisterRequest{QuotaID: "quota-1"}, nil)
	assert.ErrorIs(t, err, appErrors.ErrYearlyCapReached)

	_, err = svc.Register(context.Background(), "student-3", models.RoleStudent, RegisterRequest{QuotaID: "missing"}, nil)
	assert.ErrorIs(t, err, appErrors.ErrQuotaNotFound)
}

func TestRegistrationServiceAdminCannotRegister(t *testing.T) {
	svc := newRegistrationService(&mockRegistrationLedger{}, &mockQuotaReader{}, nil)
	_, err := svc.Register(context.Background(), "admin-1", models.RoleAdmin, RegisterRequest{QuotaID: "quota-1"}, nil)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestRegistrationServiceCancelOwnership(t *testing.T) {
	repo := &mockRegistrationLedger{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", ActorID: "student-1", ActorRole: models.RoleStudent, Status: models.RegistrationStatusRegistered},
	}}
	svc := newRegistrationService(repo, &mockQuotaReader{}, nil)

	_, err := svc.Cancel(context.Background(), "reg-1", "someone-else")
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	cancelled, err := svc.Cancel(context.Background(), "reg-1", "student-1")
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusCancelled, cancelled.Status)

	// A second cancel fails without touching anything.
	_, err = svc.Cancel(context.Background(), "reg-1", "student-1")
	assert.ErrorIs(t, err, appErrors.ErrInvalidStateForCancel)
	assert.Len(t, repo.cancelled, 1)
}

func TestRegistrationServiceSubmitLetterReplacesOldFile(t *testing.T) {
	old := "stored-old.pdf"
	repo := &mockRegistrationLedger{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", ActorID: "teacher-1", ActorRole: models.RoleTeacher, Status: models.RegistrationStatusApproved, AssignmentLetter: &old},
	}}
	letters := &mockLetterStore{}
	svc := newRegistrationService(repo, &mockQuotaReader{}, letters)

	letter := LetterUpload{FileName: "new.pdf", MIMEType: "application/pdf", Size: 512, Data: []byte("pdf")}
	detail, err := svc.SubmitLetter(context.Background(), "reg-1", "teacher-1", letter)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusDocumentSubmitted, detail.Status)
	assert.Contains(t, letters.deleted, old)
}

func TestRegistrationServiceSubmitLetterStudentRejected(t *testing.T) {
	repo := &mockRegistrationLedger{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", ActorID: "student-1", ActorRole: models.RoleStudent, Status: models.RegistrationStatusRegistered},
	}}
	svc := newRegistrationService(repo, &mockQuotaReader{}, &mockLetterStore{})

	letter := LetterUpload{FileName: "x.pdf", MIMEType: "application/pdf", Size: 512, Data: []byte("pdf")}
	_, err := svc.SubmitLetter(context.Background(), "reg-1", "student-1", letter)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestRegistrationServiceLetterDownloadLink(t *testing.T) {
	name := "stored-letter.pdf"
	repo := &mockRegistrationLedger{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", ActorID: "teacher-1", ActorRole: models.RoleTeacher, Status: models.RegistrationStatusDocumentSubmitted, AssignmentLetter: &name},
	}}
	svc := newRegistrationService(repo, &mockQuotaReader{}, &mockLetterStore{})

	link, err := svc.LetterDownloadLink(context.Background(), "reg-1", "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, link.Token)

	_, err = svc.LetterDownloadLink(context.Background(), "reg-1", "other-teacher", models.RoleTeacher)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestRegistrationServiceListMineSplitsActiveAndHistory(t *testing.T) {
	repo := &mockRegistrationLedger{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", ActorID: "student-1", ActorRole: models.RoleStudent, Status: models.RegistrationStatusRegistered},
		"reg-2": {ID: "reg-2", ActorID: "student-1", ActorRole: models.RoleStudent, Status: models.RegistrationStatusCancelled},
		"reg-3": {ID: "reg-3", ActorID: "student-2", ActorRole: models.RoleStudent, Status: models.RegistrationStatusRegistered},
	}}
	svc := newRegistrationService(repo, &mockQuotaReader{}, nil)

	mine, err := svc.ListMine(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Len(t, mine.Active, 1)
	assert.Len(t, mine.History, 1)
	assert.Equal(t, "reg-1", mine.Active[0].ID)
	assert.Equal(t, "reg-2", mine.History[0].ID)
}

func TestRegistrationServiceCancelRemovesLetterFile(t *testing.T) {
	name := "stored-surat.pdf"
	repo := &mockRegistrationLedger{registrations: map[string]models.Registration{
		"reg-1": {ID: "reg-1", ActorID: "teacher-1", ActorRole: models.RoleTeacher, Status: models.RegistrationStatusPending, AssignmentLetter: &name},
	}}
	letters := &mockLetterStore{}
	svc := newRegistrationService(repo, &mockQuotaReader{}, letters)

	_, err := svc.Cancel(context.Background(), "reg-1", "teacher-1")
	require.NoError(t, err)
	assert.Contains(t, letters.deleted, name)
}
