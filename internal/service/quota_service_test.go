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

type mockQuotaStore struct {
	quotas      map[string]*models.Quota
	byYear      map[string]string
	created     *models.Quota
	updated     *models.Quota
	updateOK    bool
	statusSet   map[string]models.QuotaStatus
	deleted     []string
	activeID    string
	updateCalls int
}

func (m *mockQuotaStore) Create(ctx context.Context, quota *models.Quota) error {
	if m.quotas == nil {
		m.quotas = make(map[string]*models.Quota)
	}
	if quota.ID == "" {
		quota.ID = "new-quota"
	}
	quota.Status = models.QuotaStatusOpen
	copied := *quota
	m.quotas[quota.ID] = &copied
	m.created = quota
	return nil
}

func (m *mockQuotaStore) FindByID(ctx context.Context, id string) (*models.Quota, error) {
	if q, ok := m.quotas[id]; ok {
		copied := *q
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockQuotaStore) FindByAcademicYear(ctx context.Context, year string) (*models.Quota, error) {
	if id, ok := m.byYear[year]; ok {
		return m.FindByID(ctx, id)
	}
	return nil, sql.ErrNoRows
}

func (m *mockQuotaStore) FindActive(ctx context.Context) (*models.Quota, error) {
	if m.activeID == "" {
		return nil, sql.ErrNoRows
	}
	return m.FindByID(ctx, m.activeID)
}

func (m *mockQuotaStore) ListOpenByAudience(ctx context.Context, audiences ...models.AudienceTarget) ([]models.Quota, error) {
	var list []models.Quota
	for _, q := range m.quotas {
		if q.Status != models.QuotaStatusOpen {
			continue
		}
		for _, a := range audiences {
			if q.Audience == a {
				list = append(list, *q)
				break
			}
		}
	}
	return list, nil
}

func (m *mockQuotaStore) List(ctx context.Context, filter models.QuotaFilter) ([]models.Quota, int, error) {
	var list []models.Quota
	for _, q := range m.quotas {
		list = append(list, *q)
	}
	return list, len(list), nil
}

func (m *mockQuotaStore) Update(ctx context.Context, quota *models.Quota) (bool, error) {
	m.updateCalls++
	m.updated = quota
	if !m.updateOK {
		return false, nil
	}
	copied := *quota
	m.quotas[quota.ID] = &copied
	return true, nil
}

func (m *mockQuotaStore) UpdateStatus(ctx context.Context, id string, status models.QuotaStatus) error {
	if m.statusSet == nil {
		m.statusSet = make(map[string]models.QuotaStatus)
	}
	m.statusSet[id] = status
	if q, ok := m.quotas[id]; ok {
		q.Status = status
	}
	return nil
}

func (m *mockQuotaStore) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.quotas, id)
	return nil
}

func (m *mockQuotaStore) Occupancy(ctx context.Context) ([]models.QuotaOccupancy, error) {
	return nil, nil
}

type mockRegistrationCounter struct {
	counts map[string]int
}

func (m *mockRegistrationCounter) CountActiveByQuota(ctx context.Context, quotaID string) (int, error) {
	return m.counts[quotaID], nil
}

func newQuotaService(store *mockQuotaStore, counter *mockRegistrationCounter) *QuotaService {
	if counter == nil {
		counter = &mockRegistrationCounter{}
	}
	return NewQuotaService(store, counter, nil, time.Minute, validator.New(), zap.NewNop())
}

func TestQuotaServiceCreate(t *testing.T) {
	store := &mockQuotaStore{updateOK: true}
	svc := newQuotaService(store, nil)

	quota, err := svc.Create(context.Background(), CreateQuotaRequest{
		Title:        "Batch 1",
		AcademicYear: "2025/2026",
		MaxSeats:     40,
		Audience:     models.AudienceBoth,
	})
	require.NoError(t, err)
	assert.Equal(t, models.QuotaStatusOpen, quota.Status)
	assert.NotNil(t, store.created)
}

func TestQuotaServiceCreateDuplicateYear(t *testing.T) {
	store := &mockQuotaStore{
		quotas: map[string]*models.Quota{"quota-1": {ID: "quota-1", AcademicYear: "2025/2026"}},
		byYear: map[string]string{"2025/2026": "quota-1"},
	}
	svc := newQuotaService(store, nil)

	_, err := svc.Create(context.Background(), CreateQuotaRequest{
		Title:        "Batch 2",
		AcademicYear: "2025/2026",
		MaxSeats:     20,
		Audience:     models.AudienceStudents,
	})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestQuotaServiceUpdateCapacityBelowRegistered(t *testing.T) {
	store := &mockQuotaStore{
		updateOK: true,
		quotas: map[string]*models.Quota{"quota-1": {
			ID: "quota-1", Title: "Batch 1", AcademicYear: "2025/2026",
			MaxSeats: 40, StudentsRegistered: 25, TeachersRegistered: 5,
			Audience: models.AudienceBoth, Status: models.QuotaStatusOpen,
		}},
	}
	svc := newQuotaService(store, nil)

	smaller := 20
	_, err := svc.Update(context.Background(), "quota-1", UpdateQuotaRequest{MaxSeats: &smaller})
	assert.ErrorIs(t, err, appErrors.ErrCapacityBelowRegistered)
	assert.Zero(t, store.updateCalls)

	larger := 60
	quota, err := svc.Update(context.Background(), "quota-1", UpdateQuotaRequest{MaxSeats: &larger})
	require.NoError(t, err)
	assert.Equal(t, 60, quota.MaxSeats)
}

func TestQuotaServiceUpdateGuardLostRace(t *testing.T) {
	// The service-side check passes but the conditional UPDATE reports no
	// affected rows because registrations landed concurrently.
	store := &mockQuotaStore{
		updateOK: false,
		quotas: map[string]*models.Quota{"quota-1": {
			ID: "quota-1", Title: "Batch 1", AcademicYear: "2025/2026",
			MaxSeats: 40, StudentsRegistered: 10,
			Audience: models.AudienceBoth, Status: models.QuotaStatusOpen,
		}},
	}
	svc := newQuotaService(store, nil)

	seats := 12
	_, err := svc.Update(context.Background(), "quota-1", UpdateQuotaRequest{MaxSeats: &seats})
	assert.ErrorIs(t, err, appErrors.ErrCapacityBelowRegistered)
}

func TestQuotaServiceUpdateReopensFullQuota(t *testing.T) {
	store := &mockQuotaStore{
		updateOK: true,
		quotas: map[string]*models.Quota{"quota-1": {
			ID: "quota-1", Title: "Batch 1", AcademicYear: "2025/2026",
			MaxSeats: 30, StudentsRegistered: 30,
			Audience: models.AudienceBoth, Status: models.QuotaStatusFull,
		}},
	}
	svc := newQuotaService(store, nil)

	seats := 50
	quota, err := svc.Update(context.Background(), "quota-1", UpdateQuotaRequest{MaxSeats: &seats})
	require.NoError(t, err)
	assert.Equal(t, models.QuotaStatusOpen, quota.Status)
}

func TestQuotaServiceToggleStatus(t *testing.T) {
	store := &mockQuotaStore{
		updateOK: true,
		quotas: map[string]*models.Quota{"quota-1": {
			ID: "quota-1", MaxSeats: 40, StudentsRegistered: 10,
			Audience: models.AudienceBoth, Status: models.QuotaStatusOpen,
		}},
	}
	svc := newQuotaService(store, nil)

	quota, err := svc.ToggleStatus(context.Background(), "quota-1")
	require.NoError(t, err)
	assert.Equal(t, models.QuotaStatusClosed, quota.Status)

	quota, err = svc.ToggleStatus(context.Background(), "quota-1")
	require.NoError(t, err)
	assert.Equal(t, models.QuotaStatusOpen, quota.Status)

	// A closed quota at capacity reopens as FULL, not OPEN.
	store.quotas["quota-1"].StudentsRegistered = 40
	store.quotas["quota-1"].Status = models.QuotaStatusClosed
	quota, err = svc.ToggleStatus(context.Background(), "quota-1")
	require.NoError(t, err)
	assert.Equal(t, models.QuotaStatusFull, quota.Status)

	quota, err = svc.ToggleStatus(context.Background(), "quota-1")
	require.NoError(t, err)
	assert.Equal(t, models.QuotaStatusClosed, quota.Status)
}

func TestQuotaServiceDeleteBlockedByActiveRegistrations(t *testing.T) {
	store := &mockQuotaStore{
		quotas: map[string]*models.Quota{"quota-1": {ID: "quota-1", MaxSeats: 40}},
	}
	counter := &mockRegistrationCounter{counts: map[string]int{"quota-1": 3}}
	svc := newQuotaService(store, counter)

	err := svc.Delete(context.Background(), "quota-1")
	assert.ErrorIs(t, err, appErrors.ErrHasActiveRegistrations)
	assert.Empty(t, store.deleted)

	counter.counts["quota-1"] = 0
	require.NoError(t, svc.Delete(context.Background(), "quota-1"))
	assert.Contains(t, store.deleted, "quota-1")
}

func TestQuotaServiceListOpenForRole(t *testing.T) {
	store := &mockQuotaStore{quotas: map[string]*models.Quota{
		"quota-s": {ID: "quota-s", Audience: models.AudienceStudents, Status: models.QuotaStatusOpen, MaxSeats: 10},
		"quota-t": {ID: "quota-t", Audience: models.AudienceTeachers, Status: models.QuotaStatusOpen, MaxSeats: 10},
		"quota-b": {ID: "quota-b", Audience: models.AudienceBoth, Status: models.QuotaStatusOpen, MaxSeats: 10},
	}}
	svc := newQuotaService(store, nil)

	infos, err := svc.ListOpenForRole(context.Background(), models.RoleStudent)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
	for _, info := range infos {
		assert.NotEqual(t, models.AudienceTeachers, info.Audience)
	}
}
