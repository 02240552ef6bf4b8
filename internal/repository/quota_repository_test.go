package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/p4-jakarta/portal-api/internal/models"
)

func newQuotaRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func quotaRows(id string, maxSeats, students, teachers int, status models.QuotaStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "title", "academic_year", "start_date", "end_date", "time_note", "max_seats",
		"students_registered", "teachers_registered", "audience", "status", "description",
		"created_at", "updated_at",
	}).AddRow(id, "Batch 1", "2025/2026", nil, nil, "Every Saturday", maxSeats,
		students, teachers, models.AudienceBoth, status, "", now, now)
}

func TestQuotaRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newQuotaRepoMock(t)
	defer cleanup()

	repo := NewQuotaRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO quotas")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	quota := &models.Quota{
		Title:        "Batch 1",
		AcademicYear: "2025/2026",
		MaxSeats:     40,
		Audience:     models.AudienceBoth,
	}
	require.NoError(t, repo.Create(context.Background(), quota))
	require.NotEmpty(t, quota.ID)
	require.Equal(t, models.QuotaStatusOpen, quota.Status)
	require.Zero(t, quota.StudentsRegistered)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, academic_year")).
		WithArgs(quota.ID).
		WillReturnRows(quotaRows(quota.ID, 40, 0, 0, models.QuotaStatusOpen))

	found, err := repo.FindByID(context.Background(), quota.ID)
	require.NoError(t, err)
	require.Equal(t, quota.ID, found.ID)
	require.Equal(t, 40, found.MaxSeats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryListOpenByAudience(t *testing.T) {
	db, mock, cleanup := newQuotaRepoMock(t)
	defer cleanup()

	repo := NewQuotaRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, academic_year")).
		WithArgs(string(models.QuotaStatusOpen), string(models.AudienceStudents), string(models.AudienceBoth)).
		WillReturnRows(quotaRows("quota-1", 40, 5, 0, models.QuotaStatusOpen))

	quotas, err := repo.ListOpenByAudience(context.Background(), models.AudienceStudents, models.AudienceBoth)
	require.NoError(t, err)
	require.Len(t, quotas, 1)
	require.Equal(t, "quota-1", quotas[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryUpdateCapacityGuard(t *testing.T) {
	db, mock, cleanup := newQuotaRepoMock(t)
	defer cleanup()

	repo := NewQuotaRepository(db)
	quota := &models.Quota{
		ID:           "quota-1",
		Title:        "Batch 1",
		AcademicYear: "2025/2026",
		MaxSeats:     30,
		Audience:     models.AudienceBoth,
		Status:       models.QuotaStatusOpen,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE quotas SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.Update(context.Background(), quota)
	require.NoError(t, err)
	require.True(t, ok)

	// Guard rejects a capacity below the registered total: no rows affected.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE quotas SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.Update(context.Background(), quota)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryDeleteRemovesHistoryRows(t *testing.T) {
	db, mock, cleanup := newQuotaRepoMock(t)
	defer cleanup()

	repo := NewQuotaRepository(db)

	// Cancelled and other terminal registrations still reference the quota;
	// they are removed in the same transaction so the quota delete succeeds.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM registrations WHERE quota_id")).
		WithArgs("quota-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM quotas WHERE id")).
		WithArgs("quota-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "quota-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaRepositoryOccupancy(t *testing.T) {
	db, mock, cleanup := newQuotaRepoMock(t)
	defer cleanup()

	repo := NewQuotaRepository(db)
	rows := sqlmock.NewRows([]string{"quota_id", "title", "academic_year", "max_seats", "students_registered", "teachers_registered", "status"}).
		AddRow("quota-1", "Batch 1", "2025/2026", 40, 12, 3, models.QuotaStatusOpen)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id AS quota_id")).WillReturnRows(rows)

	occupancy, err := repo.Occupancy(context.Background())
	require.NoError(t, err)
	require.Len(t, occupancy, 1)
	require.Equal(t, 12, occupancy[0].StudentsRegistered)
	require.NoError(t, mock.ExpectationsWereMet())
}
