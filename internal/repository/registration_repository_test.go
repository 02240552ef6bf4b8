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
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
)

func newRegistrationRepoMock(t *testing.T) (*RegistrationRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewRegistrationRepository(sqlxDB, NewQuotaRepository(sqlxDB))
	return repo, mock, func() { db.Close() }
}

func registrationRows(id string, role models.UserRole, status models.RegistrationStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "quota_id", "actor_id", "actor_role", "sequence_number", "status",
		"assignment_letter", "reject_reason", "registered_at", "updated_at",
	}).AddRow(id, "quota-1", "actor-1", role, 5, status, nil, nil, now, now)
}

func TestRegistrationRepositoryRegisterStudentTakesSeat(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, academic_year")).
		WithArgs("quota-1").
		WillReturnRows(quotaRows("quota-1", 40, 10, 2, models.QuotaStatusOpen))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE quotas SET students_registered")).
		WillReturnRows(sqlmock.NewRows([]string{"students_registered"}).AddRow(11))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registrations")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	reg := &models.Registration{
		QuotaID:   "quota-1",
		ActorID:   "student-1",
		ActorRole: models.RoleStudent,
		Status:    models.RegistrationStatusRegistered,
	}
	require.NoError(t, repo.Register(context.Background(), reg))
	require.Equal(t, 11, reg.SequenceNumber)
	require.NotEmpty(t, reg.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryRegisterPendingHoldsNoSeat(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, academic_year")).
		WithArgs("quota-1").
		WillReturnRows(quotaRows("quota-1", 40, 10, 2, models.QuotaStatusOpen))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registrations")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	reg := &models.Registration{
		QuotaID:   "quota-1",
		ActorID:   "teacher-1",
		ActorRole: models.RoleTeacher,
		Status:    models.RegistrationStatusPending,
	}
	require.NoError(t, repo.Register(context.Background(), reg))
	require.Equal(t, 3, reg.SequenceNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryRegisterFullQuota(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, academic_year")).
		WithArgs("quota-1").
		WillReturnRows(quotaRows("quota-1", 40, 38, 2, models.QuotaStatusFull))
	mock.ExpectRollback()

	reg := &models.Registration{
		QuotaID:   "quota-1",
		ActorID:   "student-1",
		ActorRole: models.RoleStudent,
		Status:    models.RegistrationStatusRegistered,
	}
	err := repo.Register(context.Background(), reg)
	require.ErrorIs(t, err, appErrors.ErrQuotaFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryRegisterLosesRaceForLastSeat(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	// Quota reads OPEN but the conditional seat update matches no rows:
	// another transaction claimed the last seat first.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, academic_year")).
		WithArgs("quota-1").
		WillReturnRows(quotaRows("quota-1", 40, 39, 0, models.QuotaStatusOpen))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE quotas SET students_registered")).
		WillReturnRows(sqlmock.NewRows([]string{"students_registered"}))
	mock.ExpectRollback()

	reg := &models.Registration{
		QuotaID:   "quota-1",
		ActorID:   "student-2",
		ActorRole: models.RoleStudent,
		Status:    models.RegistrationStatusRegistered,
	}
	err := repo.Register(context.Background(), reg)
	require.ErrorIs(t, err, appErrors.ErrQuotaFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryRegisterClosedQuota(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, academic_year")).
		WithArgs("quota-1").
		WillReturnRows(quotaRows("quota-1", 40, 5, 0, models.QuotaStatusClosed))
	mock.ExpectRollback()

	reg := &models.Registration{
		QuotaID:   "quota-1",
		ActorID:   "student-1",
		ActorRole: models.RoleStudent,
		Status:    models.RegistrationStatusRegistered,
	}
	err := repo.Register(context.Background(), reg)
	require.ErrorIs(t, err, appErrors.ErrRegistrationClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryApprovePendingReservesSeat(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, quota_id, actor_id")).
		WithArgs("reg-1").
		WillReturnRows(registrationRows("reg-1", models.RoleTeacher, models.RegistrationStatusPending))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, academic_year")).
		WithArgs("quota-1").
		WillReturnRows(quotaRows("quota-1", 40, 10, 3, models.QuotaStatusOpen))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE quotas SET teachers_registered")).
		WillReturnRows(sqlmock.NewRows([]string{"teachers_registered"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reg, err := repo.Approve(context.Background(), "reg-1")
	require.NoError(t, err)
	require.Equal(t, models.RegistrationStatusApproved, reg.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryApproveOnClosedQuota(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	// An admin closed the quota while the request was pending; the outcome
	// distinguishes that from a quota that simply ran out of seats.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, quota_id, actor_id")).
		WithArgs("reg-1").
		WillReturnRows(registrationRows("reg-1", models.RoleTeacher, models.RegistrationStatusPending))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, academic_year")).
		WithArgs("quota-1").
		WillReturnRows(quotaRows("quota-1", 40, 10, 3, models.QuotaStatusClosed))
	mock.ExpectRollback()

	_, err := repo.Approve(context.Background(), "reg-1")
	require.ErrorIs(t, err, appErrors.ErrRegistrationClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryApproveOnFullQuota(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, quota_id, actor_id")).
		WithArgs("reg-1").
		WillReturnRows(registrationRows("reg-1", models.RoleTeacher, models.RegistrationStatusPending))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, academic_year")).
		WithArgs("quota-1").
		WillReturnRows(quotaRows("quota-1", 40, 38, 2, models.QuotaStatusFull))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE quotas SET teachers_registered")).
		WillReturnRows(sqlmock.NewRows([]string{"teachers_registered"}))
	mock.ExpectRollback()

	_, err := repo.Approve(context.Background(), "reg-1")
	require.ErrorIs(t, err, appErrors.ErrQuotaFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryApproveTerminalState(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, quota_id, actor_id")).
		WithArgs("reg-1").
		WillReturnRows(registrationRows("reg-1", models.RoleTeacher, models.RegistrationStatusCancelled))
	mock.ExpectRollback()

	_, err := repo.Approve(context.Background(), "reg-1")
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryCancelReleasesSeat(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, quota_id, actor_id")).
		WithArgs("reg-1").
		WillReturnRows(registrationRows("reg-1", models.RoleStudent, models.RegistrationStatusRegistered))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE quotas SET students_registered")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reg, err := repo.Cancel(context.Background(), "reg-1")
	require.NoError(t, err)
	require.Equal(t, models.RegistrationStatusCancelled, reg.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryCancelTwiceFails(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, quota_id, actor_id")).
		WithArgs("reg-1").
		WillReturnRows(registrationRows("reg-1", models.RoleStudent, models.RegistrationStatusCancelled))
	mock.ExpectRollback()

	_, err := repo.Cancel(context.Background(), "reg-1")
	require.ErrorIs(t, err, appErrors.ErrInvalidStateForCancel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryCancelApprovedTeacherFails(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	// The document flow only allows cancelling while still PENDING.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, quota_id, actor_id")).
		WithArgs("reg-1").
		WillReturnRows(registrationRows("reg-1", models.RoleTeacher, models.RegistrationStatusApproved))
	mock.ExpectRollback()

	_, err := repo.Cancel(context.Background(), "reg-1")
	require.ErrorIs(t, err, appErrors.ErrInvalidStateForCancel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryRejectPendingSkipsRelease(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, quota_id, actor_id")).
		WithArgs("reg-1").
		WillReturnRows(registrationRows("reg-1", models.RoleTeacher, models.RegistrationStatusPending))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reg, err := repo.Reject(context.Background(), "reg-1", "letter missing")
	require.NoError(t, err)
	require.Equal(t, models.RegistrationStatusRejected, reg.Status)
	require.NotNil(t, reg.RejectReason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryCompleteReleasesSeat(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, quota_id, actor_id")).
		WithArgs("reg-1").
		WillReturnRows(registrationRows("reg-1", models.RoleTeacher, models.RegistrationStatusDocumentSubmitted))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE quotas SET teachers_registered")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reg, err := repo.Complete(context.Background(), "reg-1")
	require.NoError(t, err)
	require.Equal(t, models.RegistrationStatusCompleted, reg.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositorySubmitLetter(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations SET assignment_letter")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SubmitLetter(context.Background(), "reg-1", "letter.pdf"))

	// Letters can only be attached to an APPROVED registration.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE registrations SET assignment_letter")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.SubmitLetter(context.Background(), "reg-1", "letter.pdf")
	require.ErrorIs(t, err, appErrors.ErrInvalidStateTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryCountActiveInYear(t *testing.T) {
	repo, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()

	// The year bucket is computed in UTC, not the session time zone.
	mock.ExpectQuery(regexp.QuoteMeta("EXTRACT(YEAR FROM registered_at AT TIME ZONE 'UTC')")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountActiveInYear(context.Background(), "actor-1", 2026)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
