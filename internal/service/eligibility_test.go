package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p4-jakarta/portal-api/internal/models"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
)

func openQuota(max, students, teachers int, audience models.AudienceTarget) *models.Quota {
	return &models.Quota{
		ID:                 "quota-1",
		MaxSeats:           max,
		StudentsRegistered: students,
		TeachersRegistered: teachers,
		Audience:           audience,
		Status:             models.QuotaStatusOpen,
	}
}

func TestEligibilityAllowsOpenQuota(t *testing.T) {
	policy := NewEligibilityPolicy()
	err := policy.Evaluate(openQuota(40, 10, 2, models.AudienceBoth), models.RoleStudent, 0, false)
	require.NoError(t, err)
}

func TestEligibilityMissingQuota(t *testing.T) {
	policy := NewEligibilityPolicy()
	err := policy.Evaluate(nil, models.RoleStudent, 0, false)
	assert.ErrorIs(t, err, appErrors.ErrQuotaNotFound)
}

func TestEligibilityAudienceMismatch(t *testing.T) {
	policy := NewEligibilityPolicy()
	err := policy.Evaluate(openQuota(40, 0, 0, models.AudienceTeachers), models.RoleStudent, 0, false)
	assert.ErrorIs(t, err, appErrors.ErrAudienceMismatch)

	err = policy.Evaluate(openQuota(40, 0, 0, models.AudienceStudents), models.RoleTeacher, 0, false)
	assert.ErrorIs(t, err, appErrors.ErrAudienceMismatch)
}

func TestEligibilityClosedAndFull(t *testing.T) {
	policy := NewEligibilityPolicy()

	closed := openQuota(40, 0, 0, models.AudienceBoth)
	closed.Status = models.QuotaStatusClosed
	assert.ErrorIs(t, policy.Evaluate(closed, models.RoleStudent, 0, false), appErrors.ErrRegistrationClosed)

	full := openQuota(40, 38, 2, models.AudienceBoth)
	full.Status = models.QuotaStatusFull
	assert.ErrorIs(t, policy.Evaluate(full, models.RoleStudent, 0, false), appErrors.ErrQuotaFull)

	// Counters at capacity win even when the status flag lags behind.
	stale := openQuota(40, 39, 1, models.AudienceBoth)
	assert.ErrorIs(t, policy.Evaluate(stale, models.RoleStudent, 0, false), appErrors.ErrQuotaFull)
}

func TestEligibilityYearlyCapBeforeDuplicate(t *testing.T) {
	policy := NewEligibilityPolicy()
	err := policy.Evaluate(openQuota(40, 1, 0, models.AudienceBoth), models.RoleStudent, DefaultYearlyRegistrationCap, true)
	assert.ErrorIs(t, err, appErrors.ErrYearlyCapReached)
}

func TestEligibilityDuplicate(t *testing.T) {
	policy := NewEligibilityPolicy()
	err := policy.Evaluate(openQuota(40, 1, 0, models.AudienceBoth), models.RoleStudent, 0, true)
	assert.ErrorIs(t, err, appErrors.ErrAlreadyRegistered)
}

func TestEligibilityYearlyCap(t *testing.T) {
	policy := NewEligibilityPolicy()
	err := policy.Evaluate(openQuota(40, 1, 0, models.AudienceBoth), models.RoleStudent, DefaultYearlyRegistrationCap, false)
	assert.ErrorIs(t, err, appErrors.ErrYearlyCapReached)

	err = policy.Evaluate(openQuota(40, 1, 0, models.AudienceBoth), models.RoleStudent, DefaultYearlyRegistrationCap-1, false)
	require.NoError(t, err)
}

func TestEligibilityCustomCap(t *testing.T) {
	policy := &EligibilityPolicy{YearlyCap: 1}
	err := policy.Evaluate(openQuota(40, 0, 0, models.AudienceBoth), models.RoleTeacher, 1, false)
	assert.ErrorIs(t, err, appErrors.ErrYearlyCapReached)
}
