package service

import (
	"github.com/p4-jakarta/portal-api/internal/models"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
)

// DefaultYearlyRegistrationCap limits how many active registrations one actor
// may hold within a calendar year.
const DefaultYearlyRegistrationCap = 3

// EligibilityPolicy decides whether an actor may register for a quota. The
// checks are ordered so callers always surface the same failure for the same
// state, regardless of which inputs are stale.
type EligibilityPolicy struct {
	YearlyCap int
}

// NewEligibilityPolicy returns a policy with the default yearly cap.
func NewEligibilityPolicy() *EligibilityPolicy {
	return &EligibilityPolicy{YearlyCap: DefaultYearlyRegistrationCap}
}

// Evaluate runs the ordered eligibility checks against a snapshot of state.
// activeThisYear is the actor's count of active registrations in the current
// calendar year; hasActiveForQuota reports an existing active registration on
// this quota. The registration transaction re-checks quota state under lock;
// this pass exists to fail fast with a precise error.
func (p *EligibilityPolicy) Evaluate(quota *models.Quota, role models.UserRole, activeThisYear int, hasActiveForQuota bool) error {
	if quota == nil {
		return appErrors.ErrQuotaNotFound
	}
	if !quota.Audience.Accepts(role) {
		return appErrors.ErrAudienceMismatch
	}
	switch quota.Status {
	case models.QuotaStatusClosed:
		return appErrors.ErrRegistrationClosed
	case models.QuotaStatusFull:
		return appErrors.ErrQuotaFull
	}
	limit := p.YearlyCap
	if limit <= 0 {
		limit = DefaultYearlyRegistrationCap
	}
	if activeThisYear >= limit {
		return appErrors.ErrYearlyCapReached
	}
	if hasActiveForQuota {
		return appErrors.ErrAlreadyRegistered
	}
	// Capacity pre-check for both roles; the registration transaction
	// re-validates under lock, this only narrows the race window.
	if quota.SeatsRemaining() == 0 {
		return appErrors.ErrQuotaFull
	}
	return nil
}
