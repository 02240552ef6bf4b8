package models

import "time"

// RegistrationStatus represents the lifecycle of a registration.
type RegistrationStatus string

// Possible registration statuses. PENDING and DOCUMENT_SUBMITTED only occur
// on the teacher path, which requires an assignment letter.
const (
	RegistrationStatusPending           RegistrationStatus = "PENDING"
	RegistrationStatusRegistered        RegistrationStatus = "REGISTERED"
	RegistrationStatusApproved          RegistrationStatus = "APPROVED"
	RegistrationStatusDocumentSubmitted RegistrationStatus = "DOCUMENT_SUBMITTED"
	RegistrationStatusRejected          RegistrationStatus = "REJECTED"
	RegistrationStatusCancelled         RegistrationStatus = "CANCELLED"
	RegistrationStatusCompleted         RegistrationStatus = "COMPLETED"
)

// SeatCounted reports whether the status currently occupies a quota seat.
func (s RegistrationStatus) SeatCounted() bool {
	switch s {
	case RegistrationStatusRegistered, RegistrationStatusApproved, RegistrationStatusDocumentSubmitted:
		return true
	}
	return false
}

// Active reports whether the status blocks duplicate registrations, counts
// toward the yearly cap, and prevents quota deletion.
func (s RegistrationStatus) Active() bool {
	switch s {
	case RegistrationStatusPending, RegistrationStatusRegistered, RegistrationStatusApproved, RegistrationStatusDocumentSubmitted:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s RegistrationStatus) Terminal() bool {
	switch s {
	case RegistrationStatusRejected, RegistrationStatusCancelled, RegistrationStatusCompleted:
		return true
	}
	return false
}

// ActiveRegistrationStatuses lists statuses considered active, for queries.
var ActiveRegistrationStatuses = []RegistrationStatus{
	RegistrationStatusPending,
	RegistrationStatusRegistered,
	RegistrationStatusApproved,
	RegistrationStatusDocumentSubmitted,
}

// RoleRequiresDocument reports whether registrations for the role follow the
// document flow (assignment letter upload and PENDING/DOCUMENT_SUBMITTED
// states).
func RoleRequiresDocument(role UserRole) bool {
	return role == RoleTeacher
}

// Registration captures one actor's claim on one quota. Students and
// teachers share the same record shape; the role decides whether the
// document flow applies.
type Registration struct {
	ID               string             `db:"id" json:"id"`
	QuotaID          string             `db:"quota_id" json:"quota_id"`
	ActorID          string             `db:"actor_id" json:"actor_id"`
	ActorRole        UserRole           `db:"actor_role" json:"actor_role"`
	SequenceNumber   int                `db:"sequence_number" json:"sequence_number"`
	Status           RegistrationStatus `db:"status" json:"status"`
	AssignmentLetter *string            `db:"assignment_letter" json:"assignment_letter,omitempty"`
	RejectReason     *string            `db:"reject_reason" json:"reject_reason,omitempty"`
	RegisteredAt     time.Time          `db:"registered_at" json:"registered_at"`
	UpdatedAt        time.Time          `db:"updated_at" json:"updated_at"`
}

// RegistrationDetail enriches Registration with actor and quota info.
type RegistrationDetail struct {
	Registration
	ActorName    string `db:"actor_name" json:"actor_name"`
	ActorEmail   string `db:"actor_email" json:"actor_email"`
	IdentityNo   string `db:"identity_no" json:"identity_no"`
	QuotaTitle   string `db:"quota_title" json:"quota_title"`
	AcademicYear string `db:"academic_year" json:"academic_year"`
}

// RegistrationFilter provides filters for listing registrations.
type RegistrationFilter struct {
	QuotaID   string
	ActorID   string
	ActorRole UserRole
	Status    RegistrationStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
