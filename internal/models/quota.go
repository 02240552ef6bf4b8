package models

import "time"

// QuotaStatus represents the lifecycle of a training quota.
type QuotaStatus string

// Possible quota statuses.
const (
	QuotaStatusOpen   QuotaStatus = "OPEN"
	QuotaStatusClosed QuotaStatus = "CLOSED"
	QuotaStatusFull   QuotaStatus = "FULL"
)

// AudienceTarget restricts which roles a quota accepts registrations from.
type AudienceTarget string

// Possible audience targets.
const (
	AudienceStudents AudienceTarget = "STUDENTS"
	AudienceTeachers AudienceTarget = "TEACHERS"
	AudienceBoth     AudienceTarget = "BOTH"
)

// Accepts reports whether the audience admits the given role.
func (a AudienceTarget) Accepts(role UserRole) bool {
	switch a {
	case AudienceBoth:
		return role == RoleStudent || role == RoleTeacher
	case AudienceStudents:
		return role == RoleStudent
	case AudienceTeachers:
		return role == RoleTeacher
	}
	return false
}

// Quota captures one offering of the training program with a bounded number
// of seats. Seat counters are derived state written only by the registration
// paths.
type Quota struct {
	ID                 string         `db:"id" json:"id"`
	Title              string         `db:"title" json:"title"`
	AcademicYear       string         `db:"academic_year" json:"academic_year"`
	StartDate          *time.Time     `db:"start_date" json:"start_date,omitempty"`
	EndDate            *time.Time     `db:"end_date" json:"end_date,omitempty"`
	TimeNote           string         `db:"time_note" json:"time_note"`
	MaxSeats           int            `db:"max_seats" json:"max_seats"`
	StudentsRegistered int            `db:"students_registered" json:"students_registered"`
	TeachersRegistered int            `db:"teachers_registered" json:"teachers_registered"`
	Audience           AudienceTarget `db:"audience" json:"audience"`
	Status             QuotaStatus    `db:"status" json:"status"`
	Description        string         `db:"description" json:"description"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// SeatsTaken returns the pooled seat usage across both roles.
func (q *Quota) SeatsTaken() int {
	return q.StudentsRegistered + q.TeachersRegistered
}

// SeatsRemaining returns how many seats are still available.
func (q *Quota) SeatsRemaining() int {
	remaining := q.MaxSeats - q.SeatsTaken()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// QuotaInfo is the public payload describing quota availability.
type QuotaInfo struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	AcademicYear   string         `json:"academic_year"`
	MaxSeats       int            `json:"max_seats"`
	SeatsTaken     int            `json:"seats_taken"`
	SeatsRemaining int            `json:"seats_remaining"`
	Audience       AudienceTarget `json:"audience"`
	Status         QuotaStatus    `json:"status"`
	StartDate      *time.Time     `json:"start_date,omitempty"`
	EndDate        *time.Time     `json:"end_date,omitempty"`
	TimeNote       string         `json:"time_note,omitempty"`
}

// Info projects the quota into its public availability payload.
func (q *Quota) Info() QuotaInfo {
	return QuotaInfo{
		ID:             q.ID,
		Title:          q.Title,
		AcademicYear:   q.AcademicYear,
		MaxSeats:       q.MaxSeats,
		SeatsTaken:     q.SeatsTaken(),
		SeatsRemaining: q.SeatsRemaining(),
		Audience:       q.Audience,
		Status:         q.Status,
		StartDate:      q.StartDate,
		EndDate:        q.EndDate,
		TimeNote:       q.TimeNote,
	}
}

// QuotaFilter provides filters for listing quotas.
type QuotaFilter struct {
	Status    QuotaStatus
	Audience  AudienceTarget
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
