package models

import "time"

// QuotaOccupancy summarises seat usage for one quota.
type QuotaOccupancy struct {
	QuotaID            string      `db:"quota_id" json:"quota_id"`
	Title              string      `db:"title" json:"title"`
	AcademicYear       string      `db:"academic_year" json:"academic_year"`
	MaxSeats           int         `db:"max_seats" json:"max_seats"`
	StudentsRegistered int         `db:"students_registered" json:"students_registered"`
	TeachersRegistered int         `db:"teachers_registered" json:"teachers_registered"`
	Status             QuotaStatus `db:"status" json:"status"`
}

// RegistrationStatusCount aggregates registrations by role and status.
type RegistrationStatusCount struct {
	ActorRole UserRole           `db:"actor_role" json:"actor_role"`
	Status    RegistrationStatus `db:"status" json:"status"`
	Count     int                `db:"count" json:"count"`
}

// SystemMetrics is an aggregated runtime snapshot for the admin dashboard.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// DashboardSummary is the admin landing payload.
type DashboardSummary struct {
	TotalStudents        int                       `json:"total_students"`
	TotalTeachers        int                       `json:"total_teachers"`
	PendingApprovals     int                       `json:"pending_approvals"`
	ActiveQuota          *QuotaInfo                `json:"active_quota,omitempty"`
	QuotaOccupancy       []QuotaOccupancy          `json:"quota_occupancy"`
	RegistrationsByState []RegistrationStatusCount `json:"registrations_by_state"`
	GeneratedAt          time.Time                 `json:"generated_at"`
}
