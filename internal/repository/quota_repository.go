package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/p4-jakarta/portal-api/internal/models"
)

// QuotaRepository handles persistence of training quotas. Seat counters are
// only written through the reserve/release helpers, which run inside the
// registration transaction.
type QuotaRepository struct {
	db *sqlx.DB
}

// NewQuotaRepository constructs the repository.
func NewQuotaRepository(db *sqlx.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

const quotaColumns = `id, title, academic_year, start_date, end_date, time_note, max_seats,
        students_registered, teachers_registered, audience, status, description, created_at, updated_at`

// Create persists a new quota record with counters at zero and status OPEN.
func (r *QuotaRepository) Create(ctx context.Context, quota *models.Quota) error {
	if quota.ID == "" {
		quota.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	quota.StudentsRegistered = 0
	quota.TeachersRegistered = 0
	quota.Status = models.QuotaStatusOpen
	quota.CreatedAt = now
	quota.UpdatedAt = now
	const query = `INSERT INTO quotas (id, title, academic_year, start_date, end_date, time_note, max_seats,
        students_registered, teachers_registered, audience, status, description, created_at, updated_at)
        VALUES (:id, :title, :academic_year, :start_date, :end_date, :time_note, :max_seats,
        :students_registered, :teachers_registered, :audience, :status, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, quota); err != nil {
		return fmt.Errorf("create quota: %w", err)
	}
	return nil
}

// FindByID returns a quota by its ID.
func (r *QuotaRepository) FindByID(ctx context.Context, id string) (*models.Quota, error) {
	query := fmt.Sprintf(`SELECT %s FROM quotas WHERE id = $1`, quotaColumns)
	var quota models.Quota
	if err := r.db.GetContext(ctx, &quota, query, id); err != nil {
		return nil, err
	}
	return &quota, nil
}

// FindByAcademicYear returns the quota labelled with the given academic year.
func (r *QuotaRepository) FindByAcademicYear(ctx context.Context, year string) (*models.Quota, error) {
	query := fmt.Sprintf(`SELECT %s FROM quotas WHERE academic_year = $1`, quotaColumns)
	var quota models.Quota
	if err := r.db.GetContext(ctx, &quota, query, year); err != nil {
		return nil, err
	}
	return &quota, nil
}

// FindActive returns the most recently created quota whose status is OPEN or
// FULL. Legacy student flows treat this as the current offering.
func (r *QuotaRepository) FindActive(ctx context.Context) (*models.Quota, error) {
	query := fmt.Sprintf(`SELECT %s FROM quotas WHERE status IN ($1, $2) ORDER BY created_at DESC LIMIT 1`, quotaColumns)
	var quota models.Quota
	if err := r.db.GetContext(ctx, &quota, query, models.QuotaStatusOpen, models.QuotaStatusFull); err != nil {
		return nil, err
	}
	return &quota, nil
}

// ListOpenByAudience returns open quotas accepting any of the given audiences.
func (r *QuotaRepository) ListOpenByAudience(ctx context.Context, audiences ...models.AudienceTarget) ([]models.Quota, error) {
	if len(audiences) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(audiences))
	args := []interface{}{models.QuotaStatusOpen}
	for i, a := range audiences {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, a)
	}
	query := fmt.Sprintf(`SELECT %s FROM quotas WHERE status = $1 AND audience IN (%s) ORDER BY created_at DESC`,
		quotaColumns, strings.Join(placeholders, ","))
	var quotas []models.Quota
	if err := r.db.SelectContext(ctx, &quotas, query, args...); err != nil {
		return nil, fmt.Errorf("list open quotas: %w", err)
	}
	return quotas, nil
}

// List returns quotas filtered by the provided criteria.
func (r *QuotaRepository) List(ctx context.Context, filter models.QuotaFilter) ([]models.Quota, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Audience != "" {
		conditions = append(conditions, fmt.Sprintf("audience = $%d", len(args)+1))
		args = append(args, filter.Audience)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":    "created_at",
		"academic_year": "academic_year",
		"max_seats":     "max_seats",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM quotas%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		quotaColumns, clause, orderBy, order, size, offset)

	var quotas []models.Quota
	if err := r.db.SelectContext(ctx, &quotas, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list quotas: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM quotas" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count quotas: %w", err)
	}
	return quotas, total, nil
}

// Update rewrites metadata, capacity and status. The capacity guard is part
// of the statement so a concurrent registration cannot slip under the new
// maximum; zero affected rows means the guard (or existence) failed.
func (r *QuotaRepository) Update(ctx context.Context, quota *models.Quota) (bool, error) {
	const query = `UPDATE quotas SET title = $2, academic_year = $3, start_date = $4, end_date = $5,
        time_note = $6, max_seats = $7, audience = $8, status = $9, description = $10, updated_at = $11
        WHERE id = $1 AND students_registered + teachers_registered <= $7`
	res, err := r.db.ExecContext(ctx, query,
		quota.ID, quota.Title, quota.AcademicYear, quota.StartDate, quota.EndDate,
		quota.TimeNote, quota.MaxSeats, quota.Audience, quota.Status, quota.Description, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update quota: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update quota result: %w", err)
	}
	return affected > 0, nil
}

// UpdateStatus updates status only.
func (r *QuotaRepository) UpdateStatus(ctx context.Context, id string, status models.QuotaStatus) error {
	const query = `UPDATE quotas SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update quota status: %w", err)
	}
	return nil
}

// Delete removes a quota together with its registration rows. Callers must
// verify no active registrations reference it first; the rows that remain at
// this point are history (cancelled, rejected, completed) and go with the
// quota, which also satisfies the restrictive foreign key on registrations.
func (r *QuotaRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete quota tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM registrations WHERE quota_id = $1`, id); err != nil {
		return fmt.Errorf("delete quota registrations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM quotas WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete quota: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete quota tx: %w", err)
	}
	return nil
}

// Occupancy returns seat usage for every quota, for the admin dashboard.
func (r *QuotaRepository) Occupancy(ctx context.Context) ([]models.QuotaOccupancy, error) {
	const query = `SELECT id AS quota_id, title, academic_year, max_seats, students_registered, teachers_registered, status
        FROM quotas ORDER BY created_at DESC`
	var rows []models.QuotaOccupancy
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("quota occupancy: %w", err)
	}
	return rows, nil
}

// findForUpdate loads and row-locks a quota inside a transaction.
func (r *QuotaRepository) findForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Quota, error) {
	query := fmt.Sprintf(`SELECT %s FROM quotas WHERE id = $1 FOR UPDATE`, quotaColumns)
	var quota models.Quota
	if err := tx.GetContext(ctx, &quota, query, id); err != nil {
		return nil, err
	}
	return &quota, nil
}

func seatColumn(role models.UserRole) string {
	if role == models.RoleTeacher {
		return "teachers_registered"
	}
	return "students_registered"
}

// reserveSeatTx atomically takes one seat for the role, flipping the quota to
// FULL when the pooled sum reaches capacity. It returns the role counter
// after the increment, or sql.ErrNoRows when the quota is not OPEN or has no
// seat left.
func (r *QuotaRepository) reserveSeatTx(ctx context.Context, tx *sqlx.Tx, quotaID string, role models.UserRole) (int, error) {
	col := seatColumn(role)
	query := fmt.Sprintf(`UPDATE quotas SET %s = %s + 1,
        status = CASE WHEN students_registered + teachers_registered + 1 >= max_seats THEN '%s' ELSE status END,
        updated_at = $2
        WHERE id = $1 AND status = '%s' AND students_registered + teachers_registered < max_seats
        RETURNING %s`, col, col, models.QuotaStatusFull, models.QuotaStatusOpen, col)
	var count int
	if err := tx.GetContext(ctx, &count, query, quotaID, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return 0, err
		}
		return 0, fmt.Errorf("reserve seat: %w", err)
	}
	return count, nil
}

// releaseSeatTx returns one seat for the role. A FULL quota reverts to OPEN;
// a manually CLOSED quota stays CLOSED.
func (r *QuotaRepository) releaseSeatTx(ctx context.Context, tx *sqlx.Tx, quotaID string, role models.UserRole) error {
	col := seatColumn(role)
	query := fmt.Sprintf(`UPDATE quotas SET %s = %s - 1,
        status = CASE WHEN status = '%s' THEN '%s' ELSE status END,
        updated_at = $2
        WHERE id = $1 AND %s > 0`, col, col, models.QuotaStatusFull, models.QuotaStatusOpen, col)
	if _, err := tx.ExecContext(ctx, query, quotaID, time.Now().UTC()); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}
