package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/p4-jakarta/portal-api/internal/models"
	appErrors "github.com/p4-jakarta/portal-api/pkg/errors"
)

// RegistrationRepository handles persistence of registrations. Every write
// that affects seat accounting runs inside one transaction together with the
// quota counter update, so records and counters can never diverge.
type RegistrationRepository struct {
	db     *sqlx.DB
	quotas *QuotaRepository
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB, quotas *QuotaRepository) *RegistrationRepository {
	return &RegistrationRepository{db: db, quotas: quotas}
}

const registrationColumns = `id, quota_id, actor_id, actor_role, sequence_number, status,
        assignment_letter, reject_reason, registered_at, updated_at`

const uniqueViolation = "23505"

// List returns registrations with actor and quota context.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	base := `FROM registrations rg
LEFT JOIN users u ON u.id = rg.actor_id
LEFT JOIN quotas q ON q.id = rg.quota_id`
	var conditions []string
	var args []interface{}

	if filter.QuotaID != "" {
		conditions = append(conditions, fmt.Sprintf("rg.quota_id = $%d", len(args)+1))
		args = append(args, filter.QuotaID)
	}
	if filter.ActorID != "" {
		conditions = append(conditions, fmt.Sprintf("rg.actor_id = $%d", len(args)+1))
		args = append(args, filter.ActorID)
	}
	if filter.ActorRole != "" {
		conditions = append(conditions, fmt.Sprintf("rg.actor_role = $%d", len(args)+1))
		args = append(args, filter.ActorRole)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("rg.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"registered_at":   "rg.registered_at",
		"sequence_number": "rg.sequence_number",
		"actor_name":      "u.full_name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "rg.registered_at"
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

	query := fmt.Sprintf(`SELECT rg.id, rg.quota_id, rg.actor_id, rg.actor_role, rg.sequence_number, rg.status,
        rg.assignment_letter, rg.reject_reason, rg.registered_at, rg.updated_at,
        u.full_name AS actor_name, u.email AS actor_email, u.identity_no,
        q.title AS quota_title, q.academic_year
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var details []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &details, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}
	return details, total, nil
}

// FindByID returns a registration by its ID.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations WHERE id = $1`, registrationColumns)
	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, id); err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindDetailByID returns a registration with actor and quota context.
func (r *RegistrationRepository) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	const query = `SELECT rg.id, rg.quota_id, rg.actor_id, rg.actor_role, rg.sequence_number, rg.status,
        rg.assignment_letter, rg.reject_reason, rg.registered_at, rg.updated_at,
        u.full_name AS actor_name, u.email AS actor_email, u.identity_no,
        q.title AS quota_title, q.academic_year
        FROM registrations rg
        LEFT JOIN users u ON u.id = rg.actor_id
        LEFT JOIN quotas q ON q.id = rg.quota_id
        WHERE rg.id = $1`
	var detail models.RegistrationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByActor returns the actor's registrations, newest first.
func (r *RegistrationRepository) ListByActor(ctx context.Context, actorID string) ([]models.RegistrationDetail, error) {
	const query = `SELECT rg.id, rg.quota_id, rg.actor_id, rg.actor_role, rg.sequence_number, rg.status,
        rg.assignment_letter, rg.reject_reason, rg.registered_at, rg.updated_at,
        u.full_name AS actor_name, u.email AS actor_email, u.identity_no,
        q.title AS quota_title, q.academic_year
        FROM registrations rg
        LEFT JOIN users u ON u.id = rg.actor_id
        LEFT JOIN quotas q ON q.id = rg.quota_id
        WHERE rg.actor_id = $1
        ORDER BY rg.registered_at DESC`
	var details []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &details, query, actorID); err != nil {
		return nil, fmt.Errorf("list actor registrations: %w", err)
	}
	return details, nil
}

// ListRosterByQuota returns all registrations for a quota ordered by their
// sequence number, for roster exports.
func (r *RegistrationRepository) ListRosterByQuota(ctx context.Context, quotaID string) ([]models.RegistrationDetail, error) {
	const query = `SELECT rg.id, rg.quota_id, rg.actor_id, rg.actor_role, rg.sequence_number, rg.status,
        rg.assignment_letter, rg.reject_reason, rg.registered_at, rg.updated_at,
        u.full_name AS actor_name, u.email AS actor_email, u.identity_no,
        q.title AS quota_title, q.academic_year
        FROM registrations rg
        LEFT JOIN users u ON u.id = rg.actor_id
        LEFT JOIN quotas q ON q.id = rg.quota_id
        WHERE rg.quota_id = $1
        ORDER BY rg.sequence_number ASC`
	var details []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &details, query, quotaID); err != nil {
		return nil, fmt.Errorf("list quota roster: %w", err)
	}
	return details, nil
}

// FindActiveByActorAndQuota returns the actor's active registration for the
// quota, if any.
func (r *RegistrationRepository) FindActiveByActorAndQuota(ctx context.Context, actorID, quotaID string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations
        WHERE actor_id = $1 AND quota_id = $2 AND status IN ($3, $4, $5, $6)
        LIMIT 1`, registrationColumns)
	var reg models.Registration
	err := r.db.GetContext(ctx, &reg, query, actorID, quotaID,
		models.RegistrationStatusPending, models.RegistrationStatusRegistered,
		models.RegistrationStatusApproved, models.RegistrationStatusDocumentSubmitted)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// CountActiveInYear counts the actor's active registrations whose
// registered_at falls in the given calendar year. The year is taken in UTC
// to match how registration timestamps are written, independent of the
// database session time zone.
func (r *RegistrationRepository) CountActiveInYear(ctx context.Context, actorID string, year int) (int, error) {
	const query = `SELECT COUNT(*) FROM registrations
        WHERE actor_id = $1 AND status IN ($2, $3, $4, $5)
        AND EXTRACT(YEAR FROM registered_at AT TIME ZONE 'UTC') = $6`
	var count int
	err := r.db.GetContext(ctx, &count, query, actorID,
		models.RegistrationStatusPending, models.RegistrationStatusRegistered,
		models.RegistrationStatusApproved, models.RegistrationStatusDocumentSubmitted, year)
	if err != nil {
		return 0, fmt.Errorf("count yearly registrations: %w", err)
	}
	return count, nil
}

// CountActiveByQuota counts active registrations referencing the quota.
func (r *RegistrationRepository) CountActiveByQuota(ctx context.Context, quotaID string) (int, error) {
	const query = `SELECT COUNT(*) FROM registrations
        WHERE quota_id = $1 AND status IN ($2, $3, $4, $5)`
	var count int
	err := r.db.GetContext(ctx, &count, query, quotaID,
		models.RegistrationStatusPending, models.RegistrationStatusRegistered,
		models.RegistrationStatusApproved, models.RegistrationStatusDocumentSubmitted)
	if err != nil {
		return 0, fmt.Errorf("count quota registrations: %w", err)
	}
	return count, nil
}

// CountsByStatus aggregates registrations by role and status.
func (r *RegistrationRepository) CountsByStatus(ctx context.Context) ([]models.RegistrationStatusCount, error) {
	const query = `SELECT actor_role, status, COUNT(*) AS count FROM registrations GROUP BY actor_role, status`
	var counts []models.RegistrationStatusCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count registrations by status: %w", err)
	}
	return counts, nil
}

// Register inserts the registration and, when its initial status occupies a
// seat, takes the seat in the same transaction. The quota row is locked and
// re-validated inside the transaction, so two concurrent registrations
// cannot both claim the last seat.
func (r *RegistrationRepository) Register(ctx context.Context, reg *models.Registration) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	quota, err := r.quotas.findForUpdate(ctx, tx, reg.QuotaID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrQuotaNotFound
		}
		return fmt.Errorf("lock quota: %w", err)
	}
	if quota.Status != models.QuotaStatusOpen {
		if quota.Status == models.QuotaStatusFull {
			return appErrors.ErrQuotaFull
		}
		return appErrors.ErrRegistrationClosed
	}

	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	reg.RegisteredAt = now
	reg.UpdatedAt = now

	if reg.Status.SeatCounted() {
		count, err := r.quotas.reserveSeatTx(ctx, tx, reg.QuotaID, reg.ActorRole)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.ErrQuotaFull
			}
			return err
		}
		reg.SequenceNumber = count
	} else {
		if reg.ActorRole == models.RoleTeacher {
			reg.SequenceNumber = quota.TeachersRegistered + 1
		} else {
			reg.SequenceNumber = quota.StudentsRegistered + 1
		}
	}

	const query = `INSERT INTO registrations (id, quota_id, actor_id, actor_role, sequence_number, status,
        assignment_letter, reject_reason, registered_at, updated_at)
        VALUES (:id, :quota_id, :actor_id, :actor_role, :sequence_number, :status,
        :assignment_letter, :reject_reason, :registered_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, reg); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return appErrors.ErrAlreadyRegistered
		}
		return fmt.Errorf("insert registration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit register tx: %w", err)
	}
	return nil
}

// Approve moves PENDING or REGISTERED to APPROVED. A PENDING registration
// never held a seat, so the seat is taken now; a full quota surfaces as
// QuotaFull, a manually closed one as RegistrationClosed, and nothing
// changes.
func (r *RegistrationRepository) Approve(ctx context.Context, id string) (*models.Registration, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin approve tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	reg, err := r.findForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if reg.Status != models.RegistrationStatusPending && reg.Status != models.RegistrationStatusRegistered {
		return nil, appErrors.ErrInvalidStateTransition
	}

	if !reg.Status.SeatCounted() {
		quota, err := r.quotas.findForUpdate(ctx, tx, reg.QuotaID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.ErrQuotaNotFound
			}
			return nil, fmt.Errorf("lock quota: %w", err)
		}
		if quota.Status == models.QuotaStatusClosed {
			return nil, appErrors.ErrRegistrationClosed
		}
		if _, err := r.quotas.reserveSeatTx(ctx, tx, reg.QuotaID, reg.ActorRole); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.ErrQuotaFull
			}
			return nil, err
		}
	}

	if err := r.updateStatusTx(ctx, tx, id, models.RegistrationStatusApproved, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approve tx: %w", err)
	}
	reg.Status = models.RegistrationStatusApproved
	return reg, nil
}

// Reject moves an active registration to REJECTED, releasing its seat when
// one was held.
func (r *RegistrationRepository) Reject(ctx context.Context, id, reason string) (*models.Registration, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reject tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	reg, err := r.findForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !reg.Status.Active() {
		return nil, appErrors.ErrInvalidStateTransition
	}

	if reg.Status.SeatCounted() {
		if err := r.quotas.releaseSeatTx(ctx, tx, reg.QuotaID, reg.ActorRole); err != nil {
			return nil, err
		}
	}
	if err := r.updateStatusTx(ctx, tx, id, models.RegistrationStatusRejected, &reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reject tx: %w", err)
	}
	reg.Status = models.RegistrationStatusRejected
	reg.RejectReason = &reason
	return reg, nil
}

// Cancel moves an actor-cancellable registration to CANCELLED. The document
// flow permits cancelling from PENDING only; the plain flow from REGISTERED
// only. Re-cancelling reports InvalidStateForCancel without touching
// counters.
func (r *RegistrationRepository) Cancel(ctx context.Context, id string) (*models.Registration, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	reg, err := r.findForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	allowedFrom := models.RegistrationStatusRegistered
	if models.RoleRequiresDocument(reg.ActorRole) {
		allowedFrom = models.RegistrationStatusPending
	}
	if reg.Status != allowedFrom {
		return nil, appErrors.ErrInvalidStateForCancel
	}

	if reg.Status.SeatCounted() {
		if err := r.quotas.releaseSeatTx(ctx, tx, reg.QuotaID, reg.ActorRole); err != nil {
			return nil, err
		}
	}
	if err := r.updateStatusTx(ctx, tx, id, models.RegistrationStatusCancelled, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cancel tx: %w", err)
	}
	reg.Status = models.RegistrationStatusCancelled
	return reg, nil
}

// Complete moves APPROVED or DOCUMENT_SUBMITTED to COMPLETED and releases
// the seat, keeping counters equal to the seat-counted rows.
func (r *RegistrationRepository) Complete(ctx context.Context, id string) (*models.Registration, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	reg, err := r.findForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if reg.Status != models.RegistrationStatusApproved && reg.Status != models.RegistrationStatusDocumentSubmitted {
		return nil, appErrors.ErrInvalidStateTransition
	}

	if err := r.quotas.releaseSeatTx(ctx, tx, reg.QuotaID, reg.ActorRole); err != nil {
		return nil, err
	}
	if err := r.updateStatusTx(ctx, tx, id, models.RegistrationStatusCompleted, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit complete tx: %w", err)
	}
	reg.Status = models.RegistrationStatusCompleted
	return reg, nil
}

// Delete removes the registration row, releasing its seat when the status
// had counted one.
func (r *RegistrationRepository) Delete(ctx context.Context, id string) (*models.Registration, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	reg, err := r.findForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if reg.Status.SeatCounted() {
		if err := r.quotas.releaseSeatTx(ctx, tx, reg.QuotaID, reg.ActorRole); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM registrations WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete registration: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete tx: %w", err)
	}
	return reg, nil
}

// SubmitLetter stores the assignment letter reference and moves APPROVED to
// DOCUMENT_SUBMITTED. Seat accounting is unchanged; the seat was taken at
// approval.
func (r *RegistrationRepository) SubmitLetter(ctx context.Context, id, fileName string) error {
	const query = `UPDATE registrations SET assignment_letter = $2, status = $3, updated_at = $4
        WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, fileName,
		models.RegistrationStatusDocumentSubmitted, time.Now().UTC(), models.RegistrationStatusApproved)
	if err != nil {
		return fmt.Errorf("submit assignment letter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("submit assignment letter result: %w", err)
	}
	if affected == 0 {
		return appErrors.ErrInvalidStateTransition
	}
	return nil
}

func (r *RegistrationRepository) findForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations WHERE id = $1 FOR UPDATE`, registrationColumns)
	var reg models.Registration
	if err := tx.GetContext(ctx, &reg, query, id); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *RegistrationRepository) updateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.RegistrationStatus, reason *string) error {
	const query = `UPDATE registrations SET status = $2, reject_reason = $3, updated_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, status, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("update registration status: %w", err)
	}
	return nil
}
