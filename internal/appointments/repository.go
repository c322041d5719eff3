package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicflow/appointment-engine/internal/apperr"
)

// db is the subset of pgxpool.Pool the repository needs; pgxmock satisfies it.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository is the authoritative slot store, backed by Postgres.
type Repository struct {
	pool db
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{pool: pool}
}

// NewRepositoryWithDB allows injecting mocks for tests.
func NewRepositoryWithDB(pool db) *Repository {
	if pool == nil {
		panic("appointments: db required")
	}
	return &Repository{pool: pool}
}

const reserveSQL = `
	INSERT INTO appointments (id, patient_id, doctor_id, start_at, end_at, status, created_at)
	SELECT $1, $2, $3, $4, $5, 'pending', $6
	WHERE NOT EXISTS (
		SELECT 1 FROM appointments
		WHERE doctor_id = $3
		  AND status IN ('pending', 'confirmed')
		  AND start_at < $5
		  AND end_at > $4
	)
`

const confirmSQL = `
	UPDATE appointments SET status = 'confirmed' WHERE id = $1 AND status = 'pending'
`

// ReserveIfFree atomically checks the doctor's calendar for an overlapping
// [start, end) reservation and, if free, persists a confirmed appointment.
// The guarded insert and the pending->confirmed transition run in a single
// transaction, so two racing reservations for the same window cannot both
// commit. Returns a slot-unavailable error on overlap.
func (r *Repository) ReserveIfFree(ctx context.Context, req BookingRequest) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreErr(fmt.Errorf("appointments: begin reserve: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt := &Appointment{
		ID:        uuid.New(),
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Start:     req.Start,
		End:       req.End,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	ct, err := tx.Exec(ctx, reserveSQL, appt.ID, appt.PatientID, appt.DoctorID, appt.Start, appt.End, appt.CreatedAt)
	if err != nil {
		return nil, classifyStoreErr(fmt.Errorf("appointments: insert reservation: %w", err))
	}
	if ct.RowsAffected() == 0 {
		return nil, apperr.Unavailable("", fmt.Errorf("appointments: doctor %s already booked in [%s, %s)", req.DoctorID, req.Start, req.End))
	}

	if _, err := tx.Exec(ctx, confirmSQL, appt.ID); err != nil {
		return nil, classifyStoreErr(fmt.Errorf("appointments: confirm reservation: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreErr(fmt.Errorf("appointments: commit reserve: %w", err))
	}
	appt.Status = StatusConfirmed
	return appt, nil
}

const listSQL = `
	SELECT id, patient_id, doctor_id, start_at, end_at, status, created_at
	FROM appointments
	WHERE doctor_id = $1 AND start_at < $3 AND end_at > $2 AND status != 'cancelled'
	ORDER BY start_at
`

// ListAppointments returns non-cancelled appointments for a doctor whose
// windows intersect [from, to).
func (r *Repository) ListAppointments(ctx context.Context, doctorID string, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, listSQL, doctorID, from, to)
	if err != nil {
		return nil, classifyStoreErr(fmt.Errorf("appointments: list: %w", err))
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Start, &a.End, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("appointments: scan row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const getSQL = `
	SELECT id, patient_id, doctor_id, start_at, end_at, status, created_at
	FROM appointments
	WHERE id = $1
`

// Get loads a single appointment by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var a Appointment
	err := r.pool.QueryRow(ctx, getSQL, id).Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Start, &a.End, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Invalid("No appointment found with that id.", fmt.Errorf("appointments: %s not found", id))
		}
		return nil, classifyStoreErr(fmt.Errorf("appointments: get: %w", err))
	}
	return &a, nil
}

const cancelSQL = `
	UPDATE appointments SET status = 'cancelled' WHERE id = $1 AND status = 'confirmed'
`

// Cancel transitions a confirmed appointment to its terminal cancelled state.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, cancelSQL, id)
	if err != nil {
		return classifyStoreErr(fmt.Errorf("appointments: cancel: %w", err))
	}
	if ct.RowsAffected() == 0 {
		return apperr.Invalid("There is no confirmed appointment to cancel.", fmt.Errorf("appointments: %s not confirmed", id))
	}
	return nil
}

// classifyStoreErr maps store failures onto the engine taxonomy. Concurrency
// conflicts surface as slot-unavailable, connection-level trouble as
// transient, everything else as fatal.
func classifyStoreErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock
			return apperr.Unavailable("", err)
		case "23505", "23P01": // unique violation, exclusion violation
			return apperr.Unavailable("", err)
		case "57P01", "53300", "08000", "08003", "08006": // shutdown, too many conns, connection errors
			return apperr.New(apperr.KindTransient, "", err)
		}
		return apperr.Fatal("", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.New(apperr.KindTransient, "", err)
	}
	// Driver-level failures (dropped connections, dial errors) are retryable.
	return apperr.New(apperr.KindTransient, "", err)
}
