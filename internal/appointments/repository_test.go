package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/appointment-engine/internal/apperr"
)

func testRequest(t *testing.T) BookingRequest {
	t.Helper()
	start := time.Date(2025, 3, 28, 14, 0, 0, 0, time.UTC)
	return BookingRequest{
		PatientID: "PAT-1234",
		DoctorID:  "DR-456",
		Start:     start,
		End:       start.Add(30 * time.Minute),
	}
}

func TestReserveIfFreeCommitsConfirmed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	req := testRequest(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), req.PatientID, req.DoctorID, req.Start, req.End, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE appointments SET status = 'confirmed'").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	repo := NewRepositoryWithDB(mock)
	appt, err := repo.ReserveIfFree(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, req.DoctorID, appt.DoctorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveIfFreeOverlapReturnsUnavailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	req := testRequest(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), req.PatientID, req.DoctorID, req.Start, req.End, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	repo := NewRepositoryWithDB(mock)
	_, err = repo.ReserveIfFree(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindSlotUnavailable, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveIfFreeConnectionErrorIsTransient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("dial tcp: connection refused"))

	repo := NewRepositoryWithDB(mock)
	_, err = repo.ReserveIfFree(context.Background(), testRequest(t))
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))
}

func TestReserveIfFreeSerializationFailureIsUnavailable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	req := testRequest(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), req.PatientID, req.DoctorID, req.Start, req.End, pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	repo := NewRepositoryWithDB(mock)
	_, err = repo.ReserveIfFree(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindSlotUnavailable, apperr.KindOf(err))
}

func TestListAppointments(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	req := testRequest(t)
	from := req.Start.Add(-time.Hour)
	to := req.Start.Add(time.Hour)

	mock.ExpectQuery("SELECT id, patient_id, doctor_id, start_at, end_at, status, created_at").
		WithArgs(req.DoctorID, from, to).
		WillReturnRows(pgxmock.NewRows([]string{"id", "patient_id", "doctor_id", "start_at", "end_at", "status", "created_at"}))

	repo := NewRepositoryWithDB(mock)
	appts, err := repo.ListAppointments(context.Background(), req.DoctorID, from, to)
	require.NoError(t, err)
	assert.Empty(t, appts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelRequiresConfirmedRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE appointments SET status = 'cancelled'").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewRepositoryWithDB(mock)
	err = repo.Cancel(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidRequest, apperr.KindOf(err))
}
