package attendance

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscard/internal/directory"
	"campuscard/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	svc := NewService(testLogger(), NewRepository(db), directory.NewRepository(db))
	return svc, mock, db
}

func expectStudentLookup(mock sqlmock.Sqlmock, reg, id string) {
	mock.ExpectQuery("SELECT id, register_number, name").
		WithArgs(reg).
		WillReturnRows(sqlmock.NewRows([]string{"id", "register_number", "name"}).AddRow(id, reg, "Test Student"))
}

func expectEnrollmentCheck(mock sqlmock.Sqlmock, enrolled bool) {
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(enrolled))
}

func expectDailyCheck(mock sqlmock.Sqlmock, exists bool) {
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func expectInsert(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("INSERT INTO attendance_records").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
}

func startSession(t *testing.T, svc *Service, mock sqlmock.Sqlmock, enrolled int) *Session {
	t.Helper()
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(enrolled))
	sess, err := svc.Start(context.Background(), "sess-1", "lect-1", "CS101", "Hall A")
	require.NoError(t, err)
	require.Equal(t, StateActive, sess.State())
	return sess
}

func TestStartRequiresCourseAndHall(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Start(context.Background(), "s", "l", "", "Hall A")
	assert.ErrorIs(t, err, ErrMissingCourse)
	_, err = svc.Start(context.Background(), "s", "l", "CS101", "")
	assert.ErrorIs(t, err, ErrMissingCourse)
}

func TestDuplicateSwipeWithinSession(t *testing.T) {
	svc, mock, _ := newTestService(t)
	startSession(t, svc, mock, 40)

	payload := "REG-2024-0042"

	// First tap: full path, record inserted, summary updated.
	expectStudentLookup(mock, payload, "stud-1")
	expectEnrollmentCheck(mock, true)
	expectDailyCheck(mock, false)
	expectInsert(mock)

	results := svc.HandleCard(context.Background(), &payload)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeRecorded, results[0].Outcome)
	assert.Equal(t, 1, results[0].Summary.PresentCount)
	assert.Equal(t, 40, results[0].Summary.TotalEnrolled)
	assert.InDelta(t, 2.5, results[0].Summary.Percentage, 0.001)

	// Second tap: rejected at the session set, no insert, summary unchanged.
	expectStudentLookup(mock, payload, "stud-1")
	expectEnrollmentCheck(mock, true)

	results = svc.HandleCard(context.Background(), &payload)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeAlreadyRecorded, results[0].Outcome)
	assert.Equal(t, 1, results[0].Summary.PresentCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSwipeRejectedWhenRecordedEarlierToday(t *testing.T) {
	svc, mock, _ := newTestService(t)
	startSession(t, svc, mock, 40)

	payload := "REG-2024-0042"
	expectStudentLookup(mock, payload, "stud-1")
	expectEnrollmentCheck(mock, true)
	expectDailyCheck(mock, true) // recorded in an earlier session today

	results := svc.HandleCard(context.Background(), &payload)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeAlreadyRecorded, results[0].Outcome)
	assert.Equal(t, 0, results[0].Summary.PresentCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSwipeNotEnrolled(t *testing.T) {
	svc, mock, _ := newTestService(t)
	startSession(t, svc, mock, 40)

	payload := "REG-2024-0042"
	expectStudentLookup(mock, payload, "stud-1")
	expectEnrollmentCheck(mock, false)

	results := svc.HandleCard(context.Background(), &payload)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeNotEnrolled, results[0].Outcome)
	assert.Contains(t, results[0].Detail, "not enrolled")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSwipeUnknownCard(t *testing.T) {
	svc, mock, _ := newTestService(t)
	startSession(t, svc, mock, 40)

	payload := "REG-NOBODY"
	mock.ExpectQuery("SELECT id, register_number, name").
		WithArgs(payload).
		WillReturnError(sql.ErrNoRows)

	results := svc.HandleCard(context.Background(), &payload)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeUnknownCard, results[0].Outcome)
}

func TestSwipeUnreadableCard(t *testing.T) {
	svc, mock, _ := newTestService(t)
	startSession(t, svc, mock, 40)

	results := svc.HandleCard(context.Background(), nil)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeReadFailed, results[0].Outcome)
	assert.Contains(t, results[0].Detail, "retap")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoppedSessionIgnoresCards(t *testing.T) {
	svc, mock, _ := newTestService(t)
	startSession(t, svc, mock, 40)
	require.NoError(t, svc.Stop(context.Background(), "sess-1"))

	payload := "REG-2024-0042"
	results := svc.HandleCard(context.Background(), &payload)
	assert.Empty(t, results, "stopped session no longer consumes events")

	assert.ErrorIs(t, svc.Stop(context.Background(), "sess-1"), ErrSessionNotFound)
}

func TestStartTwiceSameCourseHall(t *testing.T) {
	svc, mock, _ := newTestService(t)
	startSession(t, svc, mock, 40)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(40))
	_, err := svc.Start(context.Background(), "sess-2", "lect-1", "CS101", "Hall A")
	assert.ErrorIs(t, err, ErrSessionExists)
}
