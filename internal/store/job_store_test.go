package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

var jobRowColumns = []string{
	"id", "job_type", "payload", "status", "priority", "attempts", "max_attempts",
	"created_at", "updated_at", "last_error", "retry_after",
	"processed_at", "completed_at", "worker_id",
}

func newMockJobStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	js, err := NewJobStore(db)
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}
	return js, mock
}

func TestEnqueueRejectsInvalidJob(t *testing.T) {
	js, mock := newMockJobStore(t)

	if err := js.Enqueue(context.Background(), &models.Job{}); err == nil {
		t.Fatal("expected validation error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected query: %v", err)
	}
}

func TestEnqueueAssignsID(t *testing.T) {
	js, mock := newMockJobStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO jobs (job_type, payload, status, priority, max_attempts)`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(42), now, now))

	job := models.NewJob("booking_confirmation_email", models.JSONB{"booking_id": "b1"}, 5)
	if err := js.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.ID != 42 || job.Status != models.JobStatusPending {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestClaimNextJob(t *testing.T) {
	js, mock := newMockJobStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE SKIP LOCKED`)).WithArgs("worker-1").
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(
			int64(7), "booking_confirmation_push", []byte(`{"booking_id":"b1"}`), "processing", "high", 1, 5,
			now, now, nil, nil, now, nil, "worker-1",
		))

	job, err := js.ClaimNextJob(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != 7 || job.Status != models.JobStatusProcessing {
		t.Fatalf("unexpected job %+v", job)
	}
	if id, _ := job.Payload.String("booking_id"); id != "b1" {
		t.Fatalf("expected booking_id b1, got %q", id)
	}
}

func TestClaimNextJobEmptyQueue(t *testing.T) {
	js, mock := newMockJobStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE SKIP LOCKED`)).
		WillReturnRows(sqlmock.NewRows(jobRowColumns))

	job, err := js.ClaimNextJob(context.Background(), "worker-1")
	if err != nil || job != nil {
		t.Fatalf("expected nil job and nil error, got %+v, %v", job, err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	js, mock := newMockJobStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM jobs WHERE id = $1`)).WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(jobRowColumns))

	if _, err := js.GetByID(context.Background(), 9); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestScheduleRetryAndRelease(t *testing.T) {
	js, mock := newMockJobStore(t)
	retryAt := time.Now().Add(time.Minute)

	mock.ExpectExec(regexp.QuoteMeta(`retry_after = $3`)).WithArgs(int64(3), "smtp timeout", retryAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $1 AND status = 'processing'`)).WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := js.ScheduleRetry(context.Background(), 3, "smtp timeout", retryAt); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}
	if err := js.ReleaseJob(context.Background(), 4); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetStatsAndCleanup(t *testing.T) {
	js, mock := newMockJobStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`COUNT(*) FILTER (WHERE status = 'pending')`)).
		WillReturnRows(sqlmock.NewRows([]string{"p", "pr", "c", "f", "x", "t"}).AddRow(1, 2, 3, 4, 0, 10))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM jobs`)).WithArgs(float64(3600)).
		WillReturnResult(sqlmock.NewResult(0, 5))

	stats, err := js.GetStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Failed != 4 || stats.Total != 10 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	n, err := js.CleanupOldJobs(context.Background(), time.Hour)
	if err != nil || n != 5 {
		t.Fatalf("expected 5 deleted, got %d (%v)", n, err)
	}
}
