package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the current state of a queued side effect.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// JobPriority orders claims within the queue.
type JobPriority string

const (
	JobPriorityLow    JobPriority = "low"
	JobPriorityNormal JobPriority = "normal"
	JobPriorityHigh   JobPriority = "high"
)

// Job is one unit of asynchronous work, such as a single confirmation email
// or a push fan-out for one booking.
type Job struct {
	ID          int64       `json:"id"`
	JobType     string      `json:"job_type"`
	Payload     JSONB       `json:"payload"`
	Status      JobStatus   `json:"status"`
	Priority    JobPriority `json:"priority"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	LastError   *string     `json:"last_error,omitempty"`
	RetryAfter  *time.Time  `json:"retry_after,omitempty"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	WorkerID    *string     `json:"worker_id,omitempty"`
}

// NewJob builds a pending job with normal priority.
func NewJob(jobType string, payload JSONB, maxAttempts int) *Job {
	return &Job{
		JobType:     jobType,
		Payload:     payload,
		Status:      JobStatusPending,
		Priority:    JobPriorityNormal,
		MaxAttempts: maxAttempts,
	}
}

// JSONB maps a Postgres JSONB column.
type JSONB map[string]interface{}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = JSONB{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// String returns payload[key] when it is a non-empty string.
func (j JSONB) String(key string) (string, bool) {
	v, ok := j[key].(string)
	return v, ok && v != ""
}

// IsValid checks that the job can be enqueued.
func (j *Job) IsValid() error {
	if j.JobType == "" {
		return fmt.Errorf("job type is required")
	}
	if j.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if j.Priority == "" {
		j.Priority = JobPriorityNormal
	}
	return nil
}

// CanRetry reports whether another attempt is allowed.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts && j.Status != JobStatusCancelled
}

// JobStats summarises the queue by status.
type JobStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	Total      int64 `json:"total"`
}
