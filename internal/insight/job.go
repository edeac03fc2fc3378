package insight

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ReduceJob tracks one queued pattern reduction. Published to the queue by
// id; the worker updates the status row as it goes.
type ReduceJob struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	UserID    uint64 `gorm:"index;not null" json:"-"`
	SessionID string `gorm:"size:26;index;not null" json:"session_id"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_reduce_user_idempo,unique" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded and the reduction produced a record. Stays nil
	// when the capability reported nothing new.
	ResultPatternID *uint64 `gorm:"index" json:"result_pattern_id,omitempty"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ReduceJob) TableName() string { return "pattern_reduce_jobs" }

func NewJobID() (string, error) {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
