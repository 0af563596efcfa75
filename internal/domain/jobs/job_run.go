package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// JobRun is one unit of queued work. A drafting job is requeued (status back
// to queued, payload patched) on every yield, so a single row carries a
// section from first tick to completion.
type JobRun struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID string         `gorm:"column:organization_id;index" json:"organization_id,omitempty"`
	JobType        string         `gorm:"column:job_type;not null;index" json:"job_type"`
	EntityType     string         `gorm:"column:entity_type;index:idx_job_run_entity" json:"entity_type,omitempty"`
	EntityID       string         `gorm:"column:entity_id;index:idx_job_run_entity" json:"entity_id,omitempty"`
	Status         string         `gorm:"column:status;not null;index" json:"status"`
	Stage          string         `gorm:"column:stage;not null" json:"stage"`
	Progress       int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Message        string         `gorm:"column:message" json:"message,omitempty"`
	Attempts       int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Yields         int            `gorm:"column:yields;not null;default:0" json:"yields"`
	Error          string         `gorm:"column:error" json:"error,omitempty"`
	AvailableAt    *time.Time     `gorm:"column:available_at;index" json:"available_at,omitempty"`
	LockedAt       *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt    *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt    *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result         datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRun) TableName() string { return "job_run" }

func (j *JobRun) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = StatusQueued
	}
	if j.Stage == "" {
		j.Stage = StatusQueued
	}
	return nil
}

// Terminal reports whether the run will never be claimed again.
func (j *JobRun) Terminal() bool {
	switch j.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}
