package drafting

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	GenerationModeSection = "section"
	GenerationModeNode    = "node"
	GenerationModeFinal   = "final"

	GenerationStatusOK      = "ok"
	GenerationStatusInvalid = "invalid"
	GenerationStatusTimeout = "timeout"
	GenerationStatusError   = "error"
)

// GenerationRun is one drafting LLM attempt (whole section or one node).
type GenerationRun struct {
	ID    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	JobID *uuid.UUID `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`

	BookID    string `gorm:"column:book_id;type:text;not null;index" json:"book_id"`
	VersionID string `gorm:"column:version_id;type:text;not null;index" json:"version_id"`
	SectionID string `gorm:"column:section_id;type:text;not null;index" json:"section_id"`
	Mode      string `gorm:"column:mode;type:text;not null" json:"mode"`
	NodeTitle string `gorm:"column:node_title;type:text" json:"node_title,omitempty"`

	Status      string `gorm:"column:status;type:text;not null;index" json:"status"`
	FailureRule string `gorm:"column:failure_rule;type:text" json:"failure_rule,omitempty"`

	Model             string `gorm:"column:model;type:text;not null" json:"model"`
	PromptName        string `gorm:"column:prompt_name;type:text" json:"prompt_name"`
	PromptFingerprint string `gorm:"column:prompt_fingerprint;type:text" json:"prompt_fingerprint"`

	DraftAttempt   int `gorm:"column:draft_attempt;not null;default:0" json:"draft_attempt"`
	TimeoutAttempt int `gorm:"column:timeout_attempt;not null;default:0" json:"timeout_attempt"`
	MaxTokens      int `gorm:"column:max_tokens;not null;default:0" json:"max_tokens"`
	Repairs        int `gorm:"column:repairs;not null;default:0" json:"repairs"`
	LatencyMS      int `gorm:"column:latency_ms;not null;default:0" json:"latency_ms"`

	ValidationErrors datatypes.JSON `gorm:"column:validation_errors;type:jsonb" json:"validation_errors,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (GenerationRun) TableName() string { return "draft_generation_run" }

func (r *GenerationRun) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
