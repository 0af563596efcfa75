package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
)

// SeedJobRun inserts a job with the given status, created age ago.
func SeedJobRun(tb testing.TB, ctx context.Context, tx *gorm.DB, jobType, entityID, status string, age time.Duration, payload map[string]any) *types.JobRun {
	tb.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		tb.Fatalf("encode payload: %v", err)
	}
	now := time.Now().UTC()
	job := &types.JobRun{
		JobType:    jobType,
		EntityType: "book_version",
		EntityID:   entityID,
		Status:     status,
		Stage:      status,
		Payload:    datatypes.JSON(raw),
		CreatedAt:  now.Add(-age),
		UpdatedAt:  now.Add(-age),
	}
	if err := tx.WithContext(ctx).Create(job).Error; err != nil {
		tb.Fatalf("seed job_run: %v", err)
	}
	return job
}
