package drafting

import (
	"context"

	"gorm.io/gorm"

	types "github.com/yungbote/bookdraft-backend/internal/domain/drafting"
	"github.com/yungbote/bookdraft-backend/internal/platform/dbctx"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

type GenerationRunRepo interface {
	Create(dbc dbctx.Context, rows []*types.GenerationRun) ([]*types.GenerationRun, error)
	ListBySection(dbc dbctx.Context, bookID, versionID, sectionID string) ([]*types.GenerationRun, error)
	// Record stores one run outside any transaction.
	Record(ctx context.Context, run *types.GenerationRun) error
}

type generationRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRunRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRunRepo {
	return &generationRunRepo{db: db, log: baseLog.With("repo", "GenerationRunRepo")}
}

func (r *generationRunRepo) Create(dbc dbctx.Context, rows []*types.GenerationRun) ([]*types.GenerationRun, error) {
	if len(rows) == 0 {
		return []*types.GenerationRun{}, nil
	}
	if err := dbc.Conn(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *generationRunRepo) ListBySection(dbc dbctx.Context, bookID, versionID, sectionID string) ([]*types.GenerationRun, error) {
	var out []*types.GenerationRun
	if bookID == "" || versionID == "" {
		return out, nil
	}
	q := dbc.Conn(r.db).Where("book_id = ? AND version_id = ?", bookID, versionID)
	if sectionID != "" {
		q = q.Where("section_id = ?", sectionID)
	}
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationRunRepo) Record(ctx context.Context, run *types.GenerationRun) error {
	if run == nil {
		return nil
	}
	_, err := r.Create(dbctx.Context{Ctx: ctx}, []*types.GenerationRun{run})
	return err
}
