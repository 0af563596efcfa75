package app

import (
	"fmt"

	"github.com/yungbote/bookdraft-backend/internal/clients/redis"
	"github.com/yungbote/bookdraft-backend/internal/data/db"
	"github.com/yungbote/bookdraft-backend/internal/jobs/worker"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/draftcfg"
	"github.com/yungbote/bookdraft-backend/internal/platform/envutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/gcp"
	"github.com/yungbote/bookdraft-backend/internal/temporalx"
)

type Config struct {
	LogMode     string
	Environment string
	Version     string
	MetricsAddr string

	Storage  gcp.ObjectStorageConfig
	DB       db.Config
	Redis    redis.Config
	Temporal temporalx.Config
	Worker   worker.Config
	Draft    draftcfg.Config
}

// LoadConfig reads every section from the environment. Engine tables that
// fail validation are a startup error.
func LoadConfig() (Config, error) {
	cfg := Config{
		LogMode:     envutil.String("LOG_MODE", "development"),
		Environment: envutil.String("ENVIRONMENT", "local"),
		Version:     envutil.String("VERSION", "dev"),
		MetricsAddr: envutil.String("METRICS_ADDR", ":9090"),
		DB:          db.LoadConfig(),
		Redis:       redis.LoadConfig(),
		Temporal:    temporalx.LoadConfig(),
		Worker:      worker.LoadConfig(),
	}

	storageCfg, err := gcp.ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return cfg, fmt.Errorf("object storage config: %w", err)
	}
	cfg.Storage = storageCfg

	draft, err := draftcfg.Load()
	if err != nil {
		return cfg, fmt.Errorf("draft config: %w", err)
	}
	cfg.Draft = draft
	return cfg, nil
}
