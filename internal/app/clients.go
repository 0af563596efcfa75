package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/bookdraft-backend/internal/clients/redis"
	"github.com/yungbote/bookdraft-backend/internal/platform/anthropic"
	"github.com/yungbote/bookdraft-backend/internal/platform/gcp"
	"github.com/yungbote/bookdraft-backend/internal/platform/llm"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
	"github.com/yungbote/bookdraft-backend/internal/platform/openai"
	"github.com/yungbote/bookdraft-backend/internal/temporalx"
)

type Clients struct {
	Blobs    gcp.JSONStore
	LLM      *llm.Gateway
	Progress redis.ProgressBus
	Temporal temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	blobs, err := resolveSkeletonBlobs(log, cfg.Storage)
	if err != nil {
		return Clients{}, err
	}

	// Redis
	var bus redis.ProgressBus
	if cfg.Redis.Addr != "" {
		b, err := redis.NewProgressBus(ctx, log, cfg.Redis)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis progress bus: %w", err)
		}
		bus = b
	}

	tc, err := temporalx.NewClient(ctx, log, cfg.Temporal)
	if err != nil {
		if bus != nil {
			_ = bus.Close()
		}
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}

	return Clients{
		Blobs:    blobs,
		LLM:      wireGateway(log),
		Progress: bus,
		Temporal: tc,
	}, nil
}

// wireGateway registers every provider whose credentials are present. A job
// that selects a missing provider fails with a configuration error.
func wireGateway(log *logger.Logger) *llm.Gateway {
	backends := map[llm.Provider]llm.Backend{}
	if c, err := openai.NewClient(log); err == nil {
		backends[llm.ProviderOpenAI] = c
	} else {
		log.Warn("OpenAI provider disabled", "error", err)
	}
	if c, err := anthropic.NewClient(log); err == nil {
		backends[llm.ProviderAnthropic] = c
	} else {
		log.Warn("Anthropic provider disabled", "error", err)
	}
	return llm.NewGateway(log, backends)
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Progress != nil {
		_ = c.Progress.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
}
