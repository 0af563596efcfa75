package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	"github.com/yungbote/bookdraft-backend/internal/platform/envutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

// ProgressBus fans job lifecycle messages out over redis pub/sub.
type ProgressBus interface {
	Publish(ctx context.Context, msg types.Message) error
	StartForwarder(ctx context.Context, onMsg func(m types.Message)) error
	Close() error
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

func LoadConfig() Config {
	return Config{
		Addr:     envutil.String("REDIS_ADDR", ""),
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
		Channel:  envutil.String("PROGRESS_CHANNEL", "bookdraft:progress"),
	}
}

type progressBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewProgressBus connects and pings redis. Callers treat an empty Addr as
// "no bus" and skip this.
func NewProgressBus(ctx context.Context, log *logger.Logger, cfg Config) (ProgressBus, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if cfg.Channel == "" {
		cfg.Channel = "bookdraft:progress"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &progressBus{
		log:     log.With("service", "RedisProgressBus"),
		rdb:     rdb,
		channel: cfg.Channel,
	}, nil
}

func (b *progressBus) Publish(ctx context.Context, msg types.Message) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis progress bus not initialized")
	}
	raw, err := encode(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes and calls onMsg for every message until ctx is
// done. Messages for all versions arrive; filtering is the caller's.
func (b *progressBus) StartForwarder(ctx context.Context, onMsg func(m types.Message)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis progress bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				msg, err := decode(m.Payload)
				if err != nil {
					b.log.Warn("bad redis progress payload", "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}

func (b *progressBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

func encode(msg types.Message) ([]byte, error) {
	if msg.Event == "" {
		return nil, fmt.Errorf("progress message without event")
	}
	return json.Marshal(msg)
}

func decode(payload string) (types.Message, error) {
	var msg types.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, err
	}
	if msg.Event == "" {
		return msg, fmt.Errorf("progress message without event")
	}
	return msg, nil
}
