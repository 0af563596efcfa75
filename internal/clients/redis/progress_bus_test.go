package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

func TestEncodeDecode(t *testing.T) {
	raw, err := encode(types.Message{Channel: "book_version:v1", Event: types.EventJobYielded, Data: map[string]any{"stage": "requeued"}})
	require.NoError(t, err)

	msg, err := decode(string(raw))
	require.NoError(t, err)
	assert.Equal(t, types.EventJobYielded, msg.Event)
	assert.Equal(t, "requeued", msg.Data["stage"])

	_, err = encode(types.Message{Channel: "x"})
	assert.Error(t, err)
	_, err = decode(`{"channel":"x"}`)
	assert.Error(t, err)
	_, err = decode(`not json`)
	assert.Error(t, err)
}

func TestLoadConfigAndMissingAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("PROGRESS_CHANNEL", "")
	cfg := LoadConfig()
	assert.Equal(t, "bookdraft:progress", cfg.Channel)

	_, err := NewProgressBus(context.Background(), logger.NewNop(), cfg)
	assert.ErrorContains(t, err, "REDIS_ADDR")
}
