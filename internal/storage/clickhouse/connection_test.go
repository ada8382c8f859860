package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:9000", cfg.Addr)
	assert.Equal(t, "default", cfg.Database)
	assert.Equal(t, defaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, defaultRetryDelay, cfg.RetryDelay)
}

func TestConnect_GivesUpOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond
	cfg.RetryDelay = 10 * time.Millisecond

	_, err := Connect(ctx, cfg)
	assert.Error(t, err)
}

func TestNextIngestTime_StrictlyIncreasing(t *testing.T) {
	s := &Store{}
	prev := s.nextIngestTime()
	for i := 0; i < 1000; i++ {
		next := s.nextIngestTime()
		assert.True(t, next.After(prev))
		prev = next
	}
}
