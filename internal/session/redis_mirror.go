package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/tachikoma-run/tachikoma/internal/obs"
)

// RedisMirror publishes progress.json updates to a Redis pub/sub channel so
// a gateway instance can tail /api/execute/history without re-reading the
// session directory's JSONL files on every poll. It is optional: a Manager
// with no mirror attached behaves exactly as before.
type RedisMirror struct {
	client *redis.Client
	logger obs.Logger
}

// NewRedisMirror connects to a Redis instance at addr (host:port). The
// connection is lazy: go-redis dials on first command, so construction
// never blocks or fails even when addr is unreachable.
func NewRedisMirror(addr string, logger obs.Logger) *RedisMirror {
	if logger == nil {
		logger = obs.NoOpLogger{}
	}
	return &RedisMirror{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		logger: logger,
	}
}

func progressChannel(sessionID string) string {
	return fmt.Sprintf("tachikoma:session:%s:progress", sessionID)
}

// PublishProgress marshals progress and publishes it on the session's
// channel. Publish errors are logged, not returned: mirroring is a
// best-effort side channel, never a condition the orchestration run fails
// on.
func (r *RedisMirror) PublishProgress(ctx context.Context, sessionID string, progress ProgressFile) {
	if r == nil {
		return
	}
	data, err := json.Marshal(progress)
	if err != nil {
		r.logger.Warn("redis mirror: failed to marshal progress", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := r.client.Publish(ctx, progressChannel(sessionID), data).Err(); err != nil {
		r.logger.Warn("redis mirror: publish failed", map[string]interface{}{"error": err.Error(), "sessionId": sessionID})
	}
}

// Subscribe returns a channel of ProgressFile updates for sessionID. The
// returned cancel func must be called to release the underlying
// subscription.
func (r *RedisMirror) Subscribe(ctx context.Context, sessionID string) (<-chan ProgressFile, func()) {
	sub := r.client.Subscribe(ctx, progressChannel(sessionID))
	out := make(chan ProgressFile)

	go func() {
		defer close(out)
		ch := sub.Channel()
		for msg := range ch {
			var p ProgressFile
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				continue
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}

// Close releases the underlying Redis connection.
func (r *RedisMirror) Close() error {
	if r == nil {
		return nil
	}
	return r.client.Close()
}
