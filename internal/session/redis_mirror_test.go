package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMirror(t *testing.T) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	mirror := NewRedisMirror(mr.Addr(), nil)
	t.Cleanup(func() { _ = mirror.Close() })
	return mirror, mr
}

func TestRedisMirrorPublishSubscribeRoundTrip(t *testing.T) {
	mirror, _ := newTestMirror(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	updates, stop := mirror.Subscribe(ctx, "session-test-abc123")
	defer stop()

	want := ProgressFile{CurrentStep: 2, TotalSteps: 4, Status: "running"}
	mirror.PublishProgress(ctx, "session-test-abc123", want)

	select {
	case got := <-updates:
		assert.Equal(t, want.CurrentStep, got.CurrentStep)
		assert.Equal(t, want.TotalSteps, got.TotalSteps)
		assert.Equal(t, want.Status, got.Status)
	case <-ctx.Done():
		t.Fatal("timed out waiting for mirrored progress update")
	}
}

func TestRedisMirrorPublishIsNilSafe(t *testing.T) {
	var mirror *RedisMirror
	assert.NotPanics(t, func() {
		mirror.PublishProgress(context.Background(), "session-test-abc123", ProgressFile{})
	})
	assert.NoError(t, mirror.Close())
}

func TestManagerWriteProgressMirrorsToRedis(t *testing.T) {
	mirror, _ := newTestMirror(t)
	m := newTestManager(t)
	m.WithRedisMirror(mirror)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	updates, stop := mirror.Subscribe(ctx, m.SessionID())
	defer stop()

	require.NoError(t, m.WriteProgress(ProgressFile{CurrentStep: 1, TotalSteps: 3, Status: "running"}))

	select {
	case got := <-updates:
		assert.Equal(t, 1, got.CurrentStep)
		assert.Equal(t, "running", got.Status)
	case <-ctx.Done():
		t.Fatal("timed out waiting for manager-driven mirrored progress update")
	}
}
