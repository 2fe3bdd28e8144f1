package artifact

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	calls  atomic.Int32
	maxAge atomic.Int64
}

func (c *countingStore) Sweep(ctx context.Context, maxAge time.Duration) (SweepReport, error) {
	c.calls.Add(1)
	c.maxAge.Store(int64(maxAge))
	return SweepReport{Scanned: 1, Kept: 1}, nil
}

func TestSweeperRunsImmediatelyAndOnTick(t *testing.T) {
	store := &countingStore{}
	sw := NewSweeper(store, time.Hour, 10*time.Millisecond)

	sw.Start(context.Background())
	require.Eventually(t, func() bool { return store.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	sw.Stop()

	calls := store.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, store.calls.Load(), "no sweeps after Stop")
	assert.Equal(t, int64(time.Hour), store.maxAge.Load())
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	store := &countingStore{}
	sw := NewSweeper(store, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return store.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	sw.Stop()
}

func TestSweeperDefaults(t *testing.T) {
	sw := NewSweeper(&countingStore{}, 0, -1)
	assert.Equal(t, 30*time.Minute, sw.maxAge)
	assert.Equal(t, 5*time.Minute, sw.interval)
}

func TestSweeperRunOnceAgainstStore(t *testing.T) {
	s := newTestStore(t)
	makeDirAged(t, s.Root(), "stale", time.Hour)

	report := NewSweeper(s, 30*time.Minute, time.Minute).RunOnce(context.Background())
	assert.Equal(t, 1, report.Deleted)
}

type failingStore struct{ err error }

func (f failingStore) Sweep(ctx context.Context, maxAge time.Duration) (SweepReport, error) {
	return SweepReport{}, f.err
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestRunOnceQuietOnShutdown(t *testing.T) {
	buf := captureLog(t)
	NewSweeper(failingStore{err: context.Canceled}, time.Minute, time.Minute).RunOnce(context.Background())
	assert.NotContains(t, buf.String(), "sweep failed")

	buf.Reset()
	NewSweeper(failingStore{err: errors.New("read store root: permission denied")}, time.Minute, time.Minute).RunOnce(context.Background())
	assert.Contains(t, buf.String(), "sweep failed")
}
