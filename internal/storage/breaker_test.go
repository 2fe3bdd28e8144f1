package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyArchiver struct {
	err   error
	calls int
}

func (f *flakyArchiver) Archive(ctx context.Context, operation, id, localPath, contentType string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "s3://bucket/" + id, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(next Archiver) (*BreakerArchiver, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreakerArchiver(next, 2, time.Minute, 4*time.Minute)
	b.now = c.now
	return b, c
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	next := &flakyArchiver{err: errors.New("503 slow down")}
	b, _ := newTestBreaker(next)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Archive(ctx, "merge", "id", "/tmp/a", "application/pdf")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	_, err := b.Archive(ctx, "merge", "id", "/tmp/a", "application/pdf")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, next.calls)
}

func TestBreakerProbeAndRecovery(t *testing.T) {
	next := &flakyArchiver{err: errors.New("timeout")}
	b, c := newTestBreaker(next)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = b.Archive(ctx, "merge", "id", "/tmp/a", "application/pdf")
	}

	c.advance(61 * time.Second)
	_, err := b.Archive(ctx, "merge", "id", "/tmp/a", "application/pdf")
	require.Error(t, err)
	assert.Equal(t, 3, next.calls)

	// failed probe doubles the cooldown
	c.advance(61 * time.Second)
	_, err = b.Archive(ctx, "merge", "id", "/tmp/a", "application/pdf")
	assert.ErrorIs(t, err, ErrCircuitOpen)

	c.advance(60 * time.Second)
	next.err = nil
	url, err := b.Archive(ctx, "merge", "abc", "/tmp/a", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/abc", url)

	next.err = errors.New("once")
	_, err = b.Archive(ctx, "merge", "id", "/tmp/a", "application/pdf")
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	_, err = b.Archive(ctx, "merge", "id", "/tmp/a", "application/pdf")
	assert.NotErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerBackoffCapped(t *testing.T) {
	next := &flakyArchiver{err: errors.New("down")}
	b, c := newTestBreaker(next)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = b.Archive(ctx, "merge", "id", "/tmp/a", "application/pdf")
	}
	for i := 0; i < 5; i++ {
		c.advance(5 * time.Minute)
		_, _ = b.Archive(ctx, "merge", "id", "/tmp/a", "application/pdf")
	}
	assert.Equal(t, c.now().Add(4*time.Minute), b.retryAt)
}

// blockingArchiver holds every call until release is closed, then fails.
type blockingArchiver struct {
	entered sync.WaitGroup
	release chan struct{}
}

func (b *blockingArchiver) Archive(ctx context.Context, operation, id, localPath, contentType string) (string, error) {
	b.entered.Done()
	<-b.release
	return "", errors.New("connection reset")
}

func TestBreakerConcurrentFailuresOpenOnce(t *testing.T) {
	const n = 6
	next := &blockingArchiver{release: make(chan struct{})}
	next.entered.Add(n)
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreakerArchiver(next, 3, 30*time.Second, 5*time.Minute)
	b.now = c.now

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Archive(context.Background(), "merge", "id", "/tmp/a", "application/pdf")
		}()
	}
	// all calls are admitted while the circuit is still closed
	next.entered.Wait()
	close(next.release)
	wg.Wait()

	assert.Equal(t, 1, b.opens)
	assert.Equal(t, stateOpen, b.state)
	assert.Equal(t, c.now().Add(30*time.Second), b.retryAt)
}
