package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned while archival is cooling down after failures.
var ErrCircuitOpen = errors.New("archive circuit open")

// Archiver is anything that can mirror a local artifact.
type Archiver interface {
	Archive(ctx context.Context, operation, id, localPath, contentType string) (string, error)
}

type breakerState string

const (
	stateClosed   breakerState = "closed"
	stateOpen     breakerState = "open"
	stateHalfOpen breakerState = "half_open"
)

// BreakerArchiver skips archival after consecutive failures, backing off
// exponentially from baseBackoff up to maxBackoff. One probe is let through
// once the cooldown expires.
type BreakerArchiver struct {
	next        Archiver
	threshold   int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	opens    int
	retryAt  time.Time
}

// NewBreakerArchiver wraps next. Non-positive values default to 3 failures,
// 30s and 5m.
func NewBreakerArchiver(next Archiver, threshold int, baseBackoff, maxBackoff time.Duration) *BreakerArchiver {
	if threshold <= 0 {
		threshold = 3
	}
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	if maxBackoff < baseBackoff {
		maxBackoff = 5 * time.Minute
	}
	return &BreakerArchiver{
		next:        next,
		threshold:   threshold,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		now:         time.Now,
		state:       stateClosed,
	}
}

// Archive forwards to the wrapped archiver unless the circuit is open.
func (b *BreakerArchiver) Archive(ctx context.Context, operation, id, localPath, contentType string) (string, error) {
	if !b.allow() {
		return "", ErrCircuitOpen
	}
	url, err := b.next.Archive(ctx, operation, id, localPath, contentType)
	if err != nil {
		b.onFailure()
		return "", err
	}
	b.onSuccess()
	return url, nil
}

func (b *BreakerArchiver) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		if b.now().Before(b.retryAt) {
			return false
		}
		b.state = stateHalfOpen
		log.Info().Msg("archive circuit half-open")
		return true
	case stateHalfOpen:
		// probe already in flight
		return false
	default:
		return true
	}
}

func (b *BreakerArchiver) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	// calls admitted before the trip fail late; they must not reopen
	if b.state == stateOpen {
		return
	}
	if b.state != stateHalfOpen && b.failures < b.threshold {
		return
	}
	b.opens++
	backoff := b.baseBackoff
	for i := 1; i < b.opens; i++ {
		backoff *= 2
		if backoff > b.maxBackoff {
			backoff = b.maxBackoff
			break
		}
	}
	b.state = stateOpen
	b.retryAt = b.now().Add(backoff)
	log.Warn().
		Int("failures", b.failures).
		Dur("cooldown", backoff).
		Time("retry_at", b.retryAt).
		Msg("archive circuit opened")
}

func (b *BreakerArchiver) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateClosed {
		log.Info().Msg("archive circuit closed")
	}
	b.state = stateClosed
	b.failures = 0
	b.opens = 0
}
