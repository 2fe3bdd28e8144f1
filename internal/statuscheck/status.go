package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// BucketChecker verifies the archive bucket is reachable.
type BucketChecker interface {
	HeadBucket(ctx context.Context) error
}

// RendererChecker reports whether the rasterizer backend can run.
type RendererChecker interface {
	Name() string
	Available() error
}

// Checker aggregates health checks for the service's dependencies.
type Checker struct {
	storeRoot string
	redis     RedisPinger
	bucket    BucketChecker
	renderer  RendererChecker
}

// Options configures the Checker. Nil dependencies are reported as not
// configured.
type Options struct {
	StoreRoot string
	Redis     RedisPinger
	Bucket    BucketChecker
	Renderer  RendererChecker
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Store    Status `json:"store"`
	Redis    Status `json:"redis"`
	S3       Status `json:"s3"`
	Renderer Status `json:"renderer"`
}

// Healthy reports whether the request path can serve conversions. Redis and
// S3 are optional and do not affect it.
func (s Summary) Healthy() bool { return s.Store.OK && s.Renderer.OK }

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	return &Checker{
		storeRoot: opts.StoreRoot,
		redis:     opts.Redis,
		bucket:    opts.Bucket,
		renderer:  opts.Renderer,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Store:    c.checkStore(),
		Redis:    c.checkRedis(ctx),
		S3:       c.checkS3(ctx),
		Renderer: c.checkRenderer(),
	}
}

func (c *Checker) checkStore() Status {
	if c.storeRoot == "" {
		return Status{OK: false, Message: "Root not configured"}
	}
	info, err := os.Stat(c.storeRoot)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	if !info.IsDir() {
		return Status{OK: false, Message: "Root is not a directory"}
	}
	probe, err := os.CreateTemp(c.storeRoot, ".probe-*")
	if err != nil {
		return Status{OK: false, Message: "Not writable"}
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return Status{OK: true, Message: filepath.Clean(c.storeRoot)}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "Not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.bucket == nil {
		return Status{OK: false, Message: "Bucket not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.bucket.HeadBucket(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkRenderer() Status {
	if c.renderer == nil {
		return Status{OK: false, Message: "Not configured"}
	}
	if err := c.renderer.Available(); err != nil {
		return Status{OK: false, Message: fmt.Sprintf("%s: %s", c.renderer.Name(), trimError(err))}
	}
	return Status{OK: true, Message: c.renderer.Name()}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
