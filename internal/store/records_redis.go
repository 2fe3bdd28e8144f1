package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

// Record is the persisted summary of one conversion.
type Record struct {
	ID         string     `json:"id"`
	Operation  string     `json:"operation"`
	Status     string     `json:"status"`
	Message    string     `json:"message,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Inputs     []string   `json:"inputs,omitempty"`
	Artifact   string     `json:"artifact,omitempty"`
	Size       int64      `json:"size,omitempty"`
	Digest     string     `json:"digest,omitempty"`
	ArchiveURL string     `json:"archive_url,omitempty"`
	Start      *time.Time `json:"start_time,omitempty"`
	End        *time.Time `json:"end_time,omitempty"`
}

// Outcome describes a successful conversion's artifact.
type Outcome struct {
	Artifact   string
	Size       int64
	Digest     string
	ArchiveURL string
}

// RedisRecords keeps one hash per conversion, expiring with the artifacts.
type RedisRecords struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisRecords connects to redisURL and verifies the connection.
func NewRedisRecords(redisURL string, ttl time.Duration) (*RedisRecords, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisRecordsFromClient(c, ttl), nil
}

// NewRedisRecordsFromClient wraps an existing client.
func NewRedisRecordsFromClient(c *redis.Client, ttl time.Duration) *RedisRecords {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisRecords{client: c, keyNS: "conversion", ttl: ttl, now: time.Now}
}

func (s *RedisRecords) key(id string) string { return fmt.Sprintf("%s:%s", s.keyNS, id) }

func (s *RedisRecords) write(ctx context.Context, id string, m map[string]interface{}) error {
	k := s.key(id)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, m)
	pipe.Expire(ctx, k, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Begin marks a conversion as processing.
func (s *RedisRecords) Begin(ctx context.Context, id, operation string, inputs []string) error {
	b, _ := json.Marshal(inputs)
	return s.write(ctx, id, map[string]interface{}{
		"id":        id,
		"operation": operation,
		"status":    StatusProcessing,
		"message":   "processing",
		"inputs":    string(b),
		"start":     s.now().Format(time.RFC3339Nano),
	})
}

// Finish marks a conversion as successful with its artifact metadata.
func (s *RedisRecords) Finish(ctx context.Context, id string, out Outcome) error {
	m := map[string]interface{}{
		"status":   StatusSuccess,
		"message":  "completed",
		"artifact": out.Artifact,
		"size":     out.Size,
		"digest":   out.Digest,
		"end":      s.now().Format(time.RFC3339Nano),
	}
	if out.ArchiveURL != "" {
		m["archive_url"] = out.ArchiveURL
	}
	return s.write(ctx, id, m)
}

// Fail marks a conversion as failed.
func (s *RedisRecords) Fail(ctx context.Context, id, kind, message string) error {
	return s.write(ctx, id, map[string]interface{}{
		"status":     StatusFailed,
		"error_kind": kind,
		"message":    message,
		"end":        s.now().Format(time.RFC3339Nano),
	})
}

// Get returns the record for id; ok is false when it is unknown or expired.
func (s *RedisRecords) Get(ctx context.Context, id string) (Record, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return Record{}, false, err
	}
	if len(res) == 0 {
		return Record{}, false, nil
	}
	rec := Record{
		ID:         res["id"],
		Operation:  res["operation"],
		Status:     res["status"],
		Message:    res["message"],
		ErrorKind:  res["error_kind"],
		Artifact:   res["artifact"],
		Digest:     res["digest"],
		ArchiveURL: res["archive_url"],
	}
	if rec.ID == "" {
		rec.ID = id
	}
	if v := res["size"]; v != "" {
		// ignore parse error; default 0
		rec.Size, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := res["inputs"]; v != "" {
		_ = json.Unmarshal([]byte(v), &rec.Inputs)
	}
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.End = &t
		}
	}
	return rec, true, nil
}

// Ping checks connectivity.
func (s *RedisRecords) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisRecords) Close() error { return s.client.Close() }

// Nop discards records; used when Redis is not configured.
type Nop struct{}

func (Nop) Begin(context.Context, string, string, []string) error { return nil }
func (Nop) Finish(context.Context, string, Outcome) error         { return nil }
func (Nop) Fail(context.Context, string, string, string) error    { return nil }
func (Nop) Get(context.Context, string) (Record, bool, error)     { return Record{}, false, nil }
