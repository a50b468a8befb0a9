// Package store remembers submitted recognition operations so a later
// invocation can resume polling them.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when no record exists for an operation id.
var ErrNotFound = errors.New("operation record not found")

// State is the lifecycle state of a recorded operation.
type State string

const (
	StatePending State = "pending"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Record describes a submitted operation.
type Record struct {
	OperationID string    `json:"operation_id"`
	AudioURI    string    `json:"audio_uri"`
	TraceID     string    `json:"trace_id,omitempty"`
	OutputPath  string    `json:"output_path,omitempty"`
	State       State     `json:"state"`
	Lines       int       `json:"lines,omitempty"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists operation records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, operationID string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, operationID string) error
	Close() error
}

// Config selects and configures a store driver.
type Config struct {
	Driver    string // "file", "redis" or "none"
	Path      string
	RedisURL  string
	KeyPrefix string
}

// Open builds the store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return NewFileStore(cfg.Path)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix)
	case "none", "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func validate(rec Record) error {
	if strings.TrimSpace(rec.OperationID) == "" {
		return errors.New("record has no operation id")
	}
	return nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].SubmittedAt.Equal(recs[j].SubmittedAt) {
			return recs[i].OperationID < recs[j].OperationID
		}
		return recs[i].SubmittedAt.Before(recs[j].SubmittedAt)
	})
}
