// Package store keeps batch run status visible to API clients. A Redis
// implementation backs multi-process deployments; the in-memory one serves
// single-process runs and tests.
package store

import (
	"context"
	"time"
)

// Status is the externally visible state of one batch run.
type Status struct {
	State    string                 `json:"state"`
	Progress float64                `json:"progress"`
	Message  string                 `json:"message"`
	Start    *time.Time             `json:"start_time,omitempty"`
	End      *time.Time             `json:"end_time,omitempty"`
	Report   map[string]interface{} `json:"report,omitempty"`
}

// StatusStore persists and retrieves run status by batch ID.
type StatusStore interface {
	Set(ctx context.Context, batchID string, st Status) error
	Get(ctx context.Context, batchID string) (Status, bool, error)
	Close() error
}
