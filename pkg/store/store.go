// Package store persists call records and serves the transfer-rule
// configuration. The postgres implementation backs production; the
// memory implementation backs tests and single-node development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/voxline-ai/voxline/pkg/core/tools"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Call outcomes recorded at teardown.
const (
	OutcomeCompleted   = "completed"
	OutcomeTransferred = "transferred"
	OutcomeFailed      = "failed"
)

// CallRecord is one phone call's durable trace.
type CallRecord struct {
	ID             uuid.UUID
	CallSID        string
	StreamSID      string
	OrganizationID string
	AssistantID    string
	StartedAt      time.Time
	EndedAt        *time.Time
	Outcome        string
	TurnCount      int
}

// Store is the persistence surface the gateway depends on.
type Store interface {
	// TransferRules returns the organization's transfer rules ordered
	// by ascending priority. Read-only after load.
	TransferRules(ctx context.Context, organizationID string) ([]tools.TransferRule, error)

	// CreateCallRecord opens a call's record when the session starts.
	CreateCallRecord(ctx context.Context, rec *CallRecord) error

	// FinishCallRecord closes the record with its outcome. Calling it
	// for an unknown id returns ErrNotFound.
	FinishCallRecord(ctx context.Context, id uuid.UUID, outcome string, turnCount int, endedAt time.Time) error

	Close()
}
