package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxline-ai/voxline/pkg/core/tools"
)

// Memory implements Store in process memory.
type Memory struct {
	mu      sync.Mutex
	rules   map[string][]tools.TransferRule
	records map[uuid.UUID]*CallRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rules:   make(map[string][]tools.TransferRule),
		records: make(map[uuid.UUID]*CallRecord),
	}
}

// SetTransferRules replaces an organization's rules.
func (m *Memory) SetTransferRules(organizationID string, rules []tools.TransferRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[organizationID] = append([]tools.TransferRule(nil), rules...)
}

func (m *Memory) TransferRules(ctx context.Context, organizationID string) ([]tools.TransferRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tools.TransferRule(nil), m.rules[organizationID]...), nil
}

func (m *Memory) CreateCallRecord(ctx context.Context, rec *CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	stored := *rec
	m.records[rec.ID] = &stored
	return nil
}

func (m *Memory) FinishCallRecord(ctx context.Context, id uuid.UUID, outcome string, turnCount int, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.EndedAt = &endedAt
	rec.Outcome = outcome
	rec.TurnCount = turnCount
	return nil
}

// CallRecordByID returns a copy of the stored record.
func (m *Memory) CallRecordByID(id uuid.UUID) (CallRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return CallRecord{}, false
	}
	return *rec, true
}

func (m *Memory) Close() {}

var _ Store = (*Memory)(nil)
