package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/voxline-ai/voxline/pkg/core/tools"
)

func TestMemoryTransferRulesIsolated(t *testing.T) {
	m := NewMemory()
	m.SetTransferRules("org-1", []tools.TransferRule{
		{Keywords: []string{"billing"}, Destination: "+6125", Priority: 1},
	})

	rules, err := m.TransferRules(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("TransferRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Destination != "+6125" {
		t.Fatalf("rules = %+v", rules)
	}

	// Mutating the returned slice must not affect the store.
	rules[0].Destination = "changed"
	again, _ := m.TransferRules(context.Background(), "org-1")
	if again[0].Destination != "+6125" {
		t.Errorf("store mutated through returned slice")
	}

	other, _ := m.TransferRules(context.Background(), "org-2")
	if len(other) != 0 {
		t.Errorf("org-2 rules = %+v", other)
	}
}

func TestMemoryCallRecordLifecycle(t *testing.T) {
	m := NewMemory()
	rec := &CallRecord{CallSID: "CA1", OrganizationID: "org-1"}
	if err := m.CreateCallRecord(context.Background(), rec); err != nil {
		t.Fatalf("CreateCallRecord: %v", err)
	}
	if rec.ID == uuid.Nil {
		t.Fatal("id was not assigned")
	}
	if rec.StartedAt.IsZero() {
		t.Fatal("started_at was not assigned")
	}

	ended := time.Now().UTC()
	if err := m.FinishCallRecord(context.Background(), rec.ID, OutcomeCompleted, 4, ended); err != nil {
		t.Fatalf("FinishCallRecord: %v", err)
	}

	stored, ok := m.CallRecordByID(rec.ID)
	if !ok {
		t.Fatal("record not found")
	}
	if stored.Outcome != OutcomeCompleted || stored.TurnCount != 4 {
		t.Errorf("record = %+v", stored)
	}
	if stored.EndedAt == nil || !stored.EndedAt.Equal(ended) {
		t.Errorf("ended_at = %v", stored.EndedAt)
	}
}

func TestMemoryFinishUnknownRecord(t *testing.T) {
	m := NewMemory()
	err := m.FinishCallRecord(context.Background(), uuid.New(), OutcomeFailed, 0, time.Now())
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
