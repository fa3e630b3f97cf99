package convo

import (
	"fmt"
	"testing"
)

func TestHistorySystemPromptPinned(t *testing.T) {
	h := New("you are a receptionist", 3)

	for i := 0; i < 50; i++ {
		h.AppendUser(fmt.Sprintf("question %d", i))
		h.AppendAssistant(fmt.Sprintf("answer %d", i))
	}

	msgs := h.Messages()
	if msgs[0].Role != RoleSystem || msgs[0].Content != "you are a receptionist" {
		t.Fatalf("first entry is %+v, want pinned system prompt", msgs[0])
	}
	if max := 1 + 2*3; len(msgs) > max {
		t.Errorf("window holds %d entries, cap is %d", len(msgs), max)
	}
	// Newest entries survive eviction.
	last := msgs[len(msgs)-1]
	if last.Content != "answer 49" {
		t.Errorf("last entry %q, want newest answer", last.Content)
	}
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := New("sys", 2)
	h.AppendUser("first")
	h.AppendAssistant("reply one")
	h.AppendUser("second")
	h.AppendAssistant("reply two")
	h.AppendUser("third")

	msgs := h.Messages()
	for _, m := range msgs[1:] {
		if m.Content == "first" {
			t.Error("oldest entry should have been evicted")
		}
	}
}

func TestHistoryRollbackLastUser(t *testing.T) {
	h := New("sys", 5)
	h.AppendUser("hello")
	h.AppendAssistant("hi there")
	h.AppendUser("doomed question")
	h.RollbackLastUser()

	msgs := h.Messages()
	if msgs[len(msgs)-1].Content != "hi there" {
		t.Errorf("rollback left %q at the tail", msgs[len(msgs)-1].Content)
	}

	// Rollback is a no-op when the tail is not a user message.
	h.RollbackLastUser()
	if got := h.Len(); got != 3 {
		t.Errorf("Len() = %d after no-op rollback, want 3", got)
	}
}

func TestHistoryClear(t *testing.T) {
	h := New("sys", 5)
	h.AppendUser("hello")
	h.Clear()
	msgs := h.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleSystem {
		t.Errorf("Clear left %v", msgs)
	}
}

func TestHistorySnapshotIsolation(t *testing.T) {
	h := New("sys", 5)
	h.AppendUser("hello")
	snap := h.Messages()
	h.AppendAssistant("hi")
	if len(snap) != 2 {
		t.Errorf("snapshot mutated, len %d", len(snap))
	}
}
