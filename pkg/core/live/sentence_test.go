package live

import (
	"strings"
	"testing"
)

func collect(b *SentenceBuffer, deltas []string) []string {
	var out []string
	for _, d := range deltas {
		if s := b.Add(d); s != "" {
			out = append(out, s)
		}
	}
	if s := b.Flush(); s != "" {
		out = append(out, s)
	}
	return out
}

func TestSentenceBufferSplitsAtBoundaries(t *testing.T) {
	b := NewSentenceBuffer()
	got := collect(b, []string{"G'day", "!", " How", " can", " I", " help", "?"})
	want := []string{"G'day!", "How can I help?"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSentenceBufferPreservesOrderNoDuplicates(t *testing.T) {
	b := NewSentenceBuffer()
	deltas := []string{
		"We're", " open", " nine", " to", " five", ".",
		" Saturdays", " are", " by", " appointment", ".",
		" Anything", " else", "?",
	}
	got := collect(b, deltas)
	joined := strings.Join(got, " ")
	wantJoined := "We're open nine to five. Saturdays are by appointment. Anything else?"
	if joined != wantJoined {
		t.Errorf("reassembled %q, want %q", joined, wantJoined)
	}
	seen := map[string]int{}
	for _, s := range got {
		seen[s]++
		if seen[s] > 1 {
			t.Errorf("segment %q emitted twice", s)
		}
	}
}

func TestSentenceBufferWordCountFallback(t *testing.T) {
	b := NewSentenceBuffer()
	var deltas []string
	for i := 0; i < 30; i++ {
		deltas = append(deltas, " word")
	}
	got := collect(b, deltas)
	if len(got) < 2 {
		t.Errorf("long unpunctuated output should chunk, got %d segments", len(got))
	}
}

func TestSentenceBufferReset(t *testing.T) {
	b := NewSentenceBuffer()
	b.Add("this will be interru")
	b.Reset()
	if s := b.Flush(); s != "" {
		t.Errorf("flush after reset returned %q", s)
	}
}

func TestSentenceBufferFlushRemainder(t *testing.T) {
	b := NewSentenceBuffer()
	if s := b.Add("No trailing punctuation"); s != "" {
		t.Errorf("unexpected early emit %q", s)
	}
	if s := b.Flush(); s != "No trailing punctuation" {
		t.Errorf("Flush() = %q", s)
	}
}
