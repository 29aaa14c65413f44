package dedup

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello world"},
		{"  spaced   out  ", "spaced out"},
		{"We ship Friday.", "we ship friday"},
		{"...", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSeenExactDuplicate(t *testing.T) {
	t.Parallel()

	d := New()
	if d.Seen("we ship on friday") {
		t.Fatal("first delivery should not be a duplicate")
	}
	if !d.Seen("We ship on Friday.") {
		t.Error("same utterance with punctuation and casing should be a duplicate")
	}
}

func TestSeenNearDuplicate(t *testing.T) {
	t.Parallel()

	d := New()
	d.Seen("the quarterly numbers look really good this time")
	if !d.Seen("the quarterly numbers look really good this time around") {
		t.Error("minor recogniser revision should count as a duplicate")
	}
	if d.Seen("let's talk about the hiring plan instead") {
		t.Error("unrelated utterance should not be a duplicate")
	}
}

func TestSeenExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	d := New(WithTTL(30*time.Second), WithClock(func() time.Time { return now }))

	d.Seen("hello there")
	now = now.Add(29 * time.Second)
	if !d.Seen("hello there") {
		t.Error("segment inside the TTL should be a duplicate")
	}

	now = now.Add(2 * time.Second)
	if d.Seen("hello there") {
		t.Error("segment past the TTL should be deliverable again")
	}
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1 after expiry and re-add", d.Len())
	}
}

func TestSeenEmptyText(t *testing.T) {
	t.Parallel()

	d := New()
	if !d.Seen("   ") {
		t.Error("whitespace-only text should always report seen")
	}
	if d.Len() != 0 {
		t.Errorf("Len = %d, want 0", d.Len())
	}
}

func TestThresholdDisablesFuzzy(t *testing.T) {
	t.Parallel()

	d := New(WithSimilarityThreshold(1.0))
	d.Seen("almost the same sentence here")
	if d.Seen("almost the same sentence herd") {
		t.Error("near-duplicate should pass when fuzzy matching is disabled")
	}
}
