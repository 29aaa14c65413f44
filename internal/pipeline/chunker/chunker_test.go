package chunker

import (
	"testing"
	"time"

	"github.com/voxlink-ai/voxlink/pkg/audio"
)

// scriptedVAD returns classifications in order, repeating the last one.
type scriptedVAD struct {
	script []bool
	i      int
	resets []string
}

func (v *scriptedVAD) IsSpeech(_ string, _ []byte) bool {
	if len(v.script) == 0 {
		return true
	}
	r := v.script[min(v.i, len(v.script)-1)]
	v.i++
	return r
}

func (v *scriptedVAD) Reset(key string) { v.resets = append(v.resets, key) }

func collect(segs *[]Segment) func(Segment) {
	return func(s Segment) { *segs = append(*segs, s) }
}

// frame returns a frame of the given duration at 16 kHz.
func frame(d time.Duration) []byte {
	return audio.Silence(d)
}

func TestPauseCut(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := func() time.Time { return now }
	v := &scriptedVAD{script: []bool{true, true, true, false, false}}
	var segs []Segment

	c := New("s1", "alice", "en", v, collect(&segs), WithClock(clock))

	// 1.2 s of speech in 400 ms frames.
	for range 3 {
		c.Feed(frame(400 * time.Millisecond))
		now = now.Add(400 * time.Millisecond)
	}
	// Silence frames; the second crosses the 600 ms silence threshold.
	c.Feed(frame(400 * time.Millisecond))
	now = now.Add(400 * time.Millisecond)
	c.Feed(frame(400 * time.Millisecond))

	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(segs))
	}
	seg := segs[0]
	if seg.Reason != ReasonPause {
		t.Errorf("reason = %q, want pause", seg.Reason)
	}
	if seg.Duration < 2*time.Second {
		t.Errorf("duration = %v, want buffered speech plus silence", seg.Duration)
	}
	if seg.SessionID != "s1" || seg.SpeakerID != "alice" || seg.SourceLang != "en" {
		t.Errorf("segment identity wrong: %+v", seg)
	}
}

func TestMaxAccumulationCut(t *testing.T) {
	t.Parallel()

	now := time.Now()
	v := &scriptedVAD{script: []bool{true}}
	var segs []Segment
	c := New("s1", "alice", "en", v, collect(&segs), WithClock(func() time.Time { return now }))

	// Continuous speech; cut must fire at the 5 s budget.
	for range 13 {
		c.Feed(frame(400 * time.Millisecond))
		now = now.Add(400 * time.Millisecond)
	}

	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(segs))
	}
	if segs[0].Reason != ReasonMaxAccumulation {
		t.Errorf("reason = %q, want max_accumulation", segs[0].Reason)
	}
	if segs[0].Duration < 5*time.Second {
		t.Errorf("duration = %v, want >= 5s", segs[0].Duration)
	}
}

func TestSilenceTimeoutCut(t *testing.T) {
	t.Parallel()

	now := time.Now()
	v := &scriptedVAD{script: []bool{true}}
	var segs []Segment
	c := New("s1", "alice", "en", v, collect(&segs), WithClock(func() time.Time { return now }))

	c.Feed(frame(800 * time.Millisecond))
	now = now.Add(time.Second)

	c.CheckSilenceTimeout()
	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(segs))
	}
	if segs[0].Reason != ReasonSilence {
		t.Errorf("reason = %q, want silence", segs[0].Reason)
	}

	// Nothing buffered now; further checks are no-ops.
	c.CheckSilenceTimeout()
	if len(segs) != 1 {
		t.Errorf("segments = %d after empty check, want 1", len(segs))
	}
}

func TestFlushRespectsMinimum(t *testing.T) {
	t.Parallel()

	v := &scriptedVAD{}
	var segs []Segment
	c := New("s1", "alice", "en", v, collect(&segs))

	// 200 ms is below the 500 ms minimum; flush discards.
	c.Feed(frame(200 * time.Millisecond))
	c.Flush()
	if len(segs) != 0 {
		t.Fatalf("segments = %d, want 0 for a sub-minimum flush", len(segs))
	}

	c.Feed(frame(800 * time.Millisecond))
	c.Flush()
	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(segs))
	}
	if segs[0].Reason != ReasonEndStream {
		t.Errorf("reason = %q, want end_stream", segs[0].Reason)
	}
}

func TestNoSegmentBelowMinimum(t *testing.T) {
	t.Parallel()

	now := time.Now()
	// Immediate silence after a tiny speech burst.
	v := &scriptedVAD{script: []bool{true, false}}
	var segs []Segment
	c := New("s1", "alice", "en", v, collect(&segs), WithClock(func() time.Time { return now }))

	c.Feed(frame(100 * time.Millisecond))
	now = now.Add(time.Second)
	c.Feed(frame(100 * time.Millisecond))

	if len(segs) != 0 {
		t.Errorf("segments = %d, want 0 below the minimum length", len(segs))
	}
}

func TestShutdownFlushesAndStops(t *testing.T) {
	t.Parallel()

	v := &scriptedVAD{}
	var segs []Segment
	c := New("s1", "alice", "en", v, collect(&segs))

	c.Feed(frame(time.Second))
	c.Shutdown()

	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1 from shutdown flush", len(segs))
	}
	if len(v.resets) != 1 || v.resets[0] != "s1:alice" {
		t.Errorf("VAD resets = %v, want [s1:alice]", v.resets)
	}

	// All further operations are no-ops.
	c.Feed(frame(time.Second))
	c.Flush()
	c.CheckSilenceTimeout()
	if len(segs) != 1 {
		t.Errorf("segments after shutdown = %d, want 1", len(segs))
	}
}
