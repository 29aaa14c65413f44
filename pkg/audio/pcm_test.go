package audio

import (
	"math"
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		rate  int
		want  time.Duration
	}{
		{"one second at native rate", SampleRate * BytesPerSample, 0, time.Second},
		{"half second", SampleRate, 16000, 500 * time.Millisecond},
		{"empty", 0, 16000, 0},
		{"explicit 48k", 48000 * 2, 48000, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Duration(make([]byte, tt.bytes), tt.rate)
			if got != tt.want {
				t.Fatalf("Duration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	t.Run("silence is zero", func(t *testing.T) {
		t.Parallel()
		if got := RMS(Silence(100 * time.Millisecond)); got != 0 {
			t.Fatalf("RMS of silence = %v, want 0", got)
		}
	})

	t.Run("full-scale sine is ~0.707", func(t *testing.T) {
		t.Parallel()
		got := RMS(Tone(440, 1.0, 100*time.Millisecond))
		if math.Abs(got-1/math.Sqrt2) > 0.01 {
			t.Fatalf("RMS of sine = %v, want ~0.707", got)
		}
	})

	t.Run("amplitude scales linearly", func(t *testing.T) {
		t.Parallel()
		loud := RMS(Tone(440, 0.8, 100*time.Millisecond))
		quiet := RMS(Tone(440, 0.2, 100*time.Millisecond))
		if loud <= quiet {
			t.Fatalf("loud RMS %v not greater than quiet RMS %v", loud, quiet)
		}
	})
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate passthrough", func(t *testing.T) {
		t.Parallel()
		in := Tone(440, 0.5, 50*time.Millisecond)
		out := ResampleMono16(in, 16000, 16000)
		if &in[0] != &out[0] {
			t.Fatal("expected zero-copy passthrough for equal rates")
		}
	})

	t.Run("48k to 16k thirds the length", func(t *testing.T) {
		t.Parallel()
		in := make([]byte, 4800*2) // 100 ms at 48 kHz
		out := ResampleMono16(in, 48000, 16000)
		if len(out) != 1600*2 {
			t.Fatalf("resampled length = %d, want %d", len(out), 1600*2)
		}
	})

	t.Run("preserves approximate energy", func(t *testing.T) {
		t.Parallel()
		in := Tone(440, 0.5, 200*time.Millisecond)
		out := ResampleMono16(in, 16000, 8000)
		if math.Abs(RMS(in)-RMS(out)) > 0.05 {
			t.Fatalf("energy drifted: in %v out %v", RMS(in), RMS(out))
		}
	})
}
