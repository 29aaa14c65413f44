// Package vad classifies audio chunks as speech or non-speech. The detector
// keeps a short sliding window per stream key and combines an RMS silence
// gate with a spectral test: energy in the voice band against energy in the
// high-frequency noise band. Keyboard clatter and hiss concentrate above
// 5 kHz; voiced speech lives between 80 Hz and 4 kHz.
package vad

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/voxlink-ai/voxlink/pkg/audio"
)

// Config holds the detector thresholds. Zero values take the defaults below.
type Config struct {
	// SampleRate of the incoming PCM16 audio in Hz.
	SampleRate int

	// HistoryMaxBytes bounds the per-key sliding window. Default covers
	// roughly 400 ms at 16 kHz.
	HistoryMaxBytes int

	// MinAnalysisBytes is the window size below which chunks are assumed to
	// be speech. Avoids dropping the start of an utterance.
	MinAnalysisBytes int

	// RMSSilenceThreshold is the normalised [0,1] amplitude under which the
	// window is silence regardless of spectrum.
	RMSSilenceThreshold float64

	// SpeechFreqMin and SpeechFreqMax bound the voice band in Hz.
	SpeechFreqMin float64
	SpeechFreqMax float64

	// NoiseFreqMin is the lower bound of the noise band in Hz.
	NoiseFreqMin float64

	// SpeechNoiseRatio is the voice/noise energy ratio above which the
	// window counts as speech.
	SpeechNoiseRatio float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		SampleRate:          audio.SampleRate,
		HistoryMaxBytes:     12800, // 400 ms of PCM16 at 16 kHz
		MinAnalysisBytes:    2048,
		RMSSilenceThreshold: 0.01,
		SpeechFreqMin:       80,
		SpeechFreqMax:       4000,
		NoiseFreqMin:        5000,
		SpeechNoiseRatio:    2.0,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.HistoryMaxBytes <= 0 {
		c.HistoryMaxBytes = d.HistoryMaxBytes
	}
	if c.MinAnalysisBytes <= 0 {
		c.MinAnalysisBytes = d.MinAnalysisBytes
	}
	if c.RMSSilenceThreshold <= 0 {
		c.RMSSilenceThreshold = d.RMSSilenceThreshold
	}
	if c.SpeechFreqMin <= 0 {
		c.SpeechFreqMin = d.SpeechFreqMin
	}
	if c.SpeechFreqMax <= 0 {
		c.SpeechFreqMax = d.SpeechFreqMax
	}
	if c.NoiseFreqMin <= 0 {
		c.NoiseFreqMin = d.NoiseFreqMin
	}
	if c.SpeechNoiseRatio <= 0 {
		c.SpeechNoiseRatio = d.SpeechNoiseRatio
	}
}

// Detector is a per-stream-key voice activity detector. Safe for concurrent
// use; state for different keys never mixes.
type Detector struct {
	cfg Config

	mu      sync.Mutex
	history map[string][]byte
}

// New creates a Detector. Zero fields in cfg take defaults.
func New(cfg Config) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg:     cfg,
		history: make(map[string][]byte),
	}
}

// IsSpeech appends chunk to the key's sliding window and classifies the
// window. Errors in the analysis resolve to true: a dropped utterance is
// worse than a processed pause.
func (d *Detector) IsSpeech(key string, chunk []byte) bool {
	d.mu.Lock()
	buf := append(d.history[key], chunk...)
	if len(buf) > d.cfg.HistoryMaxBytes {
		buf = buf[len(buf)-d.cfg.HistoryMaxBytes:]
	}
	d.history[key] = buf
	window := make([]byte, len(buf))
	copy(window, buf)
	d.mu.Unlock()

	if len(window) < d.cfg.MinAnalysisBytes {
		return true
	}

	rms := audio.RMS(window)
	if math.IsNaN(rms) {
		return true
	}
	if rms < d.cfg.RMSSilenceThreshold {
		return false
	}

	return d.spectralSpeech(window)
}

// Reset clears the sliding window for a stream key. Call when the stream
// ends so a later stream with the same key starts clean.
func (d *Detector) Reset(key string) {
	d.mu.Lock()
	delete(d.history, key)
	d.mu.Unlock()
}

// spectralSpeech runs the band-energy ratio test over the window.
func (d *Detector) spectralSpeech(window []byte) bool {
	samples := audio.Samples(window)
	spectrum := fft(samples)
	n := len(spectrum)
	if n == 0 {
		return true
	}

	binHz := float64(d.cfg.SampleRate) / float64(n)
	var voice, noise float64
	for i := 1; i < n/2; i++ {
		freq := float64(i) * binHz
		mag := cmplx.Abs(spectrum[i])
		energy := mag * mag
		switch {
		case freq >= d.cfg.SpeechFreqMin && freq <= d.cfg.SpeechFreqMax:
			voice += energy
		case freq >= d.cfg.NoiseFreqMin:
			noise += energy
		}
	}

	ratio := voice / (noise + 1e-10)
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return true
	}
	return ratio > d.cfg.SpeechNoiseRatio
}

// fft computes the discrete Fourier transform of real samples, truncated to
// the largest power-of-two length, using an iterative radix-2
// Cooley-Tukey pass.
func fft(samples []float64) []complex128 {
	n := 1
	for n*2 <= len(samples) {
		n *= 2
	}
	if n < 2 {
		return nil
	}

	x := make([]complex128, n)
	for i := range n {
		x[i] = complex(samples[i], 0)
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wl := cmplx.Exp(complex(0, ang))
		for start := 0; start < n; start += length {
			w := complex(1, 0)
			for k := range length / 2 {
				u := x[start+k]
				v := x[start+k+length/2] * w
				x[start+k] = u + v
				x[start+k+length/2] = u - v
				w *= wl
			}
		}
	}
	return x
}
