// Package audio provides helpers for the PCM16 mono audio that flows through
// the voxlink pipeline. All functions operate on little-endian 16-bit signed
// samples; the relay's native format is 16 kHz mono.
package audio

import (
	"math"
	"time"
)

const (
	// SampleRate is the pipeline's native sample rate in Hz.
	SampleRate = 16000

	// BytesPerSample is the width of one PCM16 sample.
	BytesPerSample = 2
)

// Duration returns the playback duration of a PCM16 byte slice at the given
// sample rate. A rate of 0 uses [SampleRate].
func Duration(pcm []byte, rate int) time.Duration {
	if rate <= 0 {
		rate = SampleRate
	}
	samples := len(pcm) / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// Samples decodes PCM16 bytes into float64 samples in [-1, 1). A trailing odd
// byte is ignored.
func Samples(pcm []byte) []float64 {
	n := len(pcm) / BytesPerSample
	out := make([]float64, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float64(s) / 32768.0
	}
	return out
}

// RMS computes the root-mean-square amplitude of a PCM16 byte slice,
// normalised to [0, 1]. Empty input returns 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate the input is returned unchanged.
// The OpenAI synthesis path uses this to bring 24 kHz vendor audio down to
// the relay's 16 kHz clip rate.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// Silence returns a zeroed PCM16 buffer covering d at [SampleRate].
// Used by tests and by the chunker's padding on short flushes.
func Silence(d time.Duration) []byte {
	samples := int(d * SampleRate / time.Second)
	return make([]byte, samples*BytesPerSample)
}

// Tone synthesises a sine wave at freq Hz with the given amplitude in [0, 1]
// covering d at [SampleRate]. Primarily a test helper for exercising the VAD.
func Tone(freq float64, amplitude float64, d time.Duration) []byte {
	samples := int(d * SampleRate / time.Second)
	out := make([]byte, samples*BytesPerSample)
	for i := range samples {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/SampleRate)
		s := int16(v * 32767)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
