// Package speech defines the vendor facade for the three external speech
// capabilities voxlink depends on: speech-to-text (batch and streaming),
// text translation, and speech synthesis.
//
// Each capability is its own small interface so deployments can mix vendors
// (Deepgram streaming STT with OpenAI translation and ElevenLabs synthesis,
// for example). [Compose] assembles per-capability providers into a single
// [Vendor]; [NewPooled] bounds concurrent vendor I/O and applies per-call
// deadlines so blocking vendor work can never starve the connection fabric.
//
// Implementations must be safe for concurrent use. Tests use the
// deterministic stub in the mock subpackage.
package speech

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a capability is invoked on a composite
// vendor that has no provider for it.
var ErrNotConfigured = errors.New("speech: capability not configured")

// Transcript is a single speech-to-text result. Both interim and final
// results use this type; IsFinal distinguishes them.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates an authoritative result. Interim results may be
	// revised by later transcripts.
	IsFinal bool

	// Confidence is the vendor's confidence score in [0, 1]. Zero when the
	// vendor does not report one.
	Confidence float64
}

// StreamConfig describes the audio format and language for a streaming
// transcription session.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz. The pipeline's native rate is
	// 16000.
	SampleRate int

	// Language is the full BCP-47 tag for recognition (e.g. "en-US").
	Language string
}

// SessionHandle is an open streaming transcription session. Callers must
// call Close when done; the transcript channels are closed when the session
// ends. All methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM16 audio to the recogniser.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits low-latency interim transcripts.
	Partials() <-chan Transcript

	// Finals emits committed transcripts.
	Finals() <-chan Transcript

	// Close flushes pending audio, finalises the stream, and releases
	// resources. Safe to call more than once.
	Close() error
}

// Transcriber is the batch speech-to-text capability.
type Transcriber interface {
	// Transcribe recognises a complete audio segment. pcm is PCM16 mono at
	// 16 kHz; lang is a full BCP-47 tag.
	Transcribe(ctx context.Context, pcm []byte, lang string) (string, error)
}

// StreamingTranscriber is the low-latency speech-to-text capability with
// interim results.
type StreamingTranscriber interface {
	// StartStream opens a streaming session. The caller owns the returned
	// handle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// TranslateRequest carries one translation call.
type TranslateRequest struct {
	// Text is the source text to translate.
	Text string

	// SourceLang and TargetLang are full BCP-47 tags.
	SourceLang string
	TargetLang string

	// Context is an optional conversation prefix the vendor may use for
	// consistency of terminology and pronouns. May be empty.
	Context string
}

// Translator is the text translation capability.
type Translator interface {
	Translate(ctx context.Context, req TranslateRequest) (string, error)
}

// Synthesizer is the speech synthesis capability. Output is PCM16 mono at
// 16 kHz.
type Synthesizer interface {
	// Synthesize renders text in the given language. voice selects a
	// vendor-specific voice; empty means the vendor default.
	Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error)
}

// Vendor is the full facade over all four capabilities.
type Vendor interface {
	Transcriber
	StreamingTranscriber
	Translator
	Synthesizer
}

// composite assembles independent per-capability providers into a Vendor.
// Nil slots return ErrNotConfigured when invoked.
type composite struct {
	transcriber Transcriber
	streaming   StreamingTranscriber
	translator  Translator
	synthesizer Synthesizer
}

// Compose builds a [Vendor] from per-capability providers. Any slot may be
// nil; invoking a nil capability returns [ErrNotConfigured].
func Compose(t Transcriber, st StreamingTranscriber, tr Translator, sy Synthesizer) Vendor {
	return &composite{transcriber: t, streaming: st, translator: tr, synthesizer: sy}
}

func (c *composite) Transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	if c.transcriber == nil {
		return "", ErrNotConfigured
	}
	return c.transcriber.Transcribe(ctx, pcm, lang)
}

func (c *composite) StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error) {
	if c.streaming == nil {
		return nil, ErrNotConfigured
	}
	return c.streaming.StartStream(ctx, cfg)
}

func (c *composite) Translate(ctx context.Context, req TranslateRequest) (string, error) {
	if c.translator == nil {
		return "", ErrNotConfigured
	}
	return c.translator.Translate(ctx, req)
}

func (c *composite) Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error) {
	if c.synthesizer == nil {
		return nil, ErrNotConfigured
	}
	return c.synthesizer.Synthesize(ctx, text, lang, voice)
}
