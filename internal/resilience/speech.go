package resilience

import (
	"context"

	"github.com/voxlink-ai/voxlink/pkg/speech"
)

// TranscriberFallback implements [speech.Transcriber] with automatic failover
// across multiple batch recognition backends. Each backend has its own
// circuit breaker.
type TranscriberFallback struct {
	group *FallbackGroup[speech.Transcriber]
}

var _ speech.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary speech.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t speech.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe recognises the segment against the first healthy backend.
func (f *TranscriberFallback) Transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	return ExecuteWithResult(f.group, func(t speech.Transcriber) (string, error) {
		return t.Transcribe(ctx, pcm, lang)
	})
}

// StreamingFallback implements [speech.StreamingTranscriber] with automatic
// failover. Only stream setup is covered; once a session is established,
// mid-stream errors belong to the session owner.
type StreamingFallback struct {
	group *FallbackGroup[speech.StreamingTranscriber]
}

var _ speech.StreamingTranscriber = (*StreamingFallback)(nil)

// NewStreamingFallback creates a [StreamingFallback] with primary as the
// preferred backend.
func NewStreamingFallback(primary speech.StreamingTranscriber, primaryName string, cfg FallbackConfig) *StreamingFallback {
	return &StreamingFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional streaming transcriber as a fallback.
func (f *StreamingFallback) AddFallback(name string, st speech.StreamingTranscriber) {
	f.group.AddFallback(name, st)
}

// StartStream opens a session against the first healthy backend.
func (f *StreamingFallback) StartStream(ctx context.Context, cfg speech.StreamConfig) (speech.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(st speech.StreamingTranscriber) (speech.SessionHandle, error) {
		return st.StartStream(ctx, cfg)
	})
}

// TranslatorFallback implements [speech.Translator] with automatic failover.
type TranslatorFallback struct {
	group *FallbackGroup[speech.Translator]
}

var _ speech.Translator = (*TranslatorFallback)(nil)

// NewTranslatorFallback creates a [TranslatorFallback] with primary as the
// preferred backend.
func NewTranslatorFallback(primary speech.Translator, primaryName string, cfg FallbackConfig) *TranslatorFallback {
	return &TranslatorFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional translator as a fallback.
func (f *TranslatorFallback) AddFallback(name string, tr speech.Translator) {
	f.group.AddFallback(name, tr)
}

// Translate sends the request to the first healthy backend.
func (f *TranslatorFallback) Translate(ctx context.Context, req speech.TranslateRequest) (string, error) {
	return ExecuteWithResult(f.group, func(tr speech.Translator) (string, error) {
		return tr.Translate(ctx, req)
	})
}

// SynthesizerFallback implements [speech.Synthesizer] with automatic failover.
type SynthesizerFallback struct {
	group *FallbackGroup[speech.Synthesizer]
}

var _ speech.Synthesizer = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback creates a [SynthesizerFallback] with primary as the
// preferred backend.
func NewSynthesizerFallback(primary speech.Synthesizer, primaryName string, cfg FallbackConfig) *SynthesizerFallback {
	return &SynthesizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *SynthesizerFallback) AddFallback(name string, sy speech.Synthesizer) {
	f.group.AddFallback(name, sy)
}

// Synthesize renders text against the first healthy backend.
func (f *SynthesizerFallback) Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error) {
	return ExecuteWithResult(f.group, func(sy speech.Synthesizer) ([]byte, error) {
		return sy.Synthesize(ctx, text, lang, voice)
	})
}
