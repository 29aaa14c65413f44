// Package mock provides deterministic test doubles for the speech package
// interfaces.
//
// The Vendor stub records every call and produces predictable results:
// transcription returns a fixed script (or per-call queue), translation
// returns "[target] text" unless overridden, and synthesis returns a short
// byte pattern derived from the text. Use Session to feed controlled
// interim/final transcripts into streaming consumers.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxlink-ai/voxlink/pkg/speech"
)

// TranslateCall records a single invocation of Vendor.Translate.
type TranslateCall struct {
	Req speech.TranslateRequest
}

// TranscribeCall records a single invocation of Vendor.Transcribe.
type TranscribeCall struct {
	PCM  []byte
	Lang string
}

// SynthesizeCall records a single invocation of Vendor.Synthesize.
type SynthesizeCall struct {
	Text  string
	Lang  string
	Voice string
}

// Vendor is a deterministic in-memory implementation of [speech.Vendor].
// The zero value is usable; all fields may be set before first use.
type Vendor struct {
	mu sync.Mutex

	// TranscribeResult is returned from every Transcribe call when
	// TranscribeQueue is empty.
	TranscribeResult string

	// TranscribeQueue, when non-empty, supplies Transcribe results in order;
	// the last entry repeats once the queue is exhausted.
	TranscribeQueue []string

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// Translations maps "source|target|text" to a fixed translation. Misses
	// fall back to "[target] text".
	Translations map[string]string

	// TranslateErrs maps a target language tag to an error returned for that
	// language. Used to exercise per-language failure isolation.
	TranslateErrs map[string]error

	// SynthesizeErr, if non-nil, is returned by every Synthesize call.
	SynthesizeErr error

	// Session is returned by StartStream. If nil a new default Session with
	// buffered channels is created per call.
	Session speech.SessionHandle

	// StartStreamErr, if non-nil, is returned by StartStream.
	StartStreamErr error

	// Call records.
	TranscribeCalls  []TranscribeCall
	TranslateCalls   []TranslateCall
	SynthesizeCalls  []SynthesizeCall
	StartStreamCalls []speech.StreamConfig
}

// Compile-time assertion.
var _ speech.Vendor = (*Vendor)(nil)

// TranslationKey builds the lookup key used by the Translations map.
func TranslationKey(source, target, text string) string {
	return source + "|" + target + "|" + text
}

// Transcribe records the call and returns the queued or fixed result.
func (v *Vendor) Transcribe(_ context.Context, pcm []byte, lang string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	v.TranscribeCalls = append(v.TranscribeCalls, TranscribeCall{PCM: cp, Lang: lang})
	if v.TranscribeErr != nil {
		return "", v.TranscribeErr
	}
	if n := len(v.TranscribeQueue); n > 0 {
		r := v.TranscribeQueue[0]
		if n > 1 {
			v.TranscribeQueue = v.TranscribeQueue[1:]
		}
		return r, nil
	}
	return v.TranscribeResult, nil
}

// StartStream records the call and returns Session or a fresh default one.
func (v *Vendor) StartStream(_ context.Context, cfg speech.StreamConfig) (speech.SessionHandle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.StartStreamCalls = append(v.StartStreamCalls, cfg)
	if v.StartStreamErr != nil {
		return nil, v.StartStreamErr
	}
	if v.Session != nil {
		return v.Session, nil
	}
	return NewSession(), nil
}

// Translate records the call and returns the mapped or synthetic result.
func (v *Vendor) Translate(_ context.Context, req speech.TranslateRequest) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.TranslateCalls = append(v.TranslateCalls, TranslateCall{Req: req})
	if err := v.TranslateErrs[req.TargetLang]; err != nil {
		return "", err
	}
	if r, ok := v.Translations[TranslationKey(req.SourceLang, req.TargetLang, req.Text)]; ok {
		return r, nil
	}
	return fmt.Sprintf("[%s] %s", req.TargetLang, req.Text), nil
}

// Synthesize records the call and returns a deterministic byte pattern.
func (v *Vendor) Synthesize(_ context.Context, text, lang, voice string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.SynthesizeCalls = append(v.SynthesizeCalls, SynthesizeCall{Text: text, Lang: lang, Voice: voice})
	if v.SynthesizeErr != nil {
		return nil, v.SynthesizeErr
	}
	return []byte("pcm:" + lang + ":" + text), nil
}

// TranslateCallCount returns the number of Translate calls. Thread-safe.
func (v *Vendor) TranslateCallCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.TranslateCalls)
}

// SynthesizeCallCount returns the number of Synthesize calls. Thread-safe.
func (v *Vendor) SynthesizeCallCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.SynthesizeCalls)
}

// TranscribeCallCount returns the number of Transcribe calls. Thread-safe.
func (v *Vendor) TranscribeCallCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (v *Vendor) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.TranscribeCalls = nil
	v.TranslateCalls = nil
	v.SynthesizeCalls = nil
	v.StartStreamCalls = nil
}

// Session is a mock implementation of [speech.SessionHandle]. Tests own the
// transcript channels: send interim/final values and close them to end the
// stream.
type Session struct {
	mu sync.Mutex

	// PartialsCh and FinalsCh are the channels returned by Partials/Finals.
	PartialsCh chan speech.Transcript
	FinalsCh   chan speech.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendAudioCalls records the audio chunks delivered in order.
	SendAudioCalls [][]byte

	// CloseCallCount is the number of Close calls.
	CloseCallCount int

	// CloseFunc, if set, runs on the first Close. Used to simulate the
	// vendor flushing a final transcript at end of stream.
	CloseFunc func()
}

// Compile-time assertion.
var _ speech.SessionHandle = (*Session)(nil)

// NewSession creates a Session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan speech.Transcript, 16),
		FinalsCh:   make(chan speech.Transcript, 16),
	}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan speech.Transcript { return s.PartialsCh }

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan speech.Transcript { return s.FinalsCh }

// Close records the call, runs CloseFunc once, and closes the channels on
// first invocation.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.CloseCallCount == 1 {
		if s.CloseFunc != nil {
			s.CloseFunc()
		}
		close(s.PartialsCh)
		close(s.FinalsCh)
	}
	return nil
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}
