package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxlink-ai/voxlink/pkg/speech"
)

// ErrVendorNotRegistered is returned by Create* methods when no factory has
// been registered under the requested vendor name.
var ErrVendorNotRegistered = errors.New("config: vendor not registered")

// Registry maps vendor names to their constructor functions for each speech
// capability. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]func(VendorEntry) (speech.Transcriber, error)
	streaming   map[string]func(VendorEntry) (speech.StreamingTranscriber, error)
	translator  map[string]func(VendorEntry) (speech.Translator, error)
	synthesizer map[string]func(VendorEntry) (speech.Synthesizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[string]func(VendorEntry) (speech.Transcriber, error)),
		streaming:   make(map[string]func(VendorEntry) (speech.StreamingTranscriber, error)),
		translator:  make(map[string]func(VendorEntry) (speech.Translator, error)),
		synthesizer: make(map[string]func(VendorEntry) (speech.Synthesizer, error)),
	}
}

// RegisterTranscriber registers a batch recognition factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(VendorEntry) (speech.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterStreaming registers a streaming recognition factory under name.
func (r *Registry) RegisterStreaming(name string, factory func(VendorEntry) (speech.StreamingTranscriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming[name] = factory
}

// RegisterTranslator registers a translation factory under name.
func (r *Registry) RegisterTranslator(name string, factory func(VendorEntry) (speech.Translator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translator[name] = factory
}

// RegisterSynthesizer registers a synthesis factory under name.
func (r *Registry) RegisterSynthesizer(name string, factory func(VendorEntry) (speech.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synthesizer[name] = factory
}

// CreateTranscriber instantiates a batch recognizer using the factory
// registered under entry.Name. Returns [ErrVendorNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTranscriber(entry VendorEntry) (speech.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: batch/%q", ErrVendorNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateStreaming instantiates a streaming recognizer using the factory
// registered under entry.Name.
func (r *Registry) CreateStreaming(entry VendorEntry) (speech.StreamingTranscriber, error) {
	r.mu.RLock()
	factory, ok := r.streaming[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: streaming/%q", ErrVendorNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslator instantiates a translator using the factory registered
// under entry.Name.
func (r *Registry) CreateTranslator(entry VendorEntry) (speech.Translator, error) {
	r.mu.RLock()
	factory, ok := r.translator[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translate/%q", ErrVendorNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSynthesizer instantiates a synthesizer using the factory registered
// under entry.Name.
func (r *Registry) CreateSynthesizer(entry VendorEntry) (speech.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.synthesizer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesize/%q", ErrVendorNotRegistered, entry.Name)
	}
	return factory(entry)
}
