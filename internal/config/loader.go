package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/voxlink-ai/voxlink/pkg/langtag"
)

// ValidVendorNames lists known vendor names per capability kind.
// Used by [Validate] to warn about unrecognised vendor names.
var ValidVendorNames = map[string][]string{
	"streaming":  {"deepgram"},
	"batch":      {"openai"},
	"translate":  {"openai", "anthropic", "gemini", "ollama", "mistral", "groq", "deepseek"},
	"synthesize": {"elevenlabs", "openai"},
}

// keylessVendors need no API credential.
var keylessVendors = []string{"ollama"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Vendors named without credentials fail here rather than at first use.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Vendors
	errs = append(errs, validateVendor("streaming", cfg.Vendors.Streaming)...)
	errs = append(errs, validateVendor("batch", cfg.Vendors.Batch)...)
	errs = append(errs, validateVendor("translate", cfg.Vendors.Translate)...)
	errs = append(errs, validateVendor("synthesize", cfg.Vendors.Synthesize)...)

	if cfg.Vendors.Streaming.Name == "" && cfg.Vendors.Batch.Name == "" {
		slog.Warn("no recognition vendor configured; audio will not be transcribed")
	}
	if cfg.Vendors.Translate.Name == "" {
		slog.Warn("no translation vendor configured; transcripts will not fan out")
	}

	if cfg.Vendors.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("vendors.pool_size %d must not be negative", cfg.Vendors.PoolSize))
	}
	for _, t := range []struct {
		name string
		sec  float64
	}{
		{"vendors.transcribe_timeout_sec", cfg.Vendors.TranscribeTimeoutSec},
		{"vendors.translate_timeout_sec", cfg.Vendors.TranslateTimeoutSec},
		{"vendors.synthesize_timeout_sec", cfg.Vendors.SynthesizeTimeoutSec},
	} {
		if t.sec < 0 {
			errs = append(errs, fmt.Errorf("%s %.1f must not be negative", t.name, t.sec))
		}
	}

	// Pipeline
	ch := cfg.Pipeline.Chunker
	if ch.MinAudioLengthMS > 0 && ch.MaxAccumulationMS > 0 && ch.MinAudioLengthMS > ch.MaxAccumulationMS {
		errs = append(errs, fmt.Errorf("pipeline.chunker.min_audio_length_ms %d exceeds max_accumulation_ms %d", ch.MinAudioLengthMS, ch.MaxAccumulationMS))
	}
	if r := cfg.Pipeline.VAD.SpeechNoiseRatio; r < 0 {
		errs = append(errs, fmt.Errorf("pipeline.vad.speech_noise_ratio %.2f must not be negative", r))
	}

	// Session
	s := cfg.Session
	if s.MinParticipants < 0 || s.MaxParticipants < 0 {
		errs = append(errs, errors.New("session.min_participants and session.max_participants must not be negative"))
	}
	if s.MinParticipants > 0 && s.MaxParticipants > 0 && s.MinParticipants > s.MaxParticipants {
		errs = append(errs, fmt.Errorf("session.min_participants %d exceeds session.max_participants %d", s.MinParticipants, s.MaxParticipants))
	}
	if s.DefaultLanguage != "" && !langtag.Supported(s.DefaultLanguage) {
		errs = append(errs, fmt.Errorf("session.default_language %q is not supported; valid values: %v", s.DefaultLanguage, langtag.All()))
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; calls and transcripts are kept in memory only")
	}
	if cfg.Storage.RedisAddr == "" {
		slog.Warn("storage.redis_addr is empty; bus and ingest run in-process (single instance only)")
	}

	return errors.Join(errs...)
}

// validateVendor checks one vendor entry and its fallbacks: warns on unknown
// names and fails on a named vendor without credentials.
func validateVendor(kind string, entry VendorEntry) []error {
	if entry.Name == "" {
		if len(entry.Fallbacks) > 0 {
			return []error{fmt.Errorf("vendors.%s.fallbacks requires a primary vendor name", kind)}
		}
		return nil
	}

	errs := checkVendorEntry(kind, kind, entry)
	for i, fb := range entry.Fallbacks {
		label := fmt.Sprintf("%s.fallbacks[%d]", kind, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("vendors.%s.name is required", label))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("vendors.%s must not declare nested fallbacks", label))
		}
		errs = append(errs, checkVendorEntry(kind, label, fb)...)
	}
	return errs
}

func checkVendorEntry(kind, label string, entry VendorEntry) []error {
	if known, ok := ValidVendorNames[kind]; ok && !slices.Contains(known, entry.Name) {
		slog.Warn("unknown vendor name, may be a typo or third-party vendor",
			"kind", label,
			"name", entry.Name,
			"known", known,
		)
	}

	if entry.APIKey == "" && !slices.Contains(keylessVendors, entry.Name) {
		return []error{fmt.Errorf("vendors.%s.api_key is required for %q", label, entry.Name)}
	}
	return nil
}
