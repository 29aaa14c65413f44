package config_test

import (
	"strings"
	"testing"

	"github.com/voxlink-ai/voxlink/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: debug
vendors:
  streaming:
    name: deepgram
    api_key: dg-key
    model: nova-3
  batch:
    name: openai
    api_key: oa-key
  translate:
    name: openai
    api_key: oa-key
    model: gpt-4o-mini
  synthesize:
    name: elevenlabs
    api_key: el-key
    voice: 21m00Tcm4TlvDq8ikWAM
  pool_size: 8
  translate_timeout_sec: 7.5
pipeline:
  chunker:
    silence_threshold_ms: 600
    min_audio_length_ms: 500
    max_accumulation_ms: 5000
  translate:
    include_speaker_in_targets: true
  tts_cache_max_size: 100
session:
  min_participants: 2
  max_participants: 4
  offline_grace_sec: 5
  default_language: en
storage:
  postgres_dsn: postgres://localhost/voxlink
  redis_addr: localhost:6379
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Vendors.Streaming.Model != "nova-3" {
		t.Errorf("streaming model = %q, want nova-3", cfg.Vendors.Streaming.Model)
	}
	if cfg.Vendors.PoolSize != 8 {
		t.Errorf("pool_size = %d, want 8", cfg.Vendors.PoolSize)
	}
	if cfg.Vendors.TranslateTimeoutSec != 7.5 {
		t.Errorf("translate_timeout_sec = %v, want 7.5", cfg.Vendors.TranslateTimeoutSec)
	}
	if !cfg.Pipeline.Translate.IncludeSpeakerInTargets {
		t.Error("include_speaker_in_targets should be true")
	}
	if cfg.Session.MaxParticipants != 4 {
		t.Errorf("max_participants = %d, want 4", cfg.Session.MaxParticipants)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_adress: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_NamedVendorRequiresAPIKey(t *testing.T) {
	t.Parallel()
	yaml := `
vendors:
  translate:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing api_key, got nil")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
}

func TestValidate_OllamaNeedsNoAPIKey(t *testing.T) {
	t.Parallel()
	yaml := `
vendors:
  translate:
    name: ollama
    model: llama3
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_FallbackVendors(t *testing.T) {
	t.Parallel()
	yaml := `
vendors:
  translate:
    name: openai
    api_key: oa-key
    fallbacks:
      - name: mistral
        api_key: mi-key
      - name: ollama
        model: llama3
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fbs := cfg.Vendors.Translate.Fallbacks
	if len(fbs) != 2 || fbs[0].Name != "mistral" || fbs[1].Name != "ollama" {
		t.Errorf("fallbacks = %+v, want mistral then ollama", fbs)
	}
}

func TestValidate_FallbackRequiresAPIKey(t *testing.T) {
	t.Parallel()
	yaml := `
vendors:
  translate:
    name: openai
    api_key: oa-key
    fallbacks:
      - name: mistral
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for fallback without api_key, got nil")
	}
	if !strings.Contains(err.Error(), "fallbacks[0].api_key") {
		t.Errorf("error should name the fallback entry, got: %v", err)
	}
}

func TestValidate_FallbackWithoutPrimaryRejected(t *testing.T) {
	t.Parallel()
	yaml := `
vendors:
  translate:
    fallbacks:
      - name: mistral
        api_key: mi-key
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for fallbacks without a primary, got nil")
	}
	if !strings.Contains(err.Error(), "requires a primary vendor") {
		t.Errorf("error should mention the missing primary, got: %v", err)
	}
}

func TestValidate_NestedFallbacksRejected(t *testing.T) {
	t.Parallel()
	yaml := `
vendors:
  translate:
    name: openai
    api_key: oa-key
    fallbacks:
      - name: mistral
        api_key: mi-key
        fallbacks:
          - name: groq
            api_key: gq-key
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for nested fallbacks, got nil")
	}
	if !strings.Contains(err.Error(), "nested") {
		t.Errorf("error should mention nesting, got: %v", err)
	}
}

func TestValidate_ParticipantBoundsOrdered(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  min_participants: 5
  max_participants: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for min > max, got nil")
	}
	if !strings.Contains(err.Error(), "min_participants") {
		t.Errorf("error should mention min_participants, got: %v", err)
	}
}

func TestValidate_UnsupportedDefaultLanguage(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  default_language: xx
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unsupported language, got nil")
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/voxlink/tls.crt
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for partial TLS config, got nil")
	}
}

func TestValidate_NegativeTimeoutRejected(t *testing.T) {
	t.Parallel()
	yaml := `
vendors:
  synthesize_timeout_sec: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative timeout, got nil")
	}
}

func TestValidate_EmptyConfigIsValid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("cfg = nil")
	}
}
