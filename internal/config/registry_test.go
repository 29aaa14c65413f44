package config_test

import (
	"errors"
	"testing"

	"github.com/voxlink-ai/voxlink/internal/config"
	"github.com/voxlink-ai/voxlink/pkg/speech"
	"github.com/voxlink-ai/voxlink/pkg/speech/mock"
)

func TestRegistry_CreateTranslator(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterTranslator("mock", func(entry config.VendorEntry) (speech.Translator, error) {
		if entry.APIKey != "secret" {
			t.Errorf("entry.APIKey = %q, want secret", entry.APIKey)
		}
		return &mock.Vendor{}, nil
	})

	tr, err := r.CreateTranslator(config.VendorEntry{Name: "mock", APIKey: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr == nil {
		t.Fatal("translator = nil")
	}
}

func TestRegistry_UnregisteredName(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateSynthesizer(config.VendorEntry{Name: "nope"})
	if !errors.Is(err, config.ErrVendorNotRegistered) {
		t.Fatalf("err = %v, want ErrVendorNotRegistered", err)
	}
}

func TestRegistry_OverwriteKeepsLatest(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	first := &mock.Vendor{TranscribeResult: "first"}
	second := &mock.Vendor{TranscribeResult: "second"}
	r.RegisterTranscriber("mock", func(config.VendorEntry) (speech.Transcriber, error) {
		return first, nil
	})
	r.RegisterTranscriber("mock", func(config.VendorEntry) (speech.Transcriber, error) {
		return second, nil
	})

	got, err := r.CreateTranscriber(config.VendorEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != second {
		t.Error("expected the later registration to win")
	}
}
