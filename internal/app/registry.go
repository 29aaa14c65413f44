package app

import (
	anyllm "github.com/mozilla-ai/any-llm-go"

	"github.com/voxlink-ai/voxlink/internal/config"
	"github.com/voxlink-ai/voxlink/pkg/speech"
	"github.com/voxlink-ai/voxlink/pkg/speech/deepgram"
	"github.com/voxlink-ai/voxlink/pkg/speech/elevenlabs"
	"github.com/voxlink-ai/voxlink/pkg/speech/llmtranslate"
	"github.com/voxlink-ai/voxlink/pkg/speech/openai"
)

// llmTranslateProviders are the chat backends served through the
// provider-agnostic translation vendor.
var llmTranslateProviders = []string{
	"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
}

// DefaultRegistry returns a [config.Registry] with every built-in vendor
// registered. main.go passes it to [New]; tests can build a registry with
// mock factories instead.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()

	reg.RegisterStreaming("deepgram", func(entry config.VendorEntry) (speech.StreamingTranscriber, error) {
		opts := []deepgram.Option{}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.VendorEntry) (speech.Transcriber, error) {
		return newOpenAI(entry)
	})

	reg.RegisterTranslator("openai", func(entry config.VendorEntry) (speech.Translator, error) {
		return newOpenAI(entry)
	})
	for _, name := range llmTranslateProviders {
		reg.RegisterTranslator(name, func(entry config.VendorEntry) (speech.Translator, error) {
			opts := []anyllm.Option{}
			if entry.APIKey != "" {
				opts = append(opts, anyllm.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllm.WithBaseURL(entry.BaseURL))
			}
			return llmtranslate.New(entry.Name, entry.Model, opts...)
		})
	}

	reg.RegisterSynthesizer("elevenlabs", func(entry config.VendorEntry) (speech.Synthesizer, error) {
		opts := []elevenlabs.Option{}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(entry.Voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
	reg.RegisterSynthesizer("openai", func(entry config.VendorEntry) (speech.Synthesizer, error) {
		return newOpenAI(entry)
	})

	return reg
}

// newOpenAI builds the shared OpenAI vendor from one config entry.
func newOpenAI(entry config.VendorEntry) (*openai.Vendor, error) {
	opts := []openai.Option{}
	if entry.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(entry.BaseURL))
	}
	if entry.Model != "" {
		opts = append(opts, openai.WithChatModel(entry.Model))
	}
	if entry.Voice != "" {
		opts = append(opts, openai.WithVoice(entry.Voice))
	}
	return openai.New(entry.APIKey, opts...)
}
