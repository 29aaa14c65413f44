// Package llmtranslate provides a [speech.Translator] backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider LLM interface.
// Any chat-capable backend (OpenAI, Anthropic, Gemini, Ollama, Groq, ...)
// can serve as the translation engine.
//
// Usage:
//
//	tr, err := llmtranslate.New("anthropic", "claude-3-5-haiku-latest",
//		anyllm.WithAPIKey("sk-ant-..."))
package llmtranslate

import (
	"context"
	"fmt"
	"strings"

	anyllm "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxlink-ai/voxlink/pkg/langtag"
	"github.com/voxlink-ai/voxlink/pkg/speech"
)

// Translator implements [speech.Translator] over an any-llm-go backend.
type Translator struct {
	backend anyllm.Provider
	model   string
}

var _ speech.Translator = (*Translator)(nil)

// New creates a Translator backed by the given LLM provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq". model is the chat model to use
// (e.g. "gpt-4o-mini", "claude-3-5-haiku-latest").
//
// opts are any-llm-go options (anyllm.WithAPIKey, anyllm.WithBaseURL).
// Without an API key option the backend falls back to its environment
// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(providerName, model string, opts ...anyllm.Option) (*Translator, error) {
	if providerName == "" {
		return nil, fmt.Errorf("llmtranslate: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llmtranslate: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("llmtranslate: create %q backend: %w", providerName, err)
	}
	return &Translator{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllm.Option) (anyllm.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", providerName)
	}
}

// Translate implements [speech.Translator]. The conversation context, when
// present, is passed to the model so terminology and pronouns stay consistent
// across segments.
func (t *Translator) Translate(ctx context.Context, req speech.TranslateRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", nil
	}
	if langtag.Same(req.SourceLang, req.TargetLang) {
		return req.Text, nil
	}

	messages := []anyllm.Message{
		{Role: anyllm.RoleSystem, Content: SystemPrompt(req.SourceLang, req.TargetLang, req.Context)},
		{Role: anyllm.RoleUser, Content: req.Text},
	}

	resp, err := t.backend.Completion(ctx, anyllm.CompletionParams{
		Model:    t.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("llmtranslate: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llmtranslate: empty choices in response")
	}

	out := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if out == "" {
		return "", fmt.Errorf("llmtranslate: empty translation for %q", req.TargetLang)
	}
	return out, nil
}

// SystemPrompt builds the translation instruction for one request.
func SystemPrompt(sourceLang, targetLang, convContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a real-time interpreter on a live voice call. "+
		"Translate the user's message from %s to %s. "+
		"Reply with the translation only: no quotes, no explanations, no commentary. "+
		"Preserve the speaker's tone and register. Keep names, numbers, and "+
		"technical terms intact unless the target language has an established form.",
		langtag.Full(sourceLang), langtag.Full(targetLang))
	if convContext != "" {
		fmt.Fprintf(&b, "\n\nRecent conversation for terminology and pronoun "+
			"consistency (do not translate this part):\n%s", convContext)
	}
	return b.String()
}
