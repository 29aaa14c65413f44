package llmtranslate

import (
	"strings"
	"testing"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("not-a-provider", "some-model"); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()

	p := SystemPrompt("en", "he", "")
	if !strings.Contains(p, "en-US") || !strings.Contains(p, "he-IL") {
		t.Errorf("prompt should name full language tags, got %q", p)
	}
	if strings.Contains(p, "Recent conversation") {
		t.Error("prompt without context should not carry a context section")
	}

	p = SystemPrompt("en", "ru", "Alice: we ship on Friday")
	if !strings.Contains(p, "Alice: we ship on Friday") {
		t.Error("prompt should embed the conversation context")
	}
}
