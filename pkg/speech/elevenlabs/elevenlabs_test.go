package elevenlabs

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestTextMessageShape(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(textMessage{
		Text:          "hello",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["text"] != "hello" {
		t.Errorf("text = %v, want hello", m["text"])
	}
	if _, ok := m["voice_settings"]; !ok {
		t.Error("voice_settings missing")
	}

	// Flush message omits settings.
	raw, _ = json.Marshal(textMessage{Text: ""})
	if strings.Contains(string(raw), "voice_settings") {
		t.Errorf("flush message should omit voice_settings: %s", raw)
	}
}

func TestAudioResponseParsing(t *testing.T) {
	t.Parallel()

	var resp audioResponse
	raw := `{"audio":"AAAA","isFinal":true}`
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Audio != "AAAA" {
		t.Errorf("Audio = %q, want AAAA", resp.Audio)
	}
	if !resp.IsFinal {
		t.Error("IsFinal should be true")
	}
}

func TestDefaultVoiceApplied(t *testing.T) {
	t.Parallel()

	s, err := New("xi-key", WithDefaultVoice("custom-voice"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.defaultVoice != "custom-voice" {
		t.Errorf("defaultVoice = %q, want custom-voice", s.defaultVoice)
	}
}
