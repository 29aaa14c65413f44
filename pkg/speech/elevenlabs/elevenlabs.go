// Package elevenlabs provides a [speech.Synthesizer] backed by the
// ElevenLabs streaming WebSocket API. Each Synthesize call opens a
// stream-input session, pushes the whole text, and collects the PCM chunks
// into one clip.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coder/websocket"

	"github.com/voxlink-ai/voxlink/pkg/speech"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	// DefaultVoiceID is used when the caller does not pick a voice.
	// "Rachel", an ElevenLabs stock voice.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

// Option is a functional option for configuring the Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Synthesizer) { s.model = model }
}

// WithDefaultVoice sets the voice used when a request carries none.
func WithDefaultVoice(voiceID string) Option {
	return func(s *Synthesizer) { s.defaultVoice = voiceID }
}

// WithEndpointFormat overrides the WebSocket URL template, mainly for tests.
// The template receives voice ID, model, and output format in that order.
func WithEndpointFormat(format string) Option {
	return func(s *Synthesizer) { s.endpointFmt = format }
}

// Synthesizer implements [speech.Synthesizer] over the ElevenLabs streaming
// API. Output is PCM16 mono at 16 kHz.
type Synthesizer struct {
	apiKey       string
	model        string
	defaultVoice string
	endpointFmt  string
}

var _ speech.Synthesizer = (*Synthesizer)(nil)

// New creates an ElevenLabs Synthesizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	s := &Synthesizer{
		apiKey:       apiKey,
		model:        defaultModel,
		defaultVoice: DefaultVoiceID,
		endpointFmt:  wsEndpointFmt,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ─── WebSocket message types ────────────────────────────────────────────────

// textMessage is the JSON payload sent for each text fragment. An empty Text
// flushes the stream.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is a message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// Synthesize implements [speech.Synthesizer]. lang is unused: ElevenLabs
// models are multilingual and pick the language up from the text.
func (s *Synthesizer) Synthesize(ctx context.Context, text, _ string, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if voice == "" {
		voice = s.defaultVoice
	}

	wsURL := fmt.Sprintf(s.endpointFmt, voice, s.model, defaultOutputFmt)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

	// ElevenLabs requires a non-empty first text value.
	boi := boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: s.apiKey}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	payload, _ := json.Marshal(textMessage{Text: text + " "})
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}

	// Empty text flushes and finalises the stream.
	flush, _ := json.Marshal(textMessage{Text: ""})
	if err := conn.Write(ctx, websocket.MessageText, flush); err != nil {
		return nil, fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	return collectAudio(ctx, conn)
}

// collectAudio drains audio messages until isFinal or the connection closes.
func collectAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if len(pcm) > 0 {
				return pcm, nil
			}
			return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil {
				pcm = append(pcm, chunk...)
			}
		}
		if resp.IsFinal {
			return pcm, nil
		}
	}
}
