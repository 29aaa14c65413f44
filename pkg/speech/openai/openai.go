// Package openai implements the batch speech capabilities against the OpenAI
// API: Whisper transcription, chat-completion translation, and TTS synthesis.
// It does not provide streaming recognition; pair it with a streaming vendor
// such as deepgram.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/voxlink-ai/voxlink/pkg/audio"
	"github.com/voxlink-ai/voxlink/pkg/langtag"
	"github.com/voxlink-ai/voxlink/pkg/speech"
)

const (
	// DefaultChatModel is the chat model used for translation.
	DefaultChatModel = "gpt-4o-mini"

	// DefaultSpeechModel is the TTS model.
	DefaultSpeechModel = "gpt-4o-mini-tts"

	// DefaultVoice is used when the caller does not pick a voice.
	DefaultVoice = "alloy"
)

// Vendor implements [speech.Transcriber], [speech.Translator], and
// [speech.Synthesizer] using the OpenAI API.
type Vendor struct {
	client      oai.Client
	chatModel   string
	speechModel string
	voice       string
}

var (
	_ speech.Transcriber = (*Vendor)(nil)
	_ speech.Translator  = (*Vendor)(nil)
	_ speech.Synthesizer = (*Vendor)(nil)
)

// config holds optional configuration for the vendor.
type config struct {
	baseURL     string
	timeout     time.Duration
	chatModel   string
	speechModel string
	voice       string
}

// Option is a functional option for Vendor.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithChatModel overrides the translation chat model.
func WithChatModel(model string) Option {
	return func(c *config) { c.chatModel = model }
}

// WithSpeechModel overrides the TTS model.
func WithSpeechModel(model string) Option {
	return func(c *config) { c.speechModel = model }
}

// WithVoice sets the default synthesis voice.
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// New constructs an OpenAI speech vendor.
func New(apiKey string, opts ...Option) (*Vendor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{
		chatModel:   DefaultChatModel,
		speechModel: DefaultSpeechModel,
		voice:       DefaultVoice,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Vendor{
		client:      oai.NewClient(reqOpts...),
		chatModel:   cfg.chatModel,
		speechModel: cfg.speechModel,
		voice:       cfg.voice,
	}, nil
}

// Transcribe implements [speech.Transcriber]. pcm is PCM16 mono at 16 kHz;
// Whisper wants a container, so the segment is wrapped as WAV before upload.
func (v *Vendor) Transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	wav := audio.WAV(pcm, audio.SampleRate)
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
		Model: oai.AudioModelWhisper1,
	}
	if lang != "" {
		params.Language = param.NewOpt(langtag.Short(lang))
	}

	resp, err := v.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Translate implements [speech.Translator] via a chat completion.
func (v *Vendor) Translate(ctx context.Context, req speech.TranslateRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", nil
	}
	if langtag.Same(req.SourceLang, req.TargetLang) {
		return req.Text, nil
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(v.chatModel),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(translateSystemPrompt(req)),
			oai.UserMessage(req.Text),
		},
	}

	resp, err := v.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: translate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in translation response")
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", fmt.Errorf("openai: empty translation for %q", req.TargetLang)
	}
	return out, nil
}

func translateSystemPrompt(req speech.TranslateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a real-time interpreter on a live voice call. "+
		"Translate the user's message from %s to %s. "+
		"Reply with the translation only: no quotes, no explanations. "+
		"Preserve the speaker's tone and register.",
		langtag.Full(req.SourceLang), langtag.Full(req.TargetLang))
	if req.Context != "" {
		fmt.Fprintf(&b, "\n\nRecent conversation for terminology and pronoun "+
			"consistency (do not translate this part):\n%s", req.Context)
	}
	return b.String()
}

// Synthesize implements [speech.Synthesizer]. Output is raw PCM16 mono at
// 16 kHz, resampled from the API's 24 kHz PCM stream.
func (v *Vendor) Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if voice == "" {
		voice = v.voice
	}

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(v.speechModel),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}

	resp, err := v.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: synthesize: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read synthesis stream: %w", err)
	}

	// The PCM response format is 24 kHz mono.
	return audio.ResampleMono16(raw, 24000, audio.SampleRate), nil
}
