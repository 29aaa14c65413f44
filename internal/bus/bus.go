// Package bus is the per-session fan-out fabric. One topic per session
// carries the caption and translation events; delivery is best effort to all
// live subscribers of that topic, with no replay and no persistence. A slow
// subscriber may lose interims but the fabric never blocks a publisher.
//
// Two implementations: [Memory] for tests and single-process deployments,
// [Redis] over pub/sub for multi-instance deployments.
package bus

import (
	"context"
	"encoding/hex"
	"time"
)

// EventType discriminates the session bus event union.
type EventType string

const (
	EventInterimTranscript EventType = "interim_transcript"
	EventInterimClear      EventType = "interim_clear"
	EventTranslation       EventType = "translation"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventMuteStatusChanged EventType = "mute_status_changed"
	EventCallEnded         EventType = "call_ended"
	EventIncomingCall      EventType = "incoming_call"
	EventContactRequest    EventType = "contact_request"
	EventUserStatusChanged EventType = "user_status_changed"
)

// LobbySession is the reserved topic for online users not currently in a
// call. Lobby participants receive presence and contact events, never audio.
const LobbySession = "lobby"

// Event is the envelope carried on a session topic. Fields beyond Type,
// SessionID, and Timestamp are populated per event type; unused fields are
// omitted on the wire.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	// Caption and translation fields.
	SpeakerID    string   `json:"speaker_id,omitempty"`
	Text         string   `json:"text,omitempty"`
	SourceLang   string   `json:"source_lang,omitempty"`
	TargetLang   string   `json:"target_lang,omitempty"`
	IsFinal      bool     `json:"is_final,omitempty"`
	IsStreaming  bool     `json:"is_streaming,omitempty"`
	HasContext   bool     `json:"has_context,omitempty"`
	Confidence   float64  `json:"confidence,omitempty"`
	Recipients   []string `json:"recipient_ids,omitempty"`
	Transcript   string   `json:"transcript,omitempty"`
	Translation  string   `json:"translation,omitempty"`
	AudioContent string   `json:"audio_content,omitempty"` // hex-encoded PCM16

	// Lifecycle and presence fields.
	UserID     string `json:"user_id,omitempty"`
	FromUserID string `json:"from_user_id,omitempty"`
	Muted      bool   `json:"muted,omitempty"`
	Online     bool   `json:"online,omitempty"`
	Reason     string `json:"reason,omitempty"`
	CallID     string `json:"call_id,omitempty"`
}

// NewInterim builds an interim or final caption event.
func NewInterim(sessionID, speakerID, text, sourceLang string, isFinal bool, confidence float64) Event {
	return Event{
		Type:       EventInterimTranscript,
		SessionID:  sessionID,
		SpeakerID:  speakerID,
		Text:       text,
		SourceLang: sourceLang,
		IsFinal:    isFinal,
		Confidence: confidence,
		Timestamp:  time.Now(),
	}
}

// NewInterimClear builds the marker that retires a speaker's interim caption.
func NewInterimClear(sessionID, speakerID string) Event {
	return Event{
		Type:      EventInterimClear,
		SessionID: sessionID,
		SpeakerID: speakerID,
		Timestamp: time.Now(),
	}
}

// NewTranslation builds a final translation event. audio may be nil when
// synthesis failed; listeners fall back to the caption.
func NewTranslation(sessionID, speakerID string, recipients []string, transcript, translation, sourceLang, targetLang string, audio []byte, streaming, hasContext bool) Event {
	ev := Event{
		Type:        EventTranslation,
		SessionID:   sessionID,
		SpeakerID:   speakerID,
		Recipients:  recipients,
		Transcript:  transcript,
		Translation: translation,
		SourceLang:  sourceLang,
		TargetLang:  targetLang,
		IsFinal:     true,
		IsStreaming: streaming,
		HasContext:  hasContext,
		Timestamp:   time.Now(),
	}
	if len(audio) > 0 {
		ev.AudioContent = hex.EncodeToString(audio)
	}
	return ev
}

// NewParticipantJoined builds the join notification for a session.
func NewParticipantJoined(sessionID, userID string) Event {
	return Event{
		Type:      EventParticipantJoined,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

// NewParticipantLeft builds the leave notification for a session.
func NewParticipantLeft(sessionID, userID string) Event {
	return Event{
		Type:      EventParticipantLeft,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

// NewMuteStatus builds the broadcast for a participant's mute toggle.
func NewMuteStatus(sessionID, userID string, muted bool) Event {
	return Event{
		Type:      EventMuteStatusChanged,
		SessionID: sessionID,
		UserID:    userID,
		Muted:     muted,
		Timestamp: time.Now(),
	}
}

// NewCallEnded builds the session termination event.
func NewCallEnded(sessionID, callID, reason string) Event {
	return Event{
		Type:      EventCallEnded,
		SessionID: sessionID,
		CallID:    callID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// NewIncomingCall builds the lobby invitation event. Only the invited user
// receives it.
func NewIncomingCall(callID, fromUserID, toUserID string) Event {
	return Event{
		Type:       EventIncomingCall,
		SessionID:  LobbySession,
		CallID:     callID,
		FromUserID: fromUserID,
		UserID:     toUserID,
		Timestamp:  time.Now(),
	}
}

// NewContactRequest builds the lobby contact request event. Only the
// addressed user receives it.
func NewContactRequest(fromUserID, toUserID string) Event {
	return Event{
		Type:       EventContactRequest,
		SessionID:  LobbySession,
		FromUserID: fromUserID,
		UserID:     toUserID,
		Timestamp:  time.Now(),
	}
}

// NewUserStatus builds the lobby presence event for a user going online or
// offline.
func NewUserStatus(userID string, online bool) Event {
	return Event{
		Type:      EventUserStatusChanged,
		SessionID: LobbySession,
		UserID:    userID,
		Online:    online,
		Timestamp: time.Now(),
	}
}

// Audio decodes the hex-encoded synthesis payload. Returns nil when the
// event carries no audio or the payload is malformed.
func (e Event) Audio() []byte {
	if e.AudioContent == "" {
		return nil
	}
	b, err := hex.DecodeString(e.AudioContent)
	if err != nil {
		return nil
	}
	return b
}

// Subscription is a live attachment to one session topic. Events() is closed
// when the subscription is closed or the bus shuts down.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Bus is the session fan-out interface.
type Bus interface {
	// Publish delivers ev to all current subscribers of the session topic.
	// Best effort: a full subscriber queue drops the event for that
	// subscriber only.
	Publish(ctx context.Context, sessionID string, ev Event) error

	// Subscribe attaches to a session topic. The caller must Close the
	// subscription.
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)

	// Close shuts the bus down and closes all subscriptions.
	Close() error
}
