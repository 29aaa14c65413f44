// Package callrepo is the read-through view over the persistent call store:
// which call a session belongs to, who is in it, what language each listener
// wants. The pipeline queries it on every final transcript, so freshness
// beats locality and nothing is cached across calls.
//
// Two implementations: [Memory] for tests and standalone runs, [Postgres]
// over pgx for deployments sharing the platform database.
package callrepo

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a call or participant does not exist.
var ErrNotFound = errors.New("callrepo: not found")

// Call is the call row a session maps to.
type Call struct {
	ID        string
	SessionID string
	Active    bool
	StartedAt time.Time
}

// Participant is one member of a call.
type Participant struct {
	SessionID string
	UserID    string
	Language  string
	Muted     bool
	Connected bool
}

// Transcript is one persisted final translation.
type Transcript struct {
	SessionID   string
	SpeakerID   string
	SourceLang  string
	TargetLang  string
	Text        string
	Translation string
	CreatedAt   time.Time
}

// Repository is the call store interface the pipeline and orchestrator
// depend on.
type Repository interface {
	// GetTargetLanguages maps each distinct listener language to the
	// connected listeners wanting it, for the given speaker. includeSpeaker
	// adds the speaker to their own language bucket.
	GetTargetLanguages(ctx context.Context, sessionID, speakerID string, includeSpeaker bool) (map[string][]string, error)

	// GetParticipantLanguage returns the participant's preferred language.
	// Returns ErrNotFound when the participant is not in the session.
	GetParticipantLanguage(ctx context.Context, sessionID, userID string) (string, error)

	// GetCallBySessionID returns the call a session belongs to, or
	// ErrNotFound.
	GetCallBySessionID(ctx context.Context, sessionID string) (*Call, error)

	// GetConnectedParticipants lists connected participants of a call,
	// optionally excluding one user. excludeUserID may be empty.
	GetConnectedParticipants(ctx context.Context, callID, excludeUserID string) ([]Participant, error)

	// UpsertParticipant creates or updates a participant row.
	UpsertParticipant(ctx context.Context, p Participant) error

	// SetConnected flips the participant's connected flag.
	SetConnected(ctx context.Context, sessionID, userID string, connected bool) error

	// SetMuted flips the participant's muted flag.
	SetMuted(ctx context.Context, sessionID, userID string, muted bool) error

	// EndCall marks the session's call inactive.
	EndCall(ctx context.Context, sessionID string) error

	// SaveTranscript persists one final translation, best effort.
	SaveTranscript(ctx context.Context, t Transcript) error
}
