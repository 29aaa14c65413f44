package callrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgx operations the repository needs. Both
// *pgxpool.Pool and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema holds the DDL for the call store tables. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    session_id TEXT NOT NULL UNIQUE,
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS call_participants (
    session_id TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    language   TEXT NOT NULL,
    muted      BOOLEAN NOT NULL DEFAULT FALSE,
    connected  BOOLEAN NOT NULL DEFAULT TRUE,
    PRIMARY KEY (session_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_call_participants_session
    ON call_participants (session_id) WHERE connected;

CREATE TABLE IF NOT EXISTS call_transcripts (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    speaker_id  TEXT NOT NULL,
    source_lang TEXT NOT NULL,
    target_lang TEXT NOT NULL,
    text        TEXT NOT NULL,
    translation TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_session
    ON call_transcripts (session_id, created_at);
`

// Postgres is the [Repository] over the platform database.
type Postgres struct {
	db DB
}

var _ Repository = (*Postgres)(nil)

// NewPostgres creates a repository over the given database handle.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies [Schema].
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("callrepo: migrate: %w", err)
	}
	return nil
}

// GetTargetLanguages implements [Repository].
func (p *Postgres) GetTargetLanguages(ctx context.Context, sessionID, speakerID string, includeSpeaker bool) (map[string][]string, error) {
	rows, err := p.db.Query(ctx, `
		SELECT user_id, language FROM call_participants
		WHERE session_id = $1 AND connected
		  AND ($3 OR user_id <> $2)
		ORDER BY user_id`,
		sessionID, speakerID, includeSpeaker)
	if err != nil {
		return nil, fmt.Errorf("callrepo: query target languages: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var userID, lang string
		if err := rows.Scan(&userID, &lang); err != nil {
			return nil, fmt.Errorf("callrepo: scan participant: %w", err)
		}
		out[lang] = append(out[lang], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callrepo: iterate participants: %w", err)
	}
	return out, nil
}

// GetParticipantLanguage implements [Repository].
func (p *Postgres) GetParticipantLanguage(ctx context.Context, sessionID, userID string) (string, error) {
	var lang string
	err := p.db.QueryRow(ctx, `
		SELECT language FROM call_participants
		WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID).Scan(&lang)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("callrepo: query participant language: %w", err)
	}
	return lang, nil
}

// GetCallBySessionID implements [Repository].
func (p *Postgres) GetCallBySessionID(ctx context.Context, sessionID string) (*Call, error) {
	var c Call
	err := p.db.QueryRow(ctx, `
		SELECT id, session_id, active, started_at FROM calls
		WHERE session_id = $1`,
		sessionID).Scan(&c.ID, &c.SessionID, &c.Active, &c.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("callrepo: query call: %w", err)
	}
	return &c, nil
}

// GetConnectedParticipants implements [Repository].
func (p *Postgres) GetConnectedParticipants(ctx context.Context, callID, excludeUserID string) ([]Participant, error) {
	rows, err := p.db.Query(ctx, `
		SELECT cp.session_id, cp.user_id, cp.language, cp.muted, cp.connected
		FROM call_participants cp
		JOIN calls c ON c.session_id = cp.session_id
		WHERE c.id = $1 AND cp.connected AND cp.user_id <> $2
		ORDER BY cp.user_id`,
		callID, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("callrepo: query connected participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var pt Participant
		if err := rows.Scan(&pt.SessionID, &pt.UserID, &pt.Language, &pt.Muted, &pt.Connected); err != nil {
			return nil, fmt.Errorf("callrepo: scan participant: %w", err)
		}
		out = append(out, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("callrepo: iterate participants: %w", err)
	}
	return out, nil
}

// UpsertParticipant implements [Repository].
func (p *Postgres) UpsertParticipant(ctx context.Context, pt Participant) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO call_participants (session_id, user_id, language, muted, connected)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, user_id) DO UPDATE
		SET language = EXCLUDED.language,
		    muted = EXCLUDED.muted,
		    connected = EXCLUDED.connected`,
		pt.SessionID, pt.UserID, pt.Language, pt.Muted, pt.Connected)
	if err != nil {
		return fmt.Errorf("callrepo: upsert participant: %w", err)
	}
	return nil
}

// SetConnected implements [Repository].
func (p *Postgres) SetConnected(ctx context.Context, sessionID, userID string, connected bool) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE call_participants SET connected = $3
		WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID, connected)
	if err != nil {
		return fmt.Errorf("callrepo: set connected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMuted implements [Repository].
func (p *Postgres) SetMuted(ctx context.Context, sessionID, userID string, muted bool) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE call_participants SET muted = $3
		WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID, muted)
	if err != nil {
		return fmt.Errorf("callrepo: set muted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EndCall implements [Repository].
func (p *Postgres) EndCall(ctx context.Context, sessionID string) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE calls SET active = FALSE WHERE session_id = $1`,
		sessionID)
	if err != nil {
		return fmt.Errorf("callrepo: end call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTranscript implements [Repository].
func (p *Postgres) SaveTranscript(ctx context.Context, t Transcript) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO call_transcripts
		    (session_id, speaker_id, source_lang, target_lang, text, translation)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.SessionID, t.SpeakerID, t.SourceLang, t.TargetLang, t.Text, t.Translation)
	if err != nil {
		return fmt.Errorf("callrepo: save transcript: %w", err)
	}
	return nil
}
