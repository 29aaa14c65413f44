package callrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process [Repository]. Safe for concurrent use.
type Memory struct {
	mu           sync.Mutex
	calls        map[string]*Call        // session_id -> call
	participants map[string]*Participant // session_id:user_id -> participant
	transcripts  []Transcript
}

var _ Repository = (*Memory)(nil)

// NewMemory creates an empty in-process repository.
func NewMemory() *Memory {
	return &Memory{
		calls:        make(map[string]*Call),
		participants: make(map[string]*Participant),
	}
}

func participantKey(sessionID, userID string) string {
	return sessionID + ":" + userID
}

// CreateCall registers a call for a session. Test and lobby setup hook.
func (m *Memory) CreateCall(sessionID string) *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &Call{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Active:    true,
		StartedAt: time.Now(),
	}
	m.calls[sessionID] = c
	return c
}

// GetTargetLanguages implements [Repository].
func (m *Memory) GetTargetLanguages(_ context.Context, sessionID, speakerID string, includeSpeaker bool) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]string)
	for _, p := range m.participants {
		if p.SessionID != sessionID || !p.Connected {
			continue
		}
		if p.UserID == speakerID && !includeSpeaker {
			continue
		}
		out[p.Language] = append(out[p.Language], p.UserID)
	}
	for lang := range out {
		sort.Strings(out[lang])
	}
	return out, nil
}

// GetParticipantLanguage implements [Repository].
func (m *Memory) GetParticipantLanguage(_ context.Context, sessionID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantKey(sessionID, userID)]
	if !ok {
		return "", ErrNotFound
	}
	return p.Language, nil
}

// GetCallBySessionID implements [Repository].
func (m *Memory) GetCallBySessionID(_ context.Context, sessionID string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetConnectedParticipants implements [Repository].
func (m *Memory) GetConnectedParticipants(_ context.Context, callID, excludeUserID string) ([]Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sessionID string
	for _, c := range m.calls {
		if c.ID == callID {
			sessionID = c.SessionID
			break
		}
	}
	if sessionID == "" {
		return nil, ErrNotFound
	}

	var out []Participant
	for _, p := range m.participants {
		if p.SessionID != sessionID || !p.Connected || p.UserID == excludeUserID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// UpsertParticipant implements [Repository].
func (m *Memory) UpsertParticipant(_ context.Context, p Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.participants[participantKey(p.SessionID, p.UserID)] = &cp
	return nil
}

// SetConnected implements [Repository].
func (m *Memory) SetConnected(_ context.Context, sessionID, userID string, connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantKey(sessionID, userID)]
	if !ok {
		return ErrNotFound
	}
	p.Connected = connected
	return nil
}

// SetMuted implements [Repository].
func (m *Memory) SetMuted(_ context.Context, sessionID, userID string, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantKey(sessionID, userID)]
	if !ok {
		return ErrNotFound
	}
	p.Muted = muted
	return nil
}

// EndCall implements [Repository].
func (m *Memory) EndCall(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[sessionID]
	if !ok {
		return ErrNotFound
	}
	c.Active = false
	return nil
}

// SaveTranscript implements [Repository].
func (m *Memory) SaveTranscript(_ context.Context, t Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.transcripts = append(m.transcripts, t)
	return nil
}

// Transcripts returns a copy of the saved transcripts. Test hook.
func (m *Memory) Transcripts() []Transcript {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transcript, len(m.transcripts))
	copy(out, m.transcripts)
	return out
}
