// Package orchestrator owns session and participant lifecycle: who is
// connected where, presence fan-out to the lobby, mute state, and the
// auto-end rule that terminates a call once fewer than the minimum number of
// participants remain connected.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxlink-ai/voxlink/internal/bus"
	"github.com/voxlink-ai/voxlink/internal/callrepo"
	"github.com/voxlink-ai/voxlink/internal/observe"
	"github.com/voxlink-ai/voxlink/pkg/langtag"
)

// ErrParticipantNotFound is returned when a call connection arrives for a
// user with no participant row.
var ErrParticipantNotFound = errors.New("orchestrator: participant not found")

// ErrSessionFull is returned when a call session already holds
// MaxParticipants connected users.
var ErrSessionFull = errors.New("orchestrator: session full")

// ReasonInsufficientParticipants is the call_ended reason for auto-end.
const ReasonInsufficientParticipants = "insufficient_participants"

// Config holds the lifecycle knobs. Zero values take defaults.
type Config struct {
	// MinParticipants is the connected count below which a call auto-ends.
	MinParticipants int

	// MaxParticipants caps a session.
	MaxParticipants int

	// OfflineGrace delays the offline presence event after a disconnect so a
	// quick reconnect stays invisible to contacts.
	OfflineGrace time.Duration

	// DefaultLanguage is assigned to lobby runtimes, which have no
	// participant row to read a language from.
	DefaultLanguage string
}

// DefaultConfig returns the production lifecycle knobs.
func DefaultConfig() Config {
	return Config{
		MinParticipants: 2,
		MaxParticipants: 4,
		OfflineGrace:    5 * time.Second,
		DefaultLanguage: langtag.Default,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MinParticipants <= 0 {
		c.MinParticipants = d.MinParticipants
	}
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = d.MaxParticipants
	}
	if c.OfflineGrace <= 0 {
		c.OfflineGrace = d.OfflineGrace
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = d.DefaultLanguage
	}
}

// Runtime is the live state for one connected participant.
type Runtime struct {
	SessionID string
	UserID    string
	Language  string
	Muted     bool
	ConnID    string
	Lobby     bool
}

// Orchestrator tracks sessions, participant runtimes, and the connection
// reverse index. Safe for concurrent use.
type Orchestrator struct {
	repo callrepo.Repository
	bus  bus.Bus
	cfg  Config

	mu       sync.Mutex
	runtimes map[string]*Runtime // session:user -> runtime
	conns    map[string]string   // conn id -> session:user
	offline  map[string]*time.Timer
	closed   bool
}

// New creates an Orchestrator over the call repository and session bus.
func New(repo callrepo.Repository, b bus.Bus, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		repo:     repo,
		bus:      b,
		cfg:      cfg,
		runtimes: make(map[string]*Runtime),
		conns:    make(map[string]string),
		offline:  make(map[string]*time.Timer),
	}
}

func runtimeKey(sessionID, userID string) string {
	return sessionID + ":" + userID
}

// Register admits a connection into a session. For call sessions the
// participant row must already exist; lobby connections create presence
// only. Returns the participant runtime on success.
func (o *Orchestrator) Register(ctx context.Context, connID, sessionID, userID string) (*Runtime, error) {
	rt := &Runtime{
		SessionID: sessionID,
		UserID:    userID,
		ConnID:    connID,
		Lobby:     sessionID == bus.LobbySession,
	}

	if rt.Lobby {
		rt.Language = o.cfg.DefaultLanguage
	} else {
		lang, err := o.repo.GetParticipantLanguage(ctx, sessionID, userID)
		if errors.Is(err, callrepo.ErrNotFound) {
			return nil, ErrParticipantNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("orchestrator: participant lookup: %w", err)
		}
		rt.Language = lang
		if err := o.repo.SetConnected(ctx, sessionID, userID, true); err != nil {
			return nil, fmt.Errorf("orchestrator: mark connected: %w", err)
		}
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, errors.New("orchestrator: shut down")
	}
	firstInSession := true
	inSession := 0
	for _, existing := range o.runtimes {
		if existing.SessionID == sessionID {
			firstInSession = false
			// A reconnect replaces the user's own runtime and never counts
			// against the cap.
			if existing.UserID != userID {
				inSession++
			}
		}
	}
	if !rt.Lobby && inSession >= o.cfg.MaxParticipants {
		o.mu.Unlock()
		if err := o.repo.SetConnected(ctx, sessionID, userID, false); err != nil {
			slog.Warn("orchestrator: revert connected flag failed",
				"session", sessionID, "user", userID, "error", err)
		}
		return nil, ErrSessionFull
	}
	o.runtimes[runtimeKey(sessionID, userID)] = rt
	o.conns[connID] = runtimeKey(sessionID, userID)
	// A reconnect inside the grace window stays online for contacts.
	if t, ok := o.offline[userID]; ok {
		t.Stop()
		delete(o.offline, userID)
	}
	o.mu.Unlock()

	if !rt.Lobby {
		met := observe.DefaultMetrics()
		met.ActiveParticipants.Add(ctx, 1)
		if firstInSession {
			met.ActiveSessions.Add(ctx, 1)
		}
		o.publish(ctx, sessionID, bus.NewParticipantJoined(sessionID, userID))
	}
	o.publish(ctx, bus.LobbySession, bus.NewUserStatus(userID, true))
	return rt, nil
}

// OnDisconnect tears down a connection's participant state. For call
// sessions the participant is marked disconnected and the call auto-ends
// when fewer than the minimum remain. Presence goes offline after the grace
// period unless the user reconnects first.
func (o *Orchestrator) OnDisconnect(ctx context.Context, connID string) {
	o.mu.Lock()
	key, ok := o.conns[connID]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.conns, connID)
	rt := o.runtimes[key]
	// A newer connection may have replaced this one; leave its runtime alone.
	if rt != nil && rt.ConnID == connID {
		delete(o.runtimes, key)
	} else {
		rt = nil
	}
	o.mu.Unlock()

	if rt == nil {
		return
	}

	if !rt.Lobby {
		observe.DefaultMetrics().ActiveParticipants.Add(ctx, -1)
		if err := o.repo.SetConnected(ctx, rt.SessionID, rt.UserID, false); err != nil {
			slog.Warn("orchestrator: mark disconnected failed",
				"session", rt.SessionID, "user", rt.UserID, "error", err)
		}
		o.publish(ctx, rt.SessionID, bus.NewParticipantLeft(rt.SessionID, rt.UserID))
		o.maybeEndCall(ctx, rt.SessionID)
	}

	o.scheduleOffline(rt.UserID)
}

// SetMuted toggles the participant's mute flag and broadcasts the change.
func (o *Orchestrator) SetMuted(ctx context.Context, sessionID, userID string, muted bool) error {
	o.mu.Lock()
	if rt, ok := o.runtimes[runtimeKey(sessionID, userID)]; ok {
		rt.Muted = muted
	}
	o.mu.Unlock()

	if err := o.repo.SetMuted(ctx, sessionID, userID, muted); err != nil {
		return fmt.Errorf("orchestrator: set muted: %w", err)
	}
	o.publish(ctx, sessionID, bus.NewMuteStatus(sessionID, userID, muted))
	return nil
}

// Runtime returns the live state for a participant, or nil.
func (o *Orchestrator) Runtime(sessionID, userID string) *Runtime {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.runtimes[runtimeKey(sessionID, userID)]
	if !ok {
		return nil
	}
	cp := *rt
	return &cp
}

// ConnectedCount returns the number of tracked call runtimes for a session.
func (o *Orchestrator) ConnectedCount(sessionID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, rt := range o.runtimes {
		if rt.SessionID == sessionID {
			n++
		}
	}
	return n
}

// maybeEndCall ends the session when the connected participant count has
// dropped below the minimum.
func (o *Orchestrator) maybeEndCall(ctx context.Context, sessionID string) {
	call, err := o.repo.GetCallBySessionID(ctx, sessionID)
	if errors.Is(err, callrepo.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Warn("orchestrator: call lookup failed", "session", sessionID, "error", err)
		return
	}
	if !call.Active {
		return
	}

	remaining, err := o.repo.GetConnectedParticipants(ctx, call.ID, "")
	if err != nil {
		slog.Warn("orchestrator: participant count failed", "session", sessionID, "error", err)
		return
	}
	if len(remaining) >= o.cfg.MinParticipants {
		return
	}

	if err := o.repo.EndCall(ctx, sessionID); err != nil {
		slog.Warn("orchestrator: end call failed", "session", sessionID, "error", err)
		return
	}
	observe.DefaultMetrics().ActiveSessions.Add(ctx, -1)
	slog.Info("orchestrator: call ended",
		"session", sessionID, "remaining", len(remaining))
	o.publish(ctx, sessionID, bus.NewCallEnded(sessionID, call.ID, ReasonInsufficientParticipants))
}

// scheduleOffline arms the delayed offline presence event for a user.
func (o *Orchestrator) scheduleOffline(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if t, ok := o.offline[userID]; ok {
		t.Stop()
	}
	o.offline[userID] = time.AfterFunc(o.cfg.OfflineGrace, func() {
		o.mu.Lock()
		delete(o.offline, userID)
		// A reconnect elsewhere keeps the user online.
		for _, rt := range o.runtimes {
			if rt.UserID == userID {
				o.mu.Unlock()
				return
			}
		}
		o.mu.Unlock()
		o.publish(context.Background(), bus.LobbySession, bus.NewUserStatus(userID, false))
	})
}

// Shutdown cancels pending presence timers.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.closed = true
	for userID, t := range o.offline {
		t.Stop()
		delete(o.offline, userID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) publish(ctx context.Context, topic string, ev bus.Event) {
	if err := o.bus.Publish(ctx, topic, ev); err != nil {
		slog.Warn("orchestrator: publish failed", "topic", topic, "type", ev.Type, "error", err)
	}
}
