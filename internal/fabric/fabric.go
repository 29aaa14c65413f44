// Package fabric is the bidirectional connection layer. Each participant
// holds one WebSocket: binary frames carry inbound PCM16 audio at 16 kHz,
// text frames carry the control protocol, and outbound session bus events
// are filtered per participant and serialized through a per-connection
// writer. The reserved lobby session carries presence and contact events
// only.
package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxlink-ai/voxlink/internal/bus"
	"github.com/voxlink-ai/voxlink/internal/ingest"
	"github.com/voxlink-ai/voxlink/internal/orchestrator"
	"github.com/voxlink-ai/voxlink/pkg/langtag"
)

// Authenticator validates the opaque token presented on connect and resolves
// it to a user id. Implementations call the platform's auth service.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID string, err error)
}

// AudioSink receives inbound audio frames from connected speakers. The
// interim manager and the ingestion path both sit behind this.
type AudioSink interface {
	Feed(sessionID, speakerID string, chunk []byte)
}

// StreamEnder retires per-speaker pipeline state when a speaker disconnects.
type StreamEnder interface {
	EndStream(sessionID, speakerID string)
}

// Config holds the fabric knobs. Zero values take defaults.
type Config struct {
	// OutboundQueue is the per-connection event queue depth. A full queue
	// drops events for that connection only.
	OutboundQueue int

	// ReadLimit caps an inbound frame in bytes.
	ReadLimit int64

	// WriteTimeout bounds one outbound write.
	WriteTimeout time.Duration
}

// DefaultConfig returns the production fabric knobs.
func DefaultConfig() Config {
	return Config{
		OutboundQueue: 64,
		ReadLimit:     1 << 20,
		WriteTimeout:  10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = d.OutboundQueue
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
}

// Server accepts participant connections. It implements http.Handler; mount
// it on the ws route.
type Server struct {
	auth    Authenticator
	orch    *orchestrator.Orchestrator
	bus     bus.Bus
	stream  ingest.Stream
	sinks   []AudioSink
	enders  []StreamEnder
	onJoin  func(ctx context.Context, rt *orchestrator.Runtime)
	cfg     Config
	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option is a functional option for a [Server].
type Option func(*Server)

// WithConfig overrides the default knobs.
func WithConfig(cfg Config) Option {
	return func(s *Server) {
		cfg.applyDefaults()
		s.cfg = cfg
	}
}

// WithAudioSinks adds consumers for inbound audio frames beyond the
// ingestion stream.
func WithAudioSinks(sinks ...AudioSink) Option {
	return func(s *Server) { s.sinks = append(s.sinks, sinks...) }
}

// WithStreamEnders adds per-speaker cleanup hooks run on disconnect.
func WithStreamEnders(enders ...StreamEnder) Option {
	return func(s *Server) { s.enders = append(s.enders, enders...) }
}

// WithOnJoin sets a hook run after a call participant registers. The app
// uses it to start the speaker's streaming recognition session.
func WithOnJoin(fn func(ctx context.Context, rt *orchestrator.Runtime)) Option {
	return func(s *Server) { s.onJoin = fn }
}

// NewServer creates a fabric Server.
func NewServer(auth Authenticator, orch *orchestrator.Orchestrator, b bus.Bus, stream ingest.Stream, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		auth:    auth,
		orch:    orch,
		bus:     b,
		stream:  stream,
		cfg:     DefaultConfig(),
		baseCtx: ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("fabric: accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c.SetReadLimit(s.cfg.ReadLimit)

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	token := r.URL.Query().Get("token")
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = bus.LobbySession
	}

	userID, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		slog.Info("fabric: authentication rejected", "remote", r.RemoteAddr, "error", err)
		c.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	connID := uuid.NewString()
	rt, err := s.orch.Register(ctx, connID, sessionID, userID)
	if err != nil {
		slog.Info("fabric: registration rejected",
			"session", sessionID, "user", userID, "error", err)
		reason := "not a session participant"
		if errors.Is(err, orchestrator.ErrSessionFull) {
			reason = "session full"
		}
		c.Close(websocket.StatusPolicyViolation, reason)
		return
	}
	defer s.teardown(rt, connID)

	sub, err := s.bus.Subscribe(ctx, sessionID)
	if err != nil {
		slog.Warn("fabric: subscribe failed", "session", sessionID, "error", err)
		c.Close(websocket.StatusInternalError, "bus unavailable")
		return
	}
	defer sub.Close()

	if s.onJoin != nil && !rt.Lobby {
		s.onJoin(ctx, rt)
	}

	slog.Info("fabric: participant connected",
		"session", sessionID, "user", userID, "conn", connID)

	conn := &connection{
		ws:     c,
		rt:     rt,
		out:    make(chan []byte, s.cfg.OutboundQueue),
		cancel: cancel,
		cfg:    s.cfg,
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		conn.writeLoop(ctx)
	}()
	go func() {
		defer pumps.Done()
		conn.forwardEvents(ctx, sub)
	}()

	s.readLoop(ctx, conn)

	cancel()
	c.Close(websocket.StatusNormalClosure, "")
	pumps.Wait()

	slog.Info("fabric: participant disconnected",
		"session", sessionID, "user", userID, "conn", connID)
}

func (s *Server) teardown(rt *orchestrator.Runtime, connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.orch.OnDisconnect(ctx, connID)
	if !rt.Lobby {
		for _, e := range s.enders {
			e.EndStream(rt.SessionID, rt.UserID)
		}
	}
}

// errLeave signals a client-requested graceful disconnect.
var errLeave = errors.New("fabric: leave requested")

func (s *Server) readLoop(ctx context.Context, conn *connection) {
	for {
		typ, data, err := conn.ws.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageText:
			if err := s.handleControl(ctx, conn, data); err != nil {
				if !errors.Is(err, errLeave) {
					slog.Debug("fabric: control message rejected",
						"user", conn.rt.UserID, "error", err)
					continue
				}
				return
			}
		case websocket.MessageBinary:
			s.handleAudio(ctx, conn, data)
		}
	}
}

// controlMessage is the inbound text protocol envelope.
type controlMessage struct {
	Type         string `json:"type"`
	Muted        bool   `json:"muted"`
	TargetUserID string `json:"target_user_id"`
	CallID       string `json:"call_id"`
}

func (s *Server) handleControl(ctx context.Context, conn *connection, data []byte) error {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode control message: %w", err)
	}

	switch msg.Type {
	case "heartbeat":
		conn.enqueueJSON(map[string]any{"type": "heartbeat_ack"})
	case "ping":
		conn.enqueueJSON(map[string]any{"type": "pong"})
	case "mute":
		if err := s.orch.SetMuted(ctx, conn.rt.SessionID, conn.rt.UserID, msg.Muted); err != nil {
			return err
		}
		conn.enqueueJSON(map[string]any{"type": "mute_ack", "muted": msg.Muted})
	case "invite":
		if msg.TargetUserID == "" || msg.CallID == "" {
			return errors.New("invite requires target_user_id and call_id")
		}
		ev := bus.NewIncomingCall(msg.CallID, conn.rt.UserID, msg.TargetUserID)
		if err := s.bus.Publish(ctx, bus.LobbySession, ev); err != nil {
			return err
		}
		conn.enqueueJSON(map[string]any{"type": "invite_ack", "call_id": msg.CallID})
	case "contact_request":
		if msg.TargetUserID == "" {
			return errors.New("contact_request requires target_user_id")
		}
		ev := bus.NewContactRequest(conn.rt.UserID, msg.TargetUserID)
		if err := s.bus.Publish(ctx, bus.LobbySession, ev); err != nil {
			return err
		}
		conn.enqueueJSON(map[string]any{"type": "contact_request_ack"})
	case "leave":
		return errLeave
	default:
		return fmt.Errorf("unknown control type %q", msg.Type)
	}
	return nil
}

// handleAudio routes one inbound PCM16 frame. Frames from muted or lobby
// participants are discarded.
func (s *Server) handleAudio(ctx context.Context, conn *connection, data []byte) {
	rt := conn.rt
	if rt.Lobby || len(data) == 0 {
		return
	}
	if live := s.orch.Runtime(rt.SessionID, rt.UserID); live == nil || live.Muted {
		return
	}

	if _, err := s.stream.Append(ctx, ingest.Record{
		SessionID:  rt.SessionID,
		SpeakerID:  rt.UserID,
		SourceLang: rt.Language,
		Data:       data,
	}); err != nil {
		slog.Warn("fabric: ingest append failed",
			"session", rt.SessionID, "user", rt.UserID, "error", err)
	}

	for _, sink := range s.sinks {
		sink.Feed(rt.SessionID, rt.UserID, data)
	}
}

// Shutdown stops accepting connections and closes the active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── connection ─────────────────────────────────────────────────────────────

type connection struct {
	ws     *websocket.Conn
	rt     *orchestrator.Runtime
	out    chan []byte
	cancel context.CancelFunc
	cfg    Config
}

// enqueueJSON queues one outbound message, dropping it when the queue is
// full. The writer goroutine is the only writer on the socket.
func (c *connection) enqueueJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("fabric: marshal outbound failed", "user", c.rt.UserID, "error", err)
		return
	}
	select {
	case c.out <- data:
	default:
		slog.Debug("fabric: outbound queue full, dropping",
			"user", c.rt.UserID)
	}
}

func (c *connection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				// A failed write tears the connection down; the event is not
				// retried.
				c.cancel()
				return
			}
		}
	}
}

// forwardEvents filters session bus events for this participant and queues
// the deliverable ones.
func (c *connection) forwardEvents(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				c.cancel()
				return
			}
			if c.deliverable(ev) {
				c.enqueueJSON(ev)
			}
		}
	}
}

// deliverable applies the per-participant event filter: translations go only
// to listed recipients whose language matches, captions go to everyone but
// the speaker, lifecycle events go to all.
func (c *connection) deliverable(ev bus.Event) bool {
	switch ev.Type {
	case bus.EventTranslation:
		if !langtag.Same(c.rt.Language, ev.TargetLang) {
			return false
		}
		for _, r := range ev.Recipients {
			if r == c.rt.UserID {
				return true
			}
		}
		return false
	case bus.EventInterimTranscript, bus.EventInterimClear:
		return ev.SpeakerID != c.rt.UserID
	case bus.EventIncomingCall, bus.EventContactRequest:
		return ev.UserID == c.rt.UserID
	default:
		return true
	}
}
