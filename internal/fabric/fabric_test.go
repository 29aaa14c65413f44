package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxlink-ai/voxlink/internal/bus"
	"github.com/voxlink-ai/voxlink/internal/callrepo"
	"github.com/voxlink-ai/voxlink/internal/ingest"
	"github.com/voxlink-ai/voxlink/internal/orchestrator"
)

type fakeAuth struct {
	tokens map[string]string
}

func (a *fakeAuth) Authenticate(_ context.Context, token string) (string, error) {
	user, ok := a.tokens[token]
	if !ok {
		return "", errors.New("invalid token")
	}
	return user, nil
}

type recordingSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (s *recordingSink) Feed(_, _ string, chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.chunks = append(s.chunks, cp)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

type fixture struct {
	srv    *httptest.Server
	bus    *bus.Memory
	stream *ingest.Memory
	orch   *orchestrator.Orchestrator
	sink   *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	b := bus.NewMemory()
	t.Cleanup(func() { b.Close() })
	stream := ingest.NewMemory()
	t.Cleanup(func() { stream.Close() })

	repo := callrepo.NewMemory()
	repo.CreateCall("s1")
	for _, p := range []callrepo.Participant{
		{SessionID: "s1", UserID: "alice", Language: "en"},
		{SessionID: "s1", UserID: "bob", Language: "de"},
	} {
		if err := repo.UpsertParticipant(context.Background(), p); err != nil {
			t.Fatalf("UpsertParticipant: %v", err)
		}
	}

	orch := orchestrator.New(repo, b, orchestrator.Config{OfflineGrace: 10 * time.Millisecond})
	t.Cleanup(orch.Shutdown)

	sink := &recordingSink{}
	auth := &fakeAuth{tokens: map[string]string{
		"tok-alice": "alice",
		"tok-bob":   "bob",
	}}

	server := NewServer(auth, orch, b, stream, WithAudioSinks(sink))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, bus: b, stream: stream, orch: orch, sink: sink}
}

func (f *fixture) dial(t *testing.T, token, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + f.srv.URL[len("http"):] + "/?token=" + token + "&session_id=" + sessionID
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readJSON(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal %q: %v", data, err)
	}
	return m
}

func writeJSON(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func TestRejectsBadToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + f.srv.URL[len("http"):] + "/?token=bogus&session_id=s1"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		// The handshake may complete before the server closes; either
		// outcome is a rejection.
		return
	}
	_, _, err = c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want policy violation", websocket.CloseStatus(err))
	}
}

func TestRejectsUnknownParticipant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + f.srv.URL[len("http"):] + "/?token=tok-alice&session_id=other-session"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return
	}
	_, _, err = c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Errorf("close status = %v, want policy violation", websocket.CloseStatus(err))
	}
}

func TestControlAcks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.dial(t, "tok-alice", "s1")

	writeJSON(t, c, map[string]any{"type": "heartbeat"})
	if ack := readJSON(t, c); ack["type"] != "heartbeat_ack" {
		t.Errorf("ack = %v, want heartbeat_ack", ack)
	}

	writeJSON(t, c, map[string]any{"type": "ping"})
	if ack := readJSON(t, c); ack["type"] != "pong" {
		t.Errorf("ack = %v, want pong", ack)
	}
}

func TestMuteAckAndBroadcast(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice := f.dial(t, "tok-alice", "s1")
	bob := f.dial(t, "tok-bob", "s1")

	// Drain bob's join notification for alice.
	for {
		ev := readJSON(t, alice)
		if ev["type"] == string(bus.EventParticipantJoined) && ev["user_id"] == "bob" {
			break
		}
	}

	writeJSON(t, alice, map[string]any{"type": "mute", "muted": true})
	// The ack and the broadcast race through the same queue; take either
	// order.
	for {
		ack := readJSON(t, alice)
		if ack["type"] == "mute_ack" {
			if ack["muted"] != true {
				t.Errorf("ack = %v, want muted", ack)
			}
			break
		}
	}

	// Bob sees the broadcast.
	for {
		ev := readJSON(t, bob)
		if ev["type"] == string(bus.EventMuteStatusChanged) {
			if ev["user_id"] != "alice" || ev["muted"] != true {
				t.Errorf("broadcast = %v", ev)
			}
			break
		}
	}
}

func TestBinaryFramesReachIngestAndSinks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.dial(t, "tok-alice", "s1")

	records, err := f.stream.Consume(context.Background())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame := []byte{1, 2, 3, 4}
	if err := c.Write(ctx, websocket.MessageBinary, frame); err != nil {
		t.Fatalf("Write binary: %v", err)
	}

	select {
	case rec := <-records:
		if rec.SessionID != "s1" || rec.SpeakerID != "alice" || rec.SourceLang != "en" {
			t.Errorf("record = %+v", rec)
		}
		if len(rec.Data) != len(frame) {
			t.Errorf("record data = %v", rec.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ingest record")
	}

	waitFor(t, func() bool { return f.sink.count() == 1 })
}

func TestMutedAudioDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.dial(t, "tok-alice", "s1")

	writeJSON(t, c, map[string]any{"type": "mute", "muted": true})
	readJSON(t, c) // mute_ack

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageBinary, []byte{1, 2}); err != nil {
		t.Fatalf("Write binary: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := f.sink.count(); got != 0 {
		t.Errorf("sink frames = %d, want 0 while muted", got)
	}
}

func TestTranslationFiltering(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice := f.dial(t, "tok-alice", "s1")
	bob := f.dial(t, "tok-bob", "s1")

	waitFor(t, func() bool { return f.orch.ConnectedCount("s1") == 2 })

	// Addressed to bob in his language; alice is neither recipient nor
	// language match.
	ev := bus.NewTranslation("s1", "alice", []string{"bob"},
		"hello", "hallo", "en", "de", nil, true, false)
	if err := f.bus.Publish(context.Background(), "s1", ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for {
		got := readJSON(t, bob)
		if got["type"] == string(bus.EventTranslation) {
			if got["translation"] != "hallo" || got["target_lang"] != "de" {
				t.Errorf("event = %v", got)
			}
			break
		}
	}

	// Alice must not see it; a sentinel ping proves the queue position.
	writeJSON(t, alice, map[string]any{"type": "ping"})
	for {
		got := readJSON(t, alice)
		if got["type"] == string(bus.EventTranslation) {
			t.Fatal("translation delivered to non-recipient")
		}
		if got["type"] == "pong" {
			break
		}
	}
}

func TestInterimNotEchoedToSpeaker(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice := f.dial(t, "tok-alice", "s1")
	bob := f.dial(t, "tok-bob", "s1")

	waitFor(t, func() bool { return f.orch.ConnectedCount("s1") == 2 })

	ev := bus.NewInterim("s1", "alice", "hello wor", "en", false, 0.8)
	if err := f.bus.Publish(context.Background(), "s1", ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for {
		got := readJSON(t, bob)
		if got["type"] == string(bus.EventInterimTranscript) {
			if got["text"] != "hello wor" {
				t.Errorf("caption = %v", got)
			}
			break
		}
	}

	writeJSON(t, alice, map[string]any{"type": "ping"})
	for {
		got := readJSON(t, alice)
		if got["type"] == string(bus.EventInterimTranscript) {
			t.Fatal("interim echoed to speaker")
		}
		if got["type"] == "pong" {
			break
		}
	}
}

func TestInviteReachesOnlyTarget(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice := f.dial(t, "tok-alice", bus.LobbySession)
	bob := f.dial(t, "tok-bob", bus.LobbySession)

	waitFor(t, func() bool { return f.orch.ConnectedCount(bus.LobbySession) == 2 })

	writeJSON(t, alice, map[string]any{
		"type": "invite", "target_user_id": "bob", "call_id": "c1",
	})

	for {
		got := readJSON(t, alice)
		if got["type"] == "invite_ack" {
			if got["call_id"] != "c1" {
				t.Errorf("ack = %v", got)
			}
			break
		}
		if got["type"] == string(bus.EventIncomingCall) {
			t.Fatal("invite echoed to sender")
		}
	}

	for {
		got := readJSON(t, bob)
		if got["type"] == string(bus.EventIncomingCall) {
			if got["from_user_id"] != "alice" || got["call_id"] != "c1" {
				t.Errorf("event = %v", got)
			}
			break
		}
	}
}

func TestContactRequestDelivered(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	alice := f.dial(t, "tok-alice", bus.LobbySession)
	bob := f.dial(t, "tok-bob", bus.LobbySession)

	waitFor(t, func() bool { return f.orch.ConnectedCount(bus.LobbySession) == 2 })

	writeJSON(t, alice, map[string]any{
		"type": "contact_request", "target_user_id": "bob",
	})

	for {
		got := readJSON(t, bob)
		if got["type"] == string(bus.EventContactRequest) {
			if got["from_user_id"] != "alice" || got["user_id"] != "bob" {
				t.Errorf("event = %v", got)
			}
			break
		}
	}
}

func TestLeaveDisconnects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.dial(t, "tok-alice", "s1")

	waitFor(t, func() bool { return f.orch.ConnectedCount("s1") == 1 })
	writeJSON(t, c, map[string]any{"type": "leave"})
	waitFor(t, func() bool { return f.orch.ConnectedCount("s1") == 0 })
}
