package parley

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// SSE frame parser
// ============================================================================

func TestSSEParser(t *testing.T) {
	t.Run("event with data", func(t *testing.T) {
		var p sseParser
		feedAll(&p, "event: NEW_MESSAGE", "data: {\"id\":\"m1\"}")
		frame, ok := p.feed("")
		if !ok {
			t.Fatal("expected a dispatched frame")
		}
		if frame.name != "NEW_MESSAGE" {
			t.Errorf("name = %q, want NEW_MESSAGE", frame.name)
		}
		if frame.data != `{"id":"m1"}` {
			t.Errorf("data = %q", frame.data)
		}
	})

	t.Run("multi-line data joined with newline", func(t *testing.T) {
		var p sseParser
		feedAll(&p, "event: RAW", "data: line one", "data: line two")
		frame, ok := p.feed("")
		if !ok {
			t.Fatal("expected a dispatched frame")
		}
		if frame.data != "line one\nline two" {
			t.Errorf("data = %q, want joined lines", frame.data)
		}
	})

	t.Run("comment lines are skipped", func(t *testing.T) {
		var p sseParser
		feedAll(&p, ": keepalive", "data: x")
		frame, ok := p.feed("")
		if !ok {
			t.Fatal("expected a dispatched frame")
		}
		if frame.data != "x" {
			t.Errorf("data = %q, want x", frame.data)
		}
	})

	t.Run("blank line without data dispatches nothing", func(t *testing.T) {
		var p sseParser
		p.feed("event: PING")
		if _, ok := p.feed(""); ok {
			t.Fatal("dispatched a frame with no data")
		}
		// The pending event name must not leak into the next frame.
		p.feed("data: y")
		frame, ok := p.feed("")
		if !ok {
			t.Fatal("expected a dispatched frame")
		}
		if frame.name != "" {
			t.Errorf("name = %q, want empty after reset", frame.name)
		}
	})

	t.Run("carriage returns are trimmed", func(t *testing.T) {
		var p sseParser
		feedAll(&p, "event: E\r", "data: v\r")
		frame, ok := p.feed("\r")
		if !ok {
			t.Fatal("expected a dispatched frame")
		}
		if frame.name != "E" || frame.data != "v" {
			t.Errorf("frame = %+v", frame)
		}
	})

	t.Run("only one leading space is stripped from values", func(t *testing.T) {
		var p sseParser
		p.feed("data:  two spaces")
		frame, ok := p.feed("")
		if !ok {
			t.Fatal("expected a dispatched frame")
		}
		if frame.data != " two spaces" {
			t.Errorf("data = %q, want one space preserved", frame.data)
		}
	})
}

func feedAll(p *sseParser, lines ...string) {
	for _, line := range lines {
		p.feed(line)
	}
}

// ============================================================================
// Stream session
// ============================================================================

// streamFixture is a backend double whose subscribe endpoint replays frames
// pushed through per-chat channels.
type streamFixture struct {
	mu     sync.Mutex
	frames map[string]chan string

	heartbeats atomic.Int32

	// subscribeStarted receives the chat id when its handshake arrives;
	// subscribeGate holds a handshake open until the channel is closed.
	// Both are optional and must be set before the server starts.
	subscribeStarted chan string
	subscribeGate    map[string]chan struct{}
}

func newStreamFixture() *streamFixture {
	return &streamFixture{frames: make(map[string]chan string)}
}

func (f *streamFixture) channel(chatID string) chan string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.frames[chatID]
	if !ok {
		ch = make(chan string, 16)
		f.frames[chatID] = ch
	}
	return ch
}

// push queues one complete SSE frame for chatID.
func (f *streamFixture) push(chatID, event, data string) {
	f.channel(chatID) <- fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

func (f *streamFixture) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		f.heartbeats.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/chats/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/chats/"), "/")
		if len(parts) != 2 || parts[1] != "subscribe" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		chatID := parts[0]

		if f.subscribeStarted != nil {
			f.subscribeStarted <- chatID
		}
		if gate, ok := f.subscribeGate[chatID]; ok {
			<-gate
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()

		ch := f.channel(chatID)
		for {
			select {
			case <-r.Context().Done():
				return
			case frame := <-ch:
				io.WriteString(w, frame)
				flusher.Flush()
			}
		}
	})
	return mux
}

func newStreamClient(t *testing.T, f *streamFixture) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(seededSupplier(), WithBaseURL(srv.URL))
}

// collectEvents gathers delivered events behind a mutex.
type collectEvents struct {
	mu     sync.Mutex
	events []ChatEvent
}

func (c *collectEvents) handler(ev ChatEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collectEvents) snapshot() []ChatEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatEvent(nil), c.events...)
}

func TestStreamSessionDeliversEvents(t *testing.T) {
	fixture := newStreamFixture()
	client := newStreamClient(t, fixture)
	session := NewStreamSession(client)
	defer session.Cleanup()

	var got collectEvents
	if err := session.Subscribe(context.Background(), "c1", got.handler); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	fixture.push("c1", "NEW_MESSAGE", `{"id":"m1","chatId":"c1","content":"hi"}`)
	fixture.push("c1", "ONLINE_USERS", `["u1","u2"]`)

	if !waitFor(t, 2*time.Second, func() bool { return len(got.snapshot()) >= 2 }) {
		t.Fatalf("events = %d, want 2", len(got.snapshot()))
	}

	events := got.snapshot()
	if events[0].Type != EventNewMessage || events[0].ChatID != "c1" {
		t.Errorf("first event = %+v", events[0])
	}
	msg, err := events[0].Message()
	if err != nil {
		t.Fatalf("Message decode: %v", err)
	}
	if msg.Content != "hi" {
		t.Errorf("content = %q, want hi", msg.Content)
	}
	ids, err := events[1].UserIDs()
	if err != nil {
		t.Fatalf("UserIDs decode: %v", err)
	}
	if len(ids) != 2 || ids[0] != "u1" {
		t.Errorf("ids = %v", ids)
	}
}

func TestStreamSessionRawFallback(t *testing.T) {
	fixture := newStreamFixture()
	client := newStreamClient(t, fixture)
	session := NewStreamSession(client)
	defer session.Cleanup()

	var got collectEvents
	if err := session.Subscribe(context.Background(), "c1", got.handler); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	fixture.push("c1", "CONNECTED", "ok")
	if !waitFor(t, 2*time.Second, func() bool { return len(got.snapshot()) >= 1 }) {
		t.Fatal("no event delivered")
	}

	ev := got.snapshot()[0]
	if ev.Data != nil {
		t.Errorf("Data = %s, want nil for non-JSON payload", ev.Data)
	}
	if ev.Raw != "ok" {
		t.Errorf("Raw = %q, want ok", ev.Raw)
	}
}

func TestStreamSessionResubscribeRetiresOldReader(t *testing.T) {
	fixture := newStreamFixture()
	client := newStreamClient(t, fixture)
	session := NewStreamSession(client)
	defer session.Cleanup()

	var got collectEvents
	if err := session.Subscribe(context.Background(), "a", got.handler); err != nil {
		t.Fatalf("Subscribe(a) returned error: %v", err)
	}
	if err := session.Subscribe(context.Background(), "b", got.handler); err != nil {
		t.Fatalf("Subscribe(b) returned error: %v", err)
	}

	// Frames queued for the retired chat must never reach the handler, even
	// if its transport managed to deliver them before the cancel landed.
	fixture.push("a", "NEW_MESSAGE", `{"id":"stale"}`)
	fixture.push("b", "NEW_MESSAGE", `{"id":"live"}`)

	if !waitFor(t, 2*time.Second, func() bool {
		for _, ev := range got.snapshot() {
			if ev.ChatID == "b" {
				return true
			}
		}
		return false
	}) {
		t.Fatal("no event from the live subscription")
	}

	// Settle, then verify nothing from chat a slipped through.
	time.Sleep(100 * time.Millisecond)
	for _, ev := range got.snapshot() {
		if ev.ChatID == "a" {
			t.Fatalf("received event from retired subscription: %+v", ev)
		}
	}
}

func TestStreamSessionLateHandshakeStandsDown(t *testing.T) {
	fixture := newStreamFixture()
	gate := make(chan struct{})
	fixture.subscribeStarted = make(chan string, 2)
	fixture.subscribeGate = map[string]chan struct{}{"a": gate}
	client := newStreamClient(t, fixture)
	session := NewStreamSession(client)
	defer session.Cleanup()

	var got collectEvents
	subDone := make(chan error, 1)
	go func() {
		subDone <- session.Subscribe(context.Background(), "a", got.handler)
	}()

	// Hold a's handshake open, then let b take the session.
	if id := <-fixture.subscribeStarted; id != "a" {
		t.Fatalf("first handshake = %q, want a", id)
	}
	if err := session.Subscribe(context.Background(), "b", got.handler); err != nil {
		t.Fatalf("Subscribe(b) returned error: %v", err)
	}
	if id := <-fixture.subscribeStarted; id != "b" {
		t.Fatalf("second handshake = %q, want b", id)
	}

	// The late handshake must not overwrite b's registration.
	close(gate)
	if err := <-subDone; err != nil {
		t.Fatalf("stale Subscribe returned error: %v", err)
	}

	fixture.push("a", "NEW_MESSAGE", `{"id":"stale","chatId":"a"}`)
	fixture.push("b", "NEW_MESSAGE", `{"id":"live","chatId":"b"}`)

	if !waitFor(t, 2*time.Second, func() bool {
		for _, ev := range got.snapshot() {
			if ev.ChatID == "b" {
				return true
			}
		}
		return false
	}) {
		t.Fatal("the live subscription stopped delivering after the stale handshake landed")
	}

	time.Sleep(100 * time.Millisecond)
	for _, ev := range got.snapshot() {
		if ev.ChatID == "a" {
			t.Fatalf("received event from the superseded subscription: %+v", ev)
		}
	}
}

func TestStreamSessionCleanupIdempotent(t *testing.T) {
	fixture := newStreamFixture()
	client := newStreamClient(t, fixture)
	session := NewStreamSession(client)

	// Cleanup with no subscription is a no-op.
	session.Cleanup()

	if err := session.Subscribe(context.Background(), "c1", func(ChatEvent) {}); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	session.Cleanup()
	session.Cleanup()
}

func TestStreamSessionHeartbeat(t *testing.T) {
	fixture := newStreamFixture()
	client := newStreamClient(t, fixture)
	session := NewStreamSession(client, WithHeartbeatInterval(10*time.Millisecond))

	if err := session.Subscribe(context.Background(), "c1", func(ChatEvent) {}); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return fixture.heartbeats.Load() >= 2 }) {
		t.Fatalf("heartbeats = %d, want >= 2", fixture.heartbeats.Load())
	}

	session.Cleanup()
	// In-flight ticks may still land; the count must stop growing after that.
	time.Sleep(50 * time.Millisecond)
	settled := fixture.heartbeats.Load()
	time.Sleep(100 * time.Millisecond)
	if after := fixture.heartbeats.Load(); after != settled {
		t.Errorf("heartbeats kept firing after Cleanup: %d -> %d", settled, after)
	}
}

func TestStreamSessionSubscribeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(seededSupplier(), WithBaseURL(srv.URL))
	session := NewStreamSession(client)

	err := session.Subscribe(context.Background(), "missing", func(ChatEvent) {})
	reqErr, ok := err.(*RequestError)
	if !ok {
		t.Fatalf("error = %v, want *RequestError", err)
	}
	if reqErr.Status != http.StatusNotFound || reqErr.Resource != "subscribe" {
		t.Errorf("RequestError = %+v", reqErr)
	}
}
