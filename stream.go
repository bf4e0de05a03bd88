package parley

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Domain Events
// ============================================================================

// EventType is the frame's event-name, mapped onto the domain event union.
type EventType string

const (
	EventNewMessage     EventType = "NEW_MESSAGE"
	EventOnlineUsers    EventType = "ONLINE_USERS"
	EventPresenceUpdate EventType = "PRESENCE_UPDATE"
	EventConnected      EventType = "CONNECTED"
	EventHeartbeat      EventType = "HEARTBEAT"
)

// ChatEvent is one decoded frame from a chat's event stream. Data holds the
// payload when it parsed as JSON; Raw holds the payload text otherwise.
type ChatEvent struct {
	ChatID string
	Type   EventType
	Data   json.RawMessage
	Raw    string
}

// Decode unmarshals the JSON payload into v.
func (e ChatEvent) Decode(v any) error {
	if e.Data == nil {
		return errors.New("event payload is not JSON")
	}
	return json.Unmarshal(e.Data, v)
}

// Message decodes a NEW_MESSAGE payload.
func (e ChatEvent) Message() (Message, error) {
	var m Message
	err := e.Decode(&m)
	return m, err
}

// UserIDs decodes an ONLINE_USERS or PRESENCE_UPDATE payload.
func (e ChatEvent) UserIDs() ([]string, error) {
	var ids []string
	err := e.Decode(&ids)
	return ids, err
}

// EventHandler receives decoded frames synchronously, in arrival order.
type EventHandler func(ChatEvent)

// ============================================================================
// SSE frame parser
// ============================================================================

// sseFrame is one fully assembled server-sent event.
type sseFrame struct {
	name string
	data string
}

// sseParser assembles frames line by line. Comment lines and fields other
// than event/data are skipped; a blank line dispatches the pending frame.
type sseParser struct {
	name      string
	dataLines []string
}

// feed consumes one line (without its terminator) and returns a completed
// frame when the line closed one.
func (p *sseParser) feed(line string) (sseFrame, bool) {
	line = strings.TrimSuffix(line, "\r")

	if line == "" {
		if len(p.dataLines) == 0 {
			p.name = ""
			return sseFrame{}, false
		}
		frame := sseFrame{name: p.name, data: strings.Join(p.dataLines, "\n")}
		p.name = ""
		p.dataLines = nil
		return frame, true
	}
	if strings.HasPrefix(line, ":") {
		return sseFrame{}, false
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "event":
		p.name = value
	case "data":
		p.dataLines = append(p.dataLines, value)
	}
	return sseFrame{}, false
}

// ============================================================================
// Stream Session
// ============================================================================

// defaultHeartbeatInterval is the presence heartbeat cadence while streaming.
const defaultHeartbeatInterval = 30 * time.Second

// StreamSession owns at most one live event-stream connection. Subscribe
// retires the previous connection before opening a new one; Cleanup is
// idempotent. Transport failures never reach the subscriber callback; the
// stream ends silently and the caller may re-subscribe.
type StreamSession struct {
	client            *Client
	logger            *slog.Logger
	heartbeatInterval time.Duration

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
}

// StreamOption configures a StreamSession.
type StreamOption func(*StreamSession)

// WithHeartbeatInterval overrides the presence heartbeat cadence.
func WithHeartbeatInterval(d time.Duration) StreamOption {
	return func(s *StreamSession) { s.heartbeatInterval = d }
}

// WithStreamLogger overrides the session's logger.
func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(s *StreamSession) { s.logger = l }
}

// NewStreamSession creates an idle session bound to the given client.
func NewStreamSession(client *Client, opts ...StreamOption) *StreamSession {
	s := &StreamSession{
		client:            client,
		logger:            client.logger,
		heartbeatInterval: defaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// current reports whether gen is still the live reader generation.
func (s *StreamSession) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

// Subscribe opens the event stream for chatID and delivers decoded frames to
// onEvent until Cleanup or transport failure. Any previous subscription is
// fully retired first, so no two readers ever deliver concurrently.
func (s *StreamSession) Subscribe(ctx context.Context, chatID string, onEvent EventHandler) error {
	s.Cleanup()

	// Reserve the reader generation before any suspension. A competing
	// Subscribe advances it, and this call then stands down after its
	// handshake instead of overwriting the newer registration.
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	auth, err := s.client.authHeader(ctx)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet,
		s.client.baseURL+"/chats/"+chatID+"/subscribe", nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", auth)

	// No per-request timeout here: the stream is long-lived.
	transport := http.DefaultTransport
	if s.client.httpClient.Transport != nil {
		transport = s.client.httpClient.Transport
	}
	resp, err := (&http.Client{Transport: transport}).Do(req)
	if err != nil {
		cancel()
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return &RequestError{Status: resp.StatusCode, Resource: "subscribe"}
	}

	s.mu.Lock()
	if s.generation != gen {
		// A newer Subscribe won the session while this handshake was in
		// flight; discard the connection without touching its registration.
		s.mu.Unlock()
		resp.Body.Close()
		cancel()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	go s.readLoop(streamCtx, gen, chatID, resp, onEvent)
	go s.heartbeatLoop(streamCtx)
	return nil
}

// Cleanup retires the live subscription: invalidates the reader generation,
// cancels the pending read, aborts the transport request, and stops the
// heartbeat. Safe to call repeatedly; extra calls do nothing.
func (s *StreamSession) Cleanup() {
	s.mu.Lock()
	s.generation++
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// cleanupAfter tears the session down only if gen is still live. A stale
// reader observing its own death must not kill a successor subscription.
func (s *StreamSession) cleanupAfter(gen uint64) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.generation++
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *StreamSession) readLoop(ctx context.Context, gen uint64, chatID string, resp *http.Response, onEvent EventHandler) {
	defer resp.Body.Close()
	defer s.cleanupAfter(gen)

	var parser sseParser
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		// Re-check after every suspension: a newer subscription must not
		// receive this reader's frames.
		if !s.current(gen) {
			return
		}

		frame, ok := parser.feed(scanner.Text())
		if !ok {
			continue
		}

		event := ChatEvent{ChatID: chatID, Type: EventType(frame.name)}
		if json.Valid([]byte(frame.data)) {
			event.Data = json.RawMessage(frame.data)
		} else {
			event.Raw = frame.data
		}

		if !s.current(gen) {
			return
		}
		onEvent(event)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		if s.current(gen) {
			s.logger.Error("event stream read failed", "chatId", chatID, "error", err)
		}
	}
}

// heartbeatLoop posts the liveness signal on a fixed cadence while the
// session streams. Failures are logged and ignored; the stream stays up.
func (s *StreamSession) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.client.Users.Heartbeat(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Warn("presence heartbeat failed", "error", err)
			}
		}
	}
}
