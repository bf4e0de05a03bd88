// Package parley is a Go client for the Parley chat backend.
//
// It covers the REST resources (chats, messages, members, users, search) and
// the per-chat server-sent event stream, with sub-client access:
//
//	supplier := parley.NewTokenSupplier(provider)
//	client := parley.NewClient(supplier)
//
//	chats, _ := client.Chats.List(ctx)
//	page, _ := client.Messages.ListByChat(ctx, chats[0].ID)
//	client.Messages.Send(ctx, chats[0].ID, "hello")
//
//	view := parley.NewChatView(client, cache)
//	view.Open(ctx, chats[0].ID)
//	defer view.Close()
package parley

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL matches the backend's development default.
	DefaultBaseURL = "http://localhost:8080/api"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the typed resource client. All calls obtain auth headers from the
// TokenSupplier and surface non-2xx responses as *RequestError.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenSupplier
	logger     *slog.Logger
	limiter    *rate.Limiter

	Chats    *ChatsClient
	Messages *MessagesClient
	Members  *MembersClient
	Users    *UsersClient
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the backend base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithTimeout sets the HTTP client timeout for REST calls. The stream
// connection uses its own unbounded client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger overrides the client's logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithRateLimit applies a client-side request rate limit across all calls.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithRequestLogging wraps the transport so every request logs method, URL,
// status and duration under a generated request id.
func WithRequestLogging() ClientOption {
	return func(c *Client) {
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.httpClient.Transport = &loggingTransport{base: base, logger: c.logger}
	}
}

// NewClient creates a client backed by the given token supplier.
func NewClient(tokens *TokenSupplier, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		tokens:  tokens,
		logger:  slog.Default(),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Chats = &ChatsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	c.Members = &MembersClient{c: c}
	c.Users = &UsersClient{c: c}
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helper
// ============================================================================

// authHeader resolves the bearer token. Fails fast with ErrNotAuthenticated
// when no session exists.
func (c *Client) authHeader(ctx context.Context) (string, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + tok, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	auth, err := c.authHeader(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{Status: resp.StatusCode, Resource: resourceName(path)}
	}
	return data, nil
}

// resourceName extracts the leading resource segment for error reporting.
func resourceName(path string) string {
	p := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return p
}

func decodeJSON[T any](data []byte) (T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result, nil
}

// ============================================================================
// Chats
// ============================================================================

// ChatsClient handles the chat resource.
type ChatsClient struct{ c *Client }

// List returns the caller's chats.
func (ch *ChatsClient) List(ctx context.Context) ([]Chat, error) {
	data, err := ch.c.doRequest(ctx, http.MethodGet, "/chats", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]Chat](data)
}

// Create creates a chat. The server assigns the id.
func (ch *ChatsClient) Create(ctx context.Context, chat Chat) (Chat, error) {
	data, err := ch.c.doRequest(ctx, http.MethodPost, "/chats", chat)
	if err != nil {
		return Chat{}, err
	}
	return decodeJSON[Chat](data)
}

// Get fetches one chat by id.
func (ch *ChatsClient) Get(ctx context.Context, chatID string) (Chat, error) {
	data, err := ch.c.doRequest(ctx, http.MethodGet, "/chats/"+chatID, nil)
	if err != nil {
		return Chat{}, err
	}
	return decodeJSON[Chat](data)
}

// Update replaces a chat's mutable fields.
func (ch *ChatsClient) Update(ctx context.Context, chatID string, chat Chat) (Chat, error) {
	data, err := ch.c.doRequest(ctx, http.MethodPut, "/chats/"+chatID, chat)
	if err != nil {
		return Chat{}, err
	}
	return decodeJSON[Chat](data)
}

// OtherUser resolves the other participant of a DIRECT chat.
func (ch *ChatsClient) OtherUser(ctx context.Context, chatID string) (User, error) {
	data, err := ch.c.doRequest(ctx, http.MethodGet, "/chats/"+chatID+"/otheruser", nil)
	if err != nil {
		return User{}, err
	}
	return decodeJSON[User](data)
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles the message resource. Attachment operations live in
// attachments.go.
type MessagesClient struct{ c *Client }

// ListByChat returns the first page of a chat's messages.
func (m *MessagesClient) ListByChat(ctx context.Context, chatID string) (Page[Message], error) {
	data, err := m.c.doRequest(ctx, http.MethodGet, "/messages/chat/"+chatID, nil)
	if err != nil {
		return Page[Message]{}, err
	}
	return decodeJSON[Page[Message]](data)
}

// Send posts a new message to a chat and returns the stored message.
func (m *MessagesClient) Send(ctx context.Context, chatID, content string) (Message, error) {
	payload := map[string]any{
		"chatId":  chatID,
		"content": content,
		"sentAt":  time.Now().UTC(),
	}
	data, err := m.c.doRequest(ctx, http.MethodPost, "/messages", payload)
	if err != nil {
		return Message{}, err
	}
	return decodeJSON[Message](data)
}

// Update replaces a message in place. The only supported in-place mutation is
// setting ThreadID.
func (m *MessagesClient) Update(ctx context.Context, messageID string, msg Message) (Message, error) {
	data, err := m.c.doRequest(ctx, http.MethodPut, "/messages/"+messageID, msg)
	if err != nil {
		return Message{}, err
	}
	return decodeJSON[Message](data)
}

// ============================================================================
// Members
// ============================================================================

// MembersClient handles chat memberships.
type MembersClient struct{ c *Client }

// Add joins a user into a chat with fresh cursors and default flags.
func (mb *MembersClient) Add(ctx context.Context, chatID, userID string) (ChatMember, error) {
	now := time.Now().UTC()
	payload := map[string]any{
		"chatId":    chatID,
		"userId":    userID,
		"joinedAt":  now,
		"lastRead":  now,
		"isMuted":   false,
		"isBlocked": false,
	}
	data, err := mb.c.doRequest(ctx, http.MethodPost, "/chat_members", payload)
	if err != nil {
		return ChatMember{}, err
	}
	return decodeJSON[ChatMember](data)
}

// ListMine returns the caller's memberships.
func (mb *MembersClient) ListMine(ctx context.Context) ([]ChatMember, error) {
	data, err := mb.c.doRequest(ctx, http.MethodGet, "/chat_members", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]ChatMember](data)
}

// ============================================================================
// Users
// ============================================================================

// UsersClient handles the user resource and presence endpoints.
type UsersClient struct{ c *Client }

// Me returns the authenticated user's profile.
func (u *UsersClient) Me(ctx context.Context) (User, error) {
	data, err := u.c.doRequest(ctx, http.MethodGet, "/users/me", nil)
	if err != nil {
		return User{}, err
	}
	return decodeJSON[User](data)
}

// Get fetches one profile by id.
func (u *UsersClient) Get(ctx context.Context, userID string) (User, error) {
	data, err := u.c.doRequest(ctx, http.MethodGet, "/users/"+userID, nil)
	if err != nil {
		return User{}, err
	}
	return decodeJSON[User](data)
}

// Online returns the ids of currently online users.
func (u *UsersClient) Online(ctx context.Context) ([]string, error) {
	data, err := u.c.doRequest(ctx, http.MethodGet, "/users/online", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]string](data)
}

// Heartbeat posts a liveness signal.
func (u *UsersClient) Heartbeat(ctx context.Context) error {
	_, err := u.c.doRequest(ctx, http.MethodPost, "/users/heartbeat", nil)
	return err
}
