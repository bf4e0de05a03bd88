package parley

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNotAuthenticated is returned when no usable session token exists.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrInvalidGrant is returned when the refresh credential itself is
	// rejected. The supplier has already signed the session out by the time
	// a caller sees this.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrEmptyMessage rejects a send whose content is empty or whitespace
	// before any network call is made.
	ErrEmptyMessage = errors.New("empty message content")

	// ErrNoChatSelected is returned by Send on a view with no open chat.
	ErrNoChatSelected = errors.New("no chat selected")
)

// RequestError is a non-2xx response from the backend.
type RequestError struct {
	Status   int
	Resource string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s request failed: HTTP %d", e.Resource, e.Status)
}

// ThreadStepError reports which step of the thread lazy-creation sequence
// failed. The sequence has no rollback: a chat-create success followed by a
// parent-update failure leaves an orphaned thread chat behind.
type ThreadStepError struct {
	Step string // "create_chat", "update_parent", "send_message"
	Err  error
}

func (e *ThreadStepError) Error() string {
	return fmt.Sprintf("thread %s: %v", e.Step, e.Err)
}

func (e *ThreadStepError) Unwrap() error { return e.Err }

// ============================================================================
// Domain Types
// ============================================================================

// ChatType tags the kind of conversation container.
type ChatType string

const (
	ChatDirect  ChatType = "DIRECT"
	ChatChannel ChatType = "CHANNEL"
	ChatThread  ChatType = "THREAD"
	ChatAI      ChatType = "AI"
)

// Chat is a named conversation container. Type is immutable after creation
// (domain assumption, not enforced here).
type Chat struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Type          ChatType  `json:"type"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// Attachment is an opaque storage key + filename pair. Content is fetched
// out-of-band via Messages.DownloadAttachment.
type Attachment struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
}

// Message belongs to exactly one chat. ThreadID is set by the one in-place
// update that links a replied-to message to its lazily created THREAD chat.
type Message struct {
	ID          string       `json:"id"`
	ChatID      string       `json:"chatId"`
	SenderID    string       `json:"senderId"`
	Content     string       `json:"content"`
	SentAt      time.Time    `json:"sentAt"`
	ThreadID    string       `json:"threadId,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ChatMember joins a chat and a user with per-membership flags and the
// member's read cursor.
type ChatMember struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	JoinedAt  time.Time `json:"joinedAt"`
	LastRead  time.Time `json:"lastRead"`
	IsMuted   bool      `json:"isMuted"`
	IsBlocked bool      `json:"isBlocked"`
}

// User is a profile plus presence. IsOnline is owned by the UserCache once
// streaming presence events arrive.
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	AvatarURL  string    `json:"avatarUrl"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
	IsOnline   bool      `json:"isOnline"`
}

// ============================================================================
// Pagination
// ============================================================================

// Sort describes the ordering applied by the backend to a page.
type Sort struct {
	Sorted   bool `json:"sorted"`
	Unsorted bool `json:"unsorted"`
	Empty    bool `json:"empty"`
}

// Pageable is the page request echoed back by the backend.
type Pageable struct {
	PageNumber int  `json:"pageNumber"`
	PageSize   int  `json:"pageSize"`
	Sort       Sort `json:"sort"`
}

// Page is one page of a listing. The shape is preserved end-to-end so a
// caller can request further pages; the ChatView only consumes the first.
type Page[T any] struct {
	Content          []T      `json:"content"`
	Pageable         Pageable `json:"pageable"`
	Last             bool     `json:"last"`
	TotalElements    int      `json:"totalElements"`
	TotalPages       int      `json:"totalPages"`
	Size             int      `json:"size"`
	Number           int      `json:"number"`
	First            bool     `json:"first"`
	NumberOfElements int      `json:"numberOfElements"`
	Empty            bool     `json:"empty"`
}

// ============================================================================
// Search
// ============================================================================

// SearchType selects a search domain.
type SearchType string

const (
	SearchMessages SearchType = "MESSAGE"
	SearchFiles    SearchType = "FILE"
	SearchUsers    SearchType = "USER"
	SearchAI       SearchType = "AI"
)

// SearchQuery is the wire form of a search request.
type SearchQuery struct {
	QueryString string       `json:"queryString"`
	SearchTypes []SearchType `json:"searchTypes"`
}

// MessageHit is a message match with its sender resolved.
type MessageHit struct {
	Message Message `json:"message"`
	Sender  User    `json:"user"`
}

// SearchResults is the tagged result set, discriminated by kind.
type SearchResults struct {
	Messages []MessageHit `json:"messages"`
	Users    []User       `json:"users"`
}
