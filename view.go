package parley

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

func trimContent(s string) string { return strings.TrimSpace(s) }

// ============================================================================
// Chat View Controller
// ============================================================================

// ViewState is the lifecycle of one chat selection.
type ViewState string

const (
	ViewIdle    ViewState = "idle"
	ViewLoading ViewState = "loading"
	ViewReady   ViewState = "ready"
	ViewError   ViewState = "error"
)

// ChatView keeps one chat's state consistent across the initial REST fetch,
// the live event stream, and chat switches. At most one live stream session
// backs a view; opening a different chat fully retires the previous one.
//
// All methods are safe for concurrent use. Async continuations (fetches,
// stream events) re-check the view epoch after every suspension, so state
// from a retired selection is never applied.
type ChatView struct {
	client  *Client
	cache   *UserCache
	session *StreamSession
	logger  *slog.Logger

	// onParentUpdate observes the parent message after thread lazy creation
	// links it, letting the enclosing chat view refresh its copy.
	onParentUpdate func(Message)

	mu           sync.Mutex
	epoch        uint64
	state        ViewState
	err          error
	chat         Chat
	threadParent *Message
	messages     []Message
	seen         map[string]bool
}

// ViewOption configures a ChatView.
type ViewOption func(*ChatView)

// WithParentUpdate registers a callback invoked when thread lazy creation
// updates the parent message's thread link.
func WithParentUpdate(fn func(Message)) ViewOption {
	return func(v *ChatView) { v.onParentUpdate = fn }
}

// NewChatView creates an idle view.
func NewChatView(client *Client, cache *UserCache, opts ...ViewOption) *ChatView {
	v := &ChatView{
		client:  client,
		cache:   cache,
		session: NewStreamSession(client),
		logger:  client.logger,
		state:   ViewIdle,
		seen:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// begin retires the previous selection and starts a new epoch.
func (v *ChatView) begin() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.epoch++
	v.state = ViewLoading
	v.err = nil
	v.chat = Chat{}
	v.threadParent = nil
	v.messages = nil
	v.seen = make(map[string]bool)
	return v.epoch
}

// currentEpoch reports whether ep is still the live selection.
func (v *ChatView) currentEpoch(ep uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.epoch == ep
}

// Open loads chatID and subscribes to its event stream. A previous selection
// is fully retired first.
func (v *ChatView) Open(ctx context.Context, chatID string) error {
	ep := v.begin()
	v.session.Cleanup()
	return v.load(ctx, ep, chatID)
}

// OpenThread opens a thread view for parent. A parent with no thread chat
// yet yields an immediately Ready, sendable view with no fetching; the
// backing chat is created lazily by the first Send.
func (v *ChatView) OpenThread(ctx context.Context, parent Message) error {
	ep := v.begin()
	v.session.Cleanup()

	v.mu.Lock()
	p := parent
	v.threadParent = &p
	v.mu.Unlock()

	if parent.ThreadID == "" {
		v.mu.Lock()
		if v.epoch == ep {
			v.chat = Chat{Type: ChatThread}
			v.state = ViewReady
		}
		v.mu.Unlock()
		return nil
	}
	return v.load(ctx, ep, parent.ThreadID)
}

// load fetches chat + first message page concurrently, resolves sender
// profiles, applies state, and subscribes the stream.
func (v *ChatView) load(ctx context.Context, ep uint64, chatID string) error {
	var (
		chat Chat
		page Page[Message]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chat, err = v.client.Chats.Get(gctx, chatID)
		return err
	})
	g.Go(func() error {
		var err error
		page, err = v.client.Messages.ListByChat(gctx, chatID)
		return err
	})
	if err := g.Wait(); err != nil {
		v.fail(ep, err)
		return err
	}

	messages := append([]Message(nil), page.Content...)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt.Before(messages[j].SentAt)
	})

	v.resolveSenders(ctx, messages)

	v.mu.Lock()
	if v.epoch != ep {
		v.mu.Unlock()
		return nil
	}
	v.chat = chat
	v.messages = messages
	for _, m := range messages {
		v.seen[m.ID] = true
	}
	v.state = ViewReady
	v.mu.Unlock()

	// A selection retired during the fetches must not subscribe at all; its
	// Subscribe would tear down the successor's live stream.
	if !v.currentEpoch(ep) {
		return nil
	}
	if err := v.session.Subscribe(ctx, chatID, func(ev ChatEvent) {
		v.handleEvent(ctx, ep, ev)
	}); err != nil {
		// The REST state is already usable; a failed subscription only
		// costs live updates.
		v.logger.Warn("event stream subscribe failed", "chatId", chatID, "error", err)
	}
	return nil
}

// resolveSenders warms the user cache for each distinct sender. A failed
// profile fetch degrades the display, not the view.
func (v *ChatView) resolveSenders(ctx context.Context, messages []Message) {
	distinct := make(map[string]bool)
	for _, m := range messages {
		distinct[m.SenderID] = true
	}
	for id := range distinct {
		if _, err := v.cache.FetchUser(ctx, id); err != nil {
			v.logger.Warn("sender profile fetch failed", "userId", id, "error", err)
		}
	}
}

func (v *ChatView) fail(ep uint64, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.epoch != ep {
		return
	}
	v.state = ViewError
	v.err = err
}

// handleEvent merges one stream event into view state. Stale epochs are
// dropped.
func (v *ChatView) handleEvent(ctx context.Context, ep uint64, ev ChatEvent) {
	if !v.currentEpoch(ep) {
		return
	}

	switch ev.Type {
	case EventNewMessage:
		msg, err := ev.Message()
		if err != nil {
			v.logger.Warn("undecodable message event", "chatId", ev.ChatID, "error", err)
			return
		}
		if v.appendIfAbsent(ep, msg) {
			if _, err := v.cache.FetchUser(ctx, msg.SenderID); err != nil {
				v.logger.Warn("sender profile fetch failed", "userId", msg.SenderID, "error", err)
			}
		}
	case EventOnlineUsers, EventPresenceUpdate:
		ids, err := ev.UserIDs()
		if err != nil {
			v.logger.Warn("undecodable presence event", "type", ev.Type, "error", err)
			return
		}
		v.cache.ApplyPresence(ids)
	case EventConnected, EventHeartbeat:
		// Stream bookkeeping, no view state.
	default:
		v.logger.Debug("unhandled event", "type", ev.Type)
	}
}

// appendIfAbsent appends msg unless a message with the same id was already
// merged; the send response and its stream echo must not both land.
// Streamed messages are appended, not re-sorted against the list.
func (v *ChatView) appendIfAbsent(ep uint64, msg Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.epoch != ep {
		return false
	}
	if v.seen[msg.ID] {
		return false
	}
	v.seen[msg.ID] = true
	v.messages = append(v.messages, msg)
	return true
}

// Send posts content to the open chat and merges the stored message. Blank
// content is rejected before any network call. On a thread view with no
// backing chat yet, the thread chat is created lazily first.
func (v *ChatView) Send(ctx context.Context, content string) (Message, error) {
	if isBlank(content) {
		return Message{}, ErrEmptyMessage
	}

	v.mu.Lock()
	ep := v.epoch
	chatID := v.chat.ID
	parent := v.threadParent
	v.mu.Unlock()

	if chatID == "" && parent != nil {
		return v.sendFirstThreadReply(ctx, ep, *parent, content)
	}
	if chatID == "" {
		return Message{}, ErrNoChatSelected
	}

	msg, err := v.client.Messages.Send(ctx, chatID, trimContent(content))
	if err != nil {
		return Message{}, err
	}
	v.appendIfAbsent(ep, msg)
	return msg, nil
}

// SendThreadReply posts content as a reply under parent. A parent with no
// thread chat yet triggers the lazy-creation sequence first. Meant to be
// called on the thread view opened for parent; the reply merges into the
// view only when its backing chat matches.
func (v *ChatView) SendThreadReply(ctx context.Context, parent Message, content string) (Message, error) {
	if isBlank(content) {
		return Message{}, ErrEmptyMessage
	}

	v.mu.Lock()
	ep := v.epoch
	v.mu.Unlock()

	if parent.ThreadID == "" {
		return v.sendFirstThreadReply(ctx, ep, parent, content)
	}

	msg, err := v.client.Messages.Send(ctx, parent.ThreadID, trimContent(content))
	if err != nil {
		return Message{}, err
	}
	v.mu.Lock()
	merge := v.chat.ID == parent.ThreadID
	v.mu.Unlock()
	if merge {
		v.appendIfAbsent(ep, msg)
	}
	return msg, nil
}

// sendFirstThreadReply runs the thread lazy-creation sequence: create the
// THREAD chat, link the parent message to it, then send the reply into it.
// There is no rollback: a failure after the first step leaves an orphaned
// thread chat and an unlinked parent.
func (v *ChatView) sendFirstThreadReply(ctx context.Context, ep uint64, parent Message, content string) (Message, error) {
	threadChat, err := v.client.Chats.Create(ctx, Chat{
		Name: "Thread",
		Type: ChatThread,
	})
	if err != nil {
		return Message{}, &ThreadStepError{Step: "create_chat", Err: err}
	}

	parent.ThreadID = threadChat.ID
	updated, err := v.client.Messages.Update(ctx, parent.ID, parent)
	if err != nil {
		return Message{}, &ThreadStepError{Step: "update_parent", Err: err}
	}

	v.mu.Lock()
	if v.epoch == ep {
		v.chat = threadChat
		p := updated
		v.threadParent = &p
	}
	v.mu.Unlock()
	if v.onParentUpdate != nil {
		v.onParentUpdate(updated)
	}

	msg, err := v.client.Messages.Send(ctx, threadChat.ID, trimContent(content))
	if err != nil {
		return Message{}, &ThreadStepError{Step: "send_message", Err: err}
	}
	v.appendIfAbsent(ep, msg)
	return msg, nil
}

// Close retires the selection. The epoch advances before the session is
// torn down, so no in-flight continuation can apply state afterwards.
func (v *ChatView) Close() {
	v.mu.Lock()
	v.epoch++
	v.state = ViewIdle
	v.mu.Unlock()
	v.session.Cleanup()
}

// ============================================================================
// Accessors
// ============================================================================

// State returns the view lifecycle state.
func (v *ChatView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Err returns the failure that put the view into ViewError.
func (v *ChatView) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Chat returns the open chat.
func (v *ChatView) Chat() Chat {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.chat
}

// ThreadParent returns the parent message of a thread view.
func (v *ChatView) ThreadParent() (Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.threadParent == nil {
		return Message{}, false
	}
	return *v.threadParent, true
}

// Messages returns a copy of the merged message list, initial page sorted by
// SentAt ascending with streamed messages appended in arrival order.
func (v *ChatView) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Message(nil), v.messages...)
}
