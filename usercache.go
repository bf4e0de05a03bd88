package parley

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// UserCache memoizes user profiles and their online flags for the lifetime
// of a session. It is the single writer of the cached IsOnline field once
// presence events start arriving. Safe for concurrent use.
type UserCache struct {
	client *Client
	logger *slog.Logger

	mu          sync.RWMutex
	users       map[string]User
	currentUser *User
	initialized bool

	fetch singleflight.Group
}

// NewUserCache creates an empty cache backed by the given client.
func NewUserCache(client *Client) *UserCache {
	return &UserCache{
		client: client,
		logger: client.logger,
		users:  make(map[string]User),
	}
}

// Initialize loads the current user and the initial online snapshot. Repeat
// calls are no-ops; a failed snapshot still marks the cache initialized so a
// broken presence endpoint cannot wedge login.
func (uc *UserCache) Initialize(ctx context.Context) error {
	uc.mu.Lock()
	if uc.initialized {
		uc.mu.Unlock()
		return nil
	}
	uc.initialized = true
	uc.mu.Unlock()

	me, err := uc.client.Users.Me(ctx)
	if err != nil {
		return err
	}
	uc.mu.Lock()
	uc.currentUser = &me
	uc.users[me.ID] = me
	uc.mu.Unlock()

	online, err := uc.client.Users.Online(ctx)
	if err != nil {
		uc.logger.Warn("online snapshot failed", "error", err)
		return nil
	}
	for _, id := range online {
		uc.UpdateOnlineStatus(id, true)
	}
	return nil
}

// CurrentUser returns the authenticated user, if Initialize has succeeded.
func (uc *UserCache) CurrentUser() (User, bool) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if uc.currentUser == nil {
		return User{}, false
	}
	return *uc.currentUser, true
}

// FetchUser returns the cached profile for id, fetching it once otherwise.
// Concurrent callers for the same id collapse onto a single request and all
// receive the same resolved profile.
func (uc *UserCache) FetchUser(ctx context.Context, id string) (User, error) {
	uc.mu.RLock()
	cached, ok := uc.users[id]
	uc.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := uc.fetch.Do(id, func() (any, error) {
		uc.mu.RLock()
		cached, ok := uc.users[id]
		uc.mu.RUnlock()
		if ok {
			return cached, nil
		}

		user, err := uc.client.Users.Get(ctx, id)
		if err != nil {
			return User{}, err
		}
		uc.mu.Lock()
		uc.users[id] = user
		uc.mu.Unlock()
		return user, nil
	})
	if err != nil {
		return User{}, err
	}
	return v.(User), nil
}

// UpdateOnlineStatus flips a cached user's online flag. Unknown ids are a
// no-op: presence events can outrun profile data, and a partial record must
// never be inserted.
func (uc *UserCache) UpdateOnlineStatus(id string, online bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	user, ok := uc.users[id]
	if !ok {
		return
	}
	user.IsOnline = online
	if online {
		user.LastActive = time.Now().UTC()
	}
	uc.users[id] = user

	if uc.currentUser != nil && uc.currentUser.ID == id {
		cu := *uc.currentUser
		cu.IsOnline = online
		cu.LastActive = user.LastActive
		uc.currentUser = &cu
	}
}

// ApplyPresence marks the listed users online. Used for ONLINE_USERS and
// PRESENCE_UPDATE events.
func (uc *UserCache) ApplyPresence(ids []string) {
	for _, id := range ids {
		uc.UpdateOnlineStatus(id, true)
	}
}

// Clear drops all cached state. Called on logout.
func (uc *UserCache) Clear() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.users = make(map[string]User)
	uc.currentUser = nil
	uc.initialized = false
}
