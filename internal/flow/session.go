package flow

import (
	"log/slog"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// DefaultSessionTTL is how long an idle session survives before the chat falls back to Idle.
const DefaultSessionTTL = 30 * time.Minute

// SessionStore holds the active session per chat and serializes work per chat.
type SessionStore struct {
	sessions *cache.Cache

	mu    sync.Mutex
	locks map[string]*chatLock
}

// chatLock is a per-chat mutex with a count of holders and waiters. The entry is
// dropped when the count reaches zero.
type chatLock struct {
	mu   sync.Mutex
	refs int
}

// NewSessionStore creates a SessionStore whose sessions expire after ttl without activity.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	c := cache.New(ttl, ttl/3)
	c.OnEvicted(func(chatID string, value interface{}) {
		if st, ok := value.(State); ok {
			slog.Debug("SessionStore session ended", "chatID", chatID, "state", st.Name())
		}
	})
	return &SessionStore{
		sessions: c,
		locks:    make(map[string]*chatLock),
	}
}

// Get returns the chat's current state, Idle when none is active.
func (s *SessionStore) Get(chatID string) State {
	if v, ok := s.sessions.Get(chatID); ok {
		if st, ok := v.(State); ok {
			return st
		}
	}
	return Idle{}
}

// Set replaces the chat's session. Setting Idle ends it.
func (s *SessionStore) Set(chatID string, st State) {
	if st == nil || st.Name() == StateIdle {
		s.sessions.Delete(chatID)
		return
	}
	s.sessions.SetDefault(chatID, st)
	slog.Debug("SessionStore Set", "chatID", chatID, "state", st.Name())
}

// Clear ends the chat's session, discarding scratch data.
func (s *SessionStore) Clear(chatID string) {
	s.sessions.Delete(chatID)
}

// Active returns the number of non-idle sessions.
func (s *SessionStore) Active() int {
	return s.sessions.ItemCount()
}

// Lock acquires the chat's lock and returns its release function. Two events for the
// same chat are never handled concurrently.
func (s *SessionStore) Lock(chatID string) func() {
	s.mu.Lock()
	l, ok := s.locks[chatID]
	if !ok {
		l = &chatLock{}
		s.locks[chatID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			s.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, chatID)
			}
			s.mu.Unlock()
		})
	}
}

// lockedChats returns how many chats currently have a lock entry.
func (s *SessionStore) lockedChats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
