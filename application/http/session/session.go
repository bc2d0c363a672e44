// Package session keeps per-client state between requests.
package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	id      string
	created time.Time

	mu     sync.Mutex
	user   string
	values map[string]string
	used   time.Time
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.created }

func (s *Session) HasUser() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != ""
}

func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) SetUser(user string) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

func (s *Session) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.used = now
	s.mu.Unlock()
}

// Store is an in-memory set of sessions. Sessions idle for longer than the
// idle timeout are dropped.
type Store struct {
	clock clock.Clock
	idle  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a store. An idle timeout of zero keeps sessions forever.
func NewStore(clock clock.Clock, idle time.Duration) *Store {
	return &Store{
		clock:    clock,
		idle:     idle,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session with a random id.
func (st *Store) Create() *Session {
	now := st.clock.Now()
	s := &Session{
		id:      uuid.NewString(),
		created: now,
		values:  make(map[string]string),
		used:    now,
	}

	st.mu.Lock()
	st.sessions[s.id] = s
	st.mu.Unlock()

	return s
}

// Lookup returns the live session id and marks it used.
func (st *Store) Lookup(id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.Wrapf(ErrNotFound, "malformed id %q", id)
	}

	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if st.expired(s, now) {
		delete(st.sessions, id)
		return nil, errors.Wrap(ErrNotFound, "expired")
	}

	s.touch(now)
	return s, nil
}

// Open returns the session id if it is live, or a new one otherwise.
func (st *Store) Open(id string) (s *Session, created bool) {
	if id != "" {
		if s, err := st.Lookup(id); err == nil {
			return s, false
		}
	}
	return st.Create(), true
}

func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Expire drops idle sessions and reports how many were dropped.
func (st *Store) Expire() int {
	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	n := 0
	for id, s := range st.sessions {
		if st.expired(s, now) {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

func (st *Store) expired(s *Session, now time.Time) bool {
	return st.idle > 0 && now.Sub(s.LastUsed()) > st.idle
}
