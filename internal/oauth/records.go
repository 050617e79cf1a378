package oauth

import (
	"context"
	"sync"
	"time"
)

// SessionStore holds the records that poll-channel callbacks write and the
// broker's poll loop reads.
type SessionStore interface {
	Put(ctx context.Context, sessionID string, msg Message) error
	// Lookup reports found=false while the authorization is still running.
	Lookup(ctx context.Context, sessionID string) (msg Message, found bool, err error)
}

// MemorySessionStore keeps records in process memory with a TTL; sessions
// are never persisted beyond the process lifetime.
type MemorySessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]record
}

type record struct {
	msg     Message
	expires time.Time
}

var _ SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemorySessionStore{ttl: ttl, now: time.Now, records: make(map[string]record)}
}

func (s *MemorySessionStore) Put(_ context.Context, sessionID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, r := range s.records {
		if now.After(r.expires) {
			delete(s.records, id)
		}
	}
	s.records[sessionID] = record{msg: msg, expires: now.Add(s.ttl)}
	return nil
}

// Lookup consumes the record: a session resolves once.
func (s *MemorySessionStore) Lookup(_ context.Context, sessionID string) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[sessionID]
	if !ok || s.now().After(r.expires) {
		delete(s.records, sessionID)
		return Message{}, false, nil
	}
	delete(s.records, sessionID)
	return r.msg, true, nil
}
