package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-process Store. It satisfies the contract only for
// single-instance deployments and for tests; multi-instance deployments use
// the Redis-backed store.
type MemoryStore struct {
	mu       sync.Mutex
	clock    func() time.Time
	locks    map[string]memoryLock
	presence map[string]map[string]PresenceRecord
	changes  map[string]memoryLog[ChangeRecord]
	chats    map[string]memoryLog[ChatMessage]
	revoked  map[string]time.Time
}

type memoryLock struct {
	holderUserID string
	expiresAt    time.Time
}

type memoryLog[T any] struct {
	entries   []T
	expiresAt time.Time
}

// NewMemoryStore constructs an in-memory store. A nil clock defaults to
// time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		clock:    clock,
		locks:    make(map[string]memoryLock),
		presence: make(map[string]map[string]PresenceRecord),
		changes:  make(map[string]memoryLog[ChangeRecord]),
		chats:    make(map[string]memoryLog[ChatMessage]),
		revoked:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) AcquireLock(_ context.Context, componentID, userID string, lease time.Duration) (AcquireResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	current, held := s.locks[componentID]
	if held && now.Before(current.expiresAt) && current.holderUserID != userID {
		return AcquireResult{Acquired: false, HolderUserID: current.holderUserID}, nil
	}
	s.locks[componentID] = memoryLock{holderUserID: userID, expiresAt: now.Add(lease)}
	return AcquireResult{Acquired: true, HolderUserID: userID}, nil
}

func (s *MemoryStore) RenewLock(_ context.Context, componentID, userID string, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	current, held := s.locks[componentID]
	if !held || !now.Before(current.expiresAt) || current.holderUserID != userID {
		return false, nil
	}
	s.locks[componentID] = memoryLock{holderUserID: userID, expiresAt: now.Add(lease)}
	return true, nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, componentID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	current, held := s.locks[componentID]
	if !held || !now.Before(current.expiresAt) || current.holderUserID != userID {
		return false, nil
	}
	delete(s.locks, componentID)
	return true, nil
}

func (s *MemoryStore) ReleaseLocksHeldBy(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var released []string
	for componentID, lock := range s.locks {
		if !now.Before(lock.expiresAt) {
			delete(s.locks, componentID)
			continue
		}
		if lock.holderUserID == userID {
			delete(s.locks, componentID)
			released = append(released, componentID)
		}
	}
	return released, nil
}

func (s *MemoryStore) UpsertPresence(_ context.Context, projectID string, record PresenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.presence[projectID]
	if !ok {
		room = make(map[string]PresenceRecord)
		s.presence[projectID] = room
	}
	room[record.UserID] = record
	return nil
}

func (s *MemoryStore) RemovePresence(_ context.Context, projectID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.presence[projectID]
	if room != nil {
		delete(room, userID)
		if len(room) == 0 {
			delete(s.presence, projectID)
		}
	}
	return nil
}

func (s *MemoryStore) ListPresence(_ context.Context, projectID string) ([]PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.presence[projectID]
	records := make([]PresenceRecord, 0, len(room))
	for _, record := range room {
		records = append(records, record)
	}
	return records, nil
}

func (s *MemoryStore) AppendChange(_ context.Context, componentID string, record ChangeRecord, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	log := s.changes[componentID]
	if !log.expiresAt.IsZero() && !now.Before(log.expiresAt) {
		log = memoryLog[ChangeRecord]{}
	}
	log.entries = append(log.entries, record)
	log.expiresAt = now.Add(retention)
	s.changes[componentID] = log
	return nil
}

func (s *MemoryStore) ListChanges(_ context.Context, componentID string) ([]ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.changes[componentID]
	if !log.expiresAt.IsZero() && !s.clock().Before(log.expiresAt) {
		delete(s.changes, componentID)
		return nil, nil
	}
	return append([]ChangeRecord(nil), log.entries...), nil
}

func (s *MemoryStore) AppendChatMessage(_ context.Context, projectID string, message ChatMessage, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	log := s.chats[projectID]
	if !log.expiresAt.IsZero() && !now.Before(log.expiresAt) {
		log = memoryLog[ChatMessage]{}
	}
	log.entries = append(log.entries, message)
	log.expiresAt = now.Add(retention)
	s.chats[projectID] = log
	return nil
}

func (s *MemoryStore) ListChatMessages(_ context.Context, projectID string) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.chats[projectID]
	if !log.expiresAt.IsZero() && !s.clock().Before(log.expiresAt) {
		delete(s.chats, projectID)
		return nil, nil
	}
	return append([]ChatMessage(nil), log.entries...), nil
}

func (s *MemoryStore) IsCredentialRevoked(_ context.Context, credential string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.revoked[credential]
	if !ok {
		return false, nil
	}
	if !expiresAt.IsZero() && !s.clock().Before(expiresAt) {
		delete(s.revoked, credential)
		return false, nil
	}
	return true, nil
}

// RevokeCredential places the credential on the revocation list until the
// provided expiry. A zero expiry revokes without a deadline. In production
// the auth service writes this list; the method exists so single-process
// deployments and tests can exercise the revocation path.
func (s *MemoryStore) RevokeCredential(credential string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[credential] = expiresAt
}
