package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnavailable indicates the coordination store could not be reached. Lock
// and presence operations treat it as fatal for the current request; callers
// must fail closed rather than fall back to process-local state.
var ErrUnavailable = errors.New("store: unavailable")

// PresenceRecord marks one user as actively connected to a project room.
// Records collapse per user: a second connection of the same user overwrites.
type PresenceRecord struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"name"`
	LastSeenAt  time.Time `json:"lastSeen"`
}

// ChangeRecord is one accepted edit appended to a component's audit log.
type ChangeRecord struct {
	AuthorUserID string          `json:"userId"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"changes"`
}

// ChatMessage is one entry in a project room's transcript.
type ChatMessage struct {
	AuthorUserID string    `json:"userId"`
	AuthorName   string    `json:"userName"`
	Text         string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// AcquireResult reports the outcome of a lock acquisition attempt. When the
// lease was not granted, HolderUserID names the current holder.
type AcquireResult struct {
	Acquired     bool
	HolderUserID string
}

// Store exposes the atomic primitives the coordinator needs to synchronize
// state across processes. Every read-then-write (lock acquisition, renewal,
// conditional release) executes as a single store-side operation so that
// independent coordinator instances cannot race each other.
type Store interface {
	// AcquireLock grants the component lease to userID when the lock is
	// absent, expired, or already held by the same user (re-acquisition
	// renews). Otherwise it reports the current holder without mutating.
	AcquireLock(ctx context.Context, componentID, userID string, lease time.Duration) (AcquireResult, error)

	// RenewLock extends the lease iff userID currently holds it.
	RenewLock(ctx context.Context, componentID, userID string, lease time.Duration) (bool, error)

	// ReleaseLock deletes the lock iff userID currently holds it.
	ReleaseLock(ctx context.Context, componentID, userID string) (bool, error)

	// ReleaseLocksHeldBy releases every lock held by userID and returns the
	// component identifiers that were unlocked.
	ReleaseLocksHeldBy(ctx context.Context, userID string) ([]string, error)

	UpsertPresence(ctx context.Context, projectID string, record PresenceRecord) error
	RemovePresence(ctx context.Context, projectID, userID string) error
	ListPresence(ctx context.Context, projectID string) ([]PresenceRecord, error)

	// AppendChange appends to the component's ordered audit log and refreshes
	// the log's retention window.
	AppendChange(ctx context.Context, componentID string, record ChangeRecord, retention time.Duration) error
	ListChanges(ctx context.Context, componentID string) ([]ChangeRecord, error)

	AppendChatMessage(ctx context.Context, projectID string, message ChatMessage, retention time.Duration) error
	ListChatMessages(ctx context.Context, projectID string) ([]ChatMessage, error)

	// IsCredentialRevoked reports whether the raw credential appears on the
	// shared revocation list maintained by the auth service.
	IsCredentialRevoked(ctx context.Context, credential string) (bool, error)
}
