package collab

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/appcontentbiz/QAA/internal/store"
	"go.uber.org/zap"
)

const (
	// DefaultLockLease bounds exclusive edit ownership. Short enough to
	// recover quickly from a crashed editor, long enough to survive typing
	// pauses given renewal on every accepted change.
	DefaultLockLease = 30 * time.Second

	// DefaultChangeRetention keeps component audit logs for a day.
	DefaultChangeRetention = 24 * time.Hour

	// DefaultChatRetention keeps room transcripts for a week.
	DefaultChatRetention = 7 * 24 * time.Hour
)

var (
	errMissingStore    = errors.New("collab: coordination store is required")
	errMissingRegistry = errors.New("collab: room registry is required")
	errMissingAccess   = errors.New("collab: access checker is required")
)

// AccessChecker answers the binary "role >= viewer" question for a project.
// The project directory implements it; tests substitute fakes.
type AccessChecker interface {
	HasProjectAccess(ctx context.Context, projectID, userID string) (bool, error)
}

// Session is the coordinator-side view of one authenticated connection.
type Session struct {
	ConnectionID string
	UserID       string
	DisplayName  string
}

func (s Session) userRef() UserRef {
	return UserRef{ID: s.UserID, Name: s.DisplayName}
}

// Config wires the coordinator's dependencies.
type Config struct {
	Store           store.Store
	Registry        *Registry
	Access          AccessChecker
	Clock           func() time.Time
	Logger          *zap.Logger
	LockLease       time.Duration
	ChangeRetention time.Duration
	ChatRetention   time.Duration
}

// Coordinator executes the room, lock, change and chat operations for every
// connection of this process. All cross-connection state lives in the
// injected store, so any number of Coordinator processes can serve the same
// rooms concurrently.
type Coordinator struct {
	store           store.Store
	registry        *Registry
	access          AccessChecker
	clock           func() time.Time
	logger          *zap.Logger
	lockLease       time.Duration
	changeRetention time.Duration
	chatRetention   time.Duration
}

// NewCoordinator validates the configuration and applies defaults.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Access == nil {
		return nil, errMissingAccess
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lease := cfg.LockLease
	if lease <= 0 {
		lease = DefaultLockLease
	}
	changeRetention := cfg.ChangeRetention
	if changeRetention <= 0 {
		changeRetention = DefaultChangeRetention
	}
	chatRetention := cfg.ChatRetention
	if chatRetention <= 0 {
		chatRetention = DefaultChatRetention
	}
	return &Coordinator{
		store:           cfg.Store,
		registry:        cfg.Registry,
		access:          cfg.Access,
		clock:           clock,
		logger:          logger,
		lockLease:       lease,
		changeRetention: changeRetention,
		chatRetention:   chatRetention,
	}, nil
}

// JoinProject moves the session into the project room. Any previously joined
// room is left first, dropping that room's presence record for the user. On
// success the room receives user_online; a failed access check mutates
// nothing.
func (c *Coordinator) JoinProject(ctx context.Context, session Session, projectID string) error {
	allowed, err := c.access.HasProjectAccess(ctx, projectID, session.UserID)
	if err != nil {
		c.logError("join_project", "access_check_failed", err, session, zap.String("project_id", projectID))
		return errStoreUnavailable(err)
	}
	if !allowed {
		return errAccessDenied(projectID)
	}

	previousRoomID := c.registry.Join(session.ConnectionID, projectID)
	if previousRoomID != "" && previousRoomID != projectID {
		if err := c.store.RemovePresence(ctx, previousRoomID, session.UserID); err != nil {
			c.logError("join_project", "previous_presence_remove_failed", err, session,
				zap.String("project_id", previousRoomID))
		}
	}

	record := store.PresenceRecord{
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		LastSeenAt:  c.clock().UTC(),
	}
	if err := c.store.UpsertPresence(ctx, projectID, record); err != nil {
		c.logError("join_project", "presence_upsert_failed", err, session, zap.String("project_id", projectID))
		return errStoreUnavailable(err)
	}

	c.registry.Publish(projectID, Event{
		Name:    EventUserOnline,
		Payload: PresencePayload{UserID: session.UserID, Name: session.DisplayName},
	}, "")
	return nil
}

// StartEditing attempts to take the component lease. The winner's room peers
// receive component_editing; a losing requester alone receives
// component_locked naming the current holder.
func (c *Coordinator) StartEditing(ctx context.Context, session Session, projectID, componentID string) error {
	result, err := c.store.AcquireLock(ctx, componentID, session.UserID, c.lockLease)
	if err != nil {
		c.logError("start_editing", "lock_acquire_failed", err, session, zap.String("component_id", componentID))
		return errStoreUnavailable(err)
	}
	if !result.Acquired {
		c.registry.Send(session.ConnectionID, Event{
			Name:    EventComponentLocked,
			Payload: ComponentLockedPayload{ComponentID: componentID, UserID: result.HolderUserID},
		})
		return nil
	}

	c.registry.Publish(projectID, Event{
		Name:    EventComponentEditing,
		Payload: ComponentEditingPayload{ComponentID: componentID, User: session.userRef()},
	}, session.ConnectionID)
	return nil
}

// ApplyChange accepts an edit from the current lease holder: the lease is
// renewed, the change is appended to the component's audit log, and the
// payload is relayed to every other room member. A non-holder gets
// lock_not_held and nothing is mutated. No merging happens here; conflict
// resolution above the relay is out of scope.
func (c *Coordinator) ApplyChange(ctx context.Context, session Session, projectID, componentID string, changes json.RawMessage) error {
	renewed, err := c.store.RenewLock(ctx, componentID, session.UserID, c.lockLease)
	if err != nil {
		c.logError("component_change", "lock_renew_failed", err, session, zap.String("component_id", componentID))
		return errStoreUnavailable(err)
	}
	if !renewed {
		return errLockNotHeld(componentID)
	}

	record := store.ChangeRecord{
		AuthorUserID: session.UserID,
		Timestamp:    c.clock().UTC(),
		Payload:      changes,
	}
	if err := c.store.AppendChange(ctx, componentID, record, c.changeRetention); err != nil {
		c.logError("component_change", "change_append_failed", err, session, zap.String("component_id", componentID))
		return errStoreUnavailable(err)
	}

	c.registry.Publish(projectID, Event{
		Name:    EventComponentUpdated,
		Payload: ComponentUpdatedPayload{ComponentID: componentID, Changes: changes, User: session.userRef()},
	}, session.ConnectionID)
	return nil
}

// StopEditing releases the lease when the session holds it and tells the
// room. A release attempt against someone else's lease is a no-op; there is
// no forced preemption outside lease expiry.
func (c *Coordinator) StopEditing(ctx context.Context, session Session, projectID, componentID string) error {
	released, err := c.store.ReleaseLock(ctx, componentID, session.UserID)
	if err != nil {
		c.logError("stop_editing", "lock_release_failed", err, session, zap.String("component_id", componentID))
		return errStoreUnavailable(err)
	}
	if !released {
		return nil
	}

	c.registry.Publish(projectID, Event{
		Name:    EventComponentUnlocked,
		Payload: ComponentUnlockedPayload{ComponentID: componentID, User: session.userRef()},
	}, session.ConnectionID)
	return nil
}

// CursorMove relays a cursor position to the other room members. It is
// best-effort: nothing is stored, and a session outside the room is ignored.
func (c *Coordinator) CursorMove(session Session, projectID, componentID string, position json.RawMessage) {
	if c.registry.RoomOf(session.ConnectionID) != projectID {
		return
	}
	c.registry.Publish(projectID, Event{
		Name:    EventCursorMoved,
		Payload: CursorMovedPayload{ComponentID: componentID, Position: position, User: session.userRef()},
	}, session.ConnectionID)
}

// SendMessage appends to the room transcript and broadcasts to the whole
// room, sender included: chat is a shared transcript, not a peer-only
// notification.
func (c *Coordinator) SendMessage(ctx context.Context, session Session, projectID, text string) error {
	allowed, err := c.access.HasProjectAccess(ctx, projectID, session.UserID)
	if err != nil {
		c.logError("send_message", "access_check_failed", err, session, zap.String("project_id", projectID))
		return errStoreUnavailable(err)
	}
	if !allowed {
		return errAccessDenied(projectID)
	}

	message := store.ChatMessage{
		AuthorUserID: session.UserID,
		AuthorName:   session.DisplayName,
		Text:         text,
		Timestamp:    c.clock().UTC(),
	}
	if err := c.store.AppendChatMessage(ctx, projectID, message, c.chatRetention); err != nil {
		c.logError("send_message", "chat_append_failed", err, session, zap.String("project_id", projectID))
		return errStoreUnavailable(err)
	}

	c.registry.Publish(projectID, Event{Name: EventNewMessage, Payload: message}, "")
	return nil
}

// Disconnect performs the cleanup for a closing connection: every lease held
// by the user is released with a component_unlocked broadcast, the presence
// record is dropped, and the room is told the user went offline. The lease
// TTL remains the backstop should any of this fail.
func (c *Coordinator) Disconnect(ctx context.Context, session Session) {
	roomID := c.registry.RoomOf(session.ConnectionID)
	if roomID == "" {
		return
	}

	released, err := c.store.ReleaseLocksHeldBy(ctx, session.UserID)
	if err != nil {
		c.logError("disconnect", "lock_cleanup_failed", err, session, zap.String("project_id", roomID))
	}
	for _, componentID := range released {
		c.registry.Publish(roomID, Event{
			Name:    EventComponentUnlocked,
			Payload: ComponentUnlockedPayload{ComponentID: componentID, User: session.userRef()},
		}, session.ConnectionID)
	}

	if err := c.store.RemovePresence(ctx, roomID, session.UserID); err != nil {
		c.logError("disconnect", "presence_remove_failed", err, session, zap.String("project_id", roomID))
	}

	c.registry.Publish(roomID, Event{
		Name:    EventUserOffline,
		Payload: PresencePayload{UserID: session.UserID, Name: session.DisplayName},
	}, session.ConnectionID)

	c.registry.Leave(session.ConnectionID)
}

func (c *Coordinator) logError(operation, reason string, err error, session Session, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("connection_id", session.ConnectionID),
		zap.String("user_id", session.UserID),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Error("collab coordinator error", attrs...)
}
