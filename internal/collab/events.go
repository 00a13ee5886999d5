package collab

import "encoding/json"

// Wire event names shared with the QAA frontend.
const (
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventComponentEditing  = "component_editing"
	EventComponentLocked   = "component_locked"
	EventComponentUpdated  = "component_updated"
	EventComponentUnlocked = "component_unlocked"
	EventCursorMoved       = "cursor_moved"
	EventNewMessage        = "new_message"
	EventError             = "error"
)

// Event is one broadcastable unit: a wire name plus its payload.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"data"`
}

// UserRef identifies the acting user inside broadcast payloads.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PresencePayload accompanies user_online and user_offline.
type PresencePayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// ComponentEditingPayload announces a granted edit lease to the room.
type ComponentEditingPayload struct {
	ComponentID string  `json:"componentId"`
	User        UserRef `json:"user"`
}

// ComponentLockedPayload tells a rejected requester who holds the lease.
type ComponentLockedPayload struct {
	ComponentID string `json:"componentId"`
	UserID      string `json:"userId"`
}

// ComponentUpdatedPayload relays an accepted change to room peers.
type ComponentUpdatedPayload struct {
	ComponentID string          `json:"componentId"`
	Changes     json.RawMessage `json:"changes"`
	User        UserRef         `json:"user"`
}

// ComponentUnlockedPayload announces a released lease.
type ComponentUnlockedPayload struct {
	ComponentID string  `json:"componentId"`
	User        UserRef `json:"user"`
}

// CursorMovedPayload is the ephemeral cursor relay; it is never stored.
type CursorMovedPayload struct {
	ComponentID string          `json:"componentId"`
	Position    json.RawMessage `json:"position"`
	User        UserRef         `json:"user"`
}

// ErrorPayload is delivered to the originating connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
