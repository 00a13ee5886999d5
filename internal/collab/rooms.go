package collab

import (
	"context"
	"sync"
)

const defaultStreamBuffer = 32

// Registry tracks which connections belong to which project room and fans
// events out to their streams. A connection belongs to at most one room at a
// time. Sends never block: a subscriber whose buffer is full misses the
// event, matching the fire-and-forget broadcast contract.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]*roomSubscriber
	connections map[string]*roomSubscriber
	bufferSize  int
}

type roomSubscriber struct {
	connectionID string
	roomID       string
	stream       chan Event
}

// NewRegistry constructs an empty room registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:       make(map[string]map[string]*roomSubscriber),
		connections: make(map[string]*roomSubscriber),
		bufferSize:  defaultStreamBuffer,
	}
}

// Register creates the event stream for a connection. The stream exists for
// the connection's lifetime regardless of room membership so requester-only
// events (lock conflicts, errors) can always be delivered. The cleanup
// function removes the connection from its room and drops the stream; it is
// also invoked when ctx ends.
func (r *Registry) Register(ctx context.Context, connectionID string) (<-chan Event, func()) {
	subscriber := &roomSubscriber{
		connectionID: connectionID,
		stream:       make(chan Event, r.bufferSize),
	}

	r.mu.Lock()
	r.connections[connectionID] = subscriber
	r.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			r.mu.Lock()
			r.detachLocked(subscriber)
			delete(r.connections, connectionID)
			r.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Join moves the connection into roomID and returns the room it previously
// occupied, or empty when it had none.
func (r *Registry) Join(connectionID, roomID string) (previousRoomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscriber, ok := r.connections[connectionID]
	if !ok {
		return ""
	}
	previousRoomID = subscriber.roomID
	if previousRoomID == roomID {
		return previousRoomID
	}
	r.detachLocked(subscriber)

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*roomSubscriber)
		r.rooms[roomID] = members
	}
	members[connectionID] = subscriber
	subscriber.roomID = roomID
	return previousRoomID
}

// Leave detaches the connection from its current room.
func (r *Registry) Leave(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subscriber, ok := r.connections[connectionID]; ok {
		r.detachLocked(subscriber)
	}
}

// RoomOf reports the room the connection currently occupies.
func (r *Registry) RoomOf(connectionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if subscriber, ok := r.connections[connectionID]; ok {
		return subscriber.roomID
	}
	return ""
}

// RoomSize counts the connections currently joined to the room.
func (r *Registry) RoomSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Publish fans the event out to every connection in the room. A non-empty
// excludeConnectionID skips that connection, which is how change and lock
// broadcasts avoid echoing the originator.
func (r *Registry) Publish(roomID string, event Event, excludeConnectionID string) {
	r.mu.RLock()
	members := r.rooms[roomID]
	targets := make([]*roomSubscriber, 0, len(members))
	for connectionID, subscriber := range members {
		if connectionID == excludeConnectionID {
			continue
		}
		targets = append(targets, subscriber)
	}
	r.mu.RUnlock()

	for _, subscriber := range targets {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// Send delivers an event to a single connection regardless of room state.
func (r *Registry) Send(connectionID string, event Event) {
	r.mu.RLock()
	subscriber := r.connections[connectionID]
	r.mu.RUnlock()

	if subscriber == nil {
		return
	}
	select {
	case subscriber.stream <- event:
	default:
	}
}

func (r *Registry) detachLocked(subscriber *roomSubscriber) {
	if subscriber.roomID == "" {
		return
	}
	members := r.rooms[subscriber.roomID]
	if members != nil {
		delete(members, subscriber.connectionID)
		if len(members) == 0 {
			delete(r.rooms, subscriber.roomID)
		}
	}
	subscriber.roomID = ""
}
