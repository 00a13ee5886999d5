package collab

import (
	"context"
	"testing"
)

func drainEvents(stream <-chan Event) []Event {
	var events []Event
	for {
		select {
		case event := <-stream:
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestRegistryPublishReachesRoomMembers(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	streamA, cleanupA := registry.Register(ctx, "conn-a")
	defer cleanupA()
	streamB, cleanupB := registry.Register(ctx, "conn-b")
	defer cleanupB()
	streamC, cleanupC := registry.Register(ctx, "conn-c")
	defer cleanupC()

	registry.Join("conn-a", "project-1")
	registry.Join("conn-b", "project-1")
	registry.Join("conn-c", "project-2")

	registry.Publish("project-1", Event{Name: EventNewMessage}, "")

	if events := drainEvents(streamA); len(events) != 1 {
		t.Fatalf("expected conn-a to receive 1 event, got %d", len(events))
	}
	if events := drainEvents(streamB); len(events) != 1 {
		t.Fatalf("expected conn-b to receive 1 event, got %d", len(events))
	}
	if events := drainEvents(streamC); len(events) != 0 {
		t.Fatalf("expected conn-c in another room to receive nothing, got %d", len(events))
	}
}

func TestRegistryPublishExcludesConnection(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	streamA, cleanupA := registry.Register(ctx, "conn-a")
	defer cleanupA()
	streamB, cleanupB := registry.Register(ctx, "conn-b")
	defer cleanupB()

	registry.Join("conn-a", "project-1")
	registry.Join("conn-b", "project-1")

	registry.Publish("project-1", Event{Name: EventComponentUpdated}, "conn-a")

	if events := drainEvents(streamA); len(events) != 0 {
		t.Fatalf("expected excluded connection to receive nothing, got %d", len(events))
	}
	if events := drainEvents(streamB); len(events) != 1 {
		t.Fatalf("expected peer to receive 1 event, got %d", len(events))
	}
}

func TestRegistryJoinMovesBetweenRooms(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	stream, cleanup := registry.Register(ctx, "conn-a")
	defer cleanup()

	if previous := registry.Join("conn-a", "project-1"); previous != "" {
		t.Fatalf("expected no previous room, got %q", previous)
	}
	if previous := registry.Join("conn-a", "project-2"); previous != "project-1" {
		t.Fatalf("expected previous room project-1, got %q", previous)
	}

	registry.Publish("project-1", Event{Name: EventNewMessage}, "")
	if events := drainEvents(stream); len(events) != 0 {
		t.Fatalf("expected no events from the departed room, got %d", len(events))
	}

	registry.Publish("project-2", Event{Name: EventNewMessage}, "")
	if events := drainEvents(stream); len(events) != 1 {
		t.Fatalf("expected 1 event from the current room, got %d", len(events))
	}

	if size := registry.RoomSize("project-1"); size != 0 {
		t.Fatalf("expected departed room to be empty, got %d", size)
	}
}

func TestRegistrySendTargetsSingleConnection(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	streamA, cleanupA := registry.Register(ctx, "conn-a")
	defer cleanupA()
	streamB, cleanupB := registry.Register(ctx, "conn-b")
	defer cleanupB()

	registry.Join("conn-a", "project-1")
	registry.Join("conn-b", "project-1")

	registry.Send("conn-a", Event{Name: EventComponentLocked})

	if events := drainEvents(streamA); len(events) != 1 {
		t.Fatalf("expected targeted connection to receive 1 event, got %d", len(events))
	}
	if events := drainEvents(streamB); len(events) != 0 {
		t.Fatalf("expected other connection to receive nothing, got %d", len(events))
	}
}

func TestRegistryCleanupRemovesConnection(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	_, cleanup := registry.Register(ctx, "conn-a")
	registry.Join("conn-a", "project-1")
	cleanup()

	if size := registry.RoomSize("project-1"); size != 0 {
		t.Fatalf("expected room to be empty after cleanup, got %d", size)
	}
	if room := registry.RoomOf("conn-a"); room != "" {
		t.Fatalf("expected no room for removed connection, got %q", room)
	}
}

func TestRegistryDropsEventsForSlowSubscriber(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	stream, cleanup := registry.Register(ctx, "conn-a")
	defer cleanup()
	registry.Join("conn-a", "project-1")

	for i := 0; i < defaultStreamBuffer+10; i++ {
		registry.Publish("project-1", Event{Name: EventCursorMoved}, "")
	}

	if events := drainEvents(stream); len(events) != defaultStreamBuffer {
		t.Fatalf("expected buffer-bounded delivery of %d events, got %d", defaultStreamBuffer, len(events))
	}
}
