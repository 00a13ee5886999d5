package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"
)

const testLease = 30 * time.Second

func TestMemoryStoreAcquireLockMutualExclusion(t *testing.T) {
	clockNow := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	memory := NewMemoryStore(func() time.Time { return clockNow })
	ctx := context.Background()

	first, err := memory.AcquireLock(ctx, "component-1", "user-a", testLease)
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	if !first.Acquired {
		t.Fatalf("expected first acquisition to succeed")
	}

	second, err := memory.AcquireLock(ctx, "component-1", "user-b", testLease)
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	if second.Acquired {
		t.Fatalf("expected second acquisition to fail while lease is live")
	}
	if second.HolderUserID != "user-a" {
		t.Fatalf("expected holder user-a, got %s", second.HolderUserID)
	}
}

func TestMemoryStoreAcquireLockConcurrentSingleWinner(t *testing.T) {
	memory := NewMemoryStore(nil)
	ctx := context.Background()

	const contenders = 16
	var wg sync.WaitGroup
	wins := make(chan string, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		userID := "user-" + string(rune('a'+i))
		go func() {
			defer wg.Done()
			result, err := memory.AcquireLock(ctx, "component-1", userID, testLease)
			if err == nil && result.Acquired {
				wins <- userID
			}
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestMemoryStoreAcquireLockAfterExpiry(t *testing.T) {
	clockNow := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	memory := NewMemoryStore(func() time.Time { return clockNow })
	ctx := context.Background()

	if result, _ := memory.AcquireLock(ctx, "component-1", "user-a", testLease); !result.Acquired {
		t.Fatalf("expected initial acquisition to succeed")
	}

	clockNow = clockNow.Add(31 * time.Second)
	result, err := memory.AcquireLock(ctx, "component-1", "user-b", testLease)
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	if !result.Acquired {
		t.Fatalf("expected acquisition to succeed after lease expiry")
	}
}

func TestMemoryStoreReacquireByHolderRenews(t *testing.T) {
	clockNow := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	memory := NewMemoryStore(func() time.Time { return clockNow })
	ctx := context.Background()

	if result, _ := memory.AcquireLock(ctx, "component-1", "user-a", testLease); !result.Acquired {
		t.Fatalf("expected initial acquisition to succeed")
	}

	clockNow = clockNow.Add(20 * time.Second)
	if result, _ := memory.AcquireLock(ctx, "component-1", "user-a", testLease); !result.Acquired {
		t.Fatalf("expected holder re-acquisition to succeed")
	}

	// 20s + 25s exceeds the original lease but not the renewed one.
	clockNow = clockNow.Add(25 * time.Second)
	result, _ := memory.AcquireLock(ctx, "component-1", "user-b", testLease)
	if result.Acquired {
		t.Fatalf("expected renewed lease to still block other users")
	}
}

func TestMemoryStoreRenewLockRequiresHolder(t *testing.T) {
	clockNow := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	memory := NewMemoryStore(func() time.Time { return clockNow })
	ctx := context.Background()

	if renewed, _ := memory.RenewLock(ctx, "component-1", "user-a", testLease); renewed {
		t.Fatalf("expected renewal of an absent lock to fail")
	}

	if _, err := memory.AcquireLock(ctx, "component-1", "user-a", testLease); err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	if renewed, _ := memory.RenewLock(ctx, "component-1", "user-b", testLease); renewed {
		t.Fatalf("expected renewal by non-holder to fail")
	}
	if renewed, _ := memory.RenewLock(ctx, "component-1", "user-a", testLease); !renewed {
		t.Fatalf("expected renewal by holder to succeed")
	}

	clockNow = clockNow.Add(31 * time.Second)
	if renewed, _ := memory.RenewLock(ctx, "component-1", "user-a", testLease); renewed {
		t.Fatalf("expected renewal of an expired lock to fail")
	}
}

func TestMemoryStoreReleaseLockByNonHolderIsNoOp(t *testing.T) {
	memory := NewMemoryStore(nil)
	ctx := context.Background()

	if _, err := memory.AcquireLock(ctx, "component-1", "user-a", testLease); err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	if released, _ := memory.ReleaseLock(ctx, "component-1", "user-b"); released {
		t.Fatalf("expected release by non-holder to be a no-op")
	}
	if result, _ := memory.AcquireLock(ctx, "component-1", "user-b", testLease); result.Acquired {
		t.Fatalf("expected lock to remain held after foreign release attempt")
	}
	if released, _ := memory.ReleaseLock(ctx, "component-1", "user-a"); !released {
		t.Fatalf("expected release by holder to succeed")
	}
	if result, _ := memory.AcquireLock(ctx, "component-1", "user-b", testLease); !result.Acquired {
		t.Fatalf("expected acquisition to succeed after release")
	}
}

func TestMemoryStoreReleaseLocksHeldBy(t *testing.T) {
	memory := NewMemoryStore(nil)
	ctx := context.Background()

	for _, componentID := range []string{"component-1", "component-2"} {
		if _, err := memory.AcquireLock(ctx, componentID, "user-a", testLease); err != nil {
			t.Fatalf("unexpected acquire error: %v", err)
		}
	}
	if _, err := memory.AcquireLock(ctx, "component-3", "user-b", testLease); err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}

	released, err := memory.ReleaseLocksHeldBy(ctx, "user-a")
	if err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
	sort.Strings(released)
	if len(released) != 2 || released[0] != "component-1" || released[1] != "component-2" {
		t.Fatalf("unexpected released components: %v", released)
	}

	if result, _ := memory.AcquireLock(ctx, "component-3", "user-a", testLease); result.Acquired {
		t.Fatalf("expected user-b lock to survive user-a cleanup")
	}
}

func TestMemoryStorePresenceLifecycle(t *testing.T) {
	memory := NewMemoryStore(nil)
	ctx := context.Background()

	record := PresenceRecord{UserID: "user-a", DisplayName: "Ada", LastSeenAt: time.Now().UTC()}
	if err := memory.UpsertPresence(ctx, "project-1", record); err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}

	records, err := memory.ListPresence(ctx, "project-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != 1 || records[0].DisplayName != "Ada" {
		t.Fatalf("unexpected presence records: %#v", records)
	}

	// Same user again overwrites rather than augments.
	record.DisplayName = "Ada L."
	if err := memory.UpsertPresence(ctx, "project-1", record); err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	records, _ = memory.ListPresence(ctx, "project-1")
	if len(records) != 1 || records[0].DisplayName != "Ada L." {
		t.Fatalf("expected overwritten record, got %#v", records)
	}

	if err := memory.RemovePresence(ctx, "project-1", "user-a"); err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}
	records, _ = memory.ListPresence(ctx, "project-1")
	if len(records) != 0 {
		t.Fatalf("expected empty presence after removal, got %#v", records)
	}
}

func TestMemoryStoreChangeLogRetention(t *testing.T) {
	clockNow := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	memory := NewMemoryStore(func() time.Time { return clockNow })
	ctx := context.Background()

	record := ChangeRecord{
		AuthorUserID: "user-a",
		Timestamp:    clockNow,
		Payload:      json.RawMessage(`{"text":"hi"}`),
	}
	if err := memory.AppendChange(ctx, "component-1", record, 24*time.Hour); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	records, err := memory.ListChanges(ctx, "component-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(records) != 1 || string(records[0].Payload) != `{"text":"hi"}` {
		t.Fatalf("unexpected change records: %#v", records)
	}

	clockNow = clockNow.Add(25 * time.Hour)
	records, _ = memory.ListChanges(ctx, "component-1")
	if len(records) != 0 {
		t.Fatalf("expected change log to expire, got %#v", records)
	}
}

func TestMemoryStoreChatTranscriptOrdering(t *testing.T) {
	memory := NewMemoryStore(nil)
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		message := ChatMessage{AuthorUserID: "user-a", AuthorName: "Ada", Text: text, Timestamp: time.Now().UTC()}
		if err := memory.AppendChatMessage(ctx, "project-1", message, 7*24*time.Hour); err != nil {
			t.Fatalf("unexpected append error: %v", err)
		}
	}

	messages, err := memory.ListChatMessages(ctx, "project-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for index, expected := range []string{"first", "second", "third"} {
		if messages[index].Text != expected {
			t.Fatalf("expected %q at index %d, got %q", expected, index, messages[index].Text)
		}
	}
}

func TestMemoryStoreCredentialRevocation(t *testing.T) {
	clockNow := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	memory := NewMemoryStore(func() time.Time { return clockNow })
	ctx := context.Background()

	if revoked, _ := memory.IsCredentialRevoked(ctx, "token-1"); revoked {
		t.Fatalf("expected unknown credential to be accepted")
	}

	memory.RevokeCredential("token-1", clockNow.Add(time.Hour))
	if revoked, _ := memory.IsCredentialRevoked(ctx, "token-1"); !revoked {
		t.Fatalf("expected revoked credential to be refused")
	}

	clockNow = clockNow.Add(2 * time.Hour)
	if revoked, _ := memory.IsCredentialRevoked(ctx, "token-1"); revoked {
		t.Fatalf("expected revocation entry to lapse with the token lifetime")
	}
}
