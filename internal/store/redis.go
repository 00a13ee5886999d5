package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout shared with the rest of the QAA platform. The auth service
// writes the revocation entries; everything else is owned by the coordinator.
const (
	lockKeyPrefix       = "lock_"
	changesKeyPrefix    = "changes_"
	chatKeyPrefix       = "chat_"
	presenceKeyPrefix   = "presence_"
	revocationKeyPrefix = "bl_"

	scanBatchSize = 100
)

// Lock mutations run as single server-side scripts so two coordinator
// processes can never both observe a free lock and both win it.
var (
	acquireScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if holder == false or holder == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return ""
end
return holder
`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// RedisStore implements Store against a Redis deployment shared by every
// coordinator process.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedis connects to the given address and verifies the connection.
func OpenRedis(ctx context.Context, address string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: address})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, wrapUnavailable(err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) AcquireLock(ctx context.Context, componentID, userID string, lease time.Duration) (AcquireResult, error) {
	result, err := acquireScript.Run(ctx, s.client,
		[]string{lockKeyPrefix + componentID},
		userID, lease.Milliseconds(),
	).Text()
	if err != nil {
		return AcquireResult{}, wrapUnavailable(err)
	}
	if result == "" {
		return AcquireResult{Acquired: true, HolderUserID: userID}, nil
	}
	return AcquireResult{Acquired: false, HolderUserID: result}, nil
}

func (s *RedisStore) RenewLock(ctx context.Context, componentID, userID string, lease time.Duration) (bool, error) {
	renewed, err := renewScript.Run(ctx, s.client,
		[]string{lockKeyPrefix + componentID},
		userID, lease.Milliseconds(),
	).Int64()
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return renewed == 1, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, componentID, userID string) (bool, error) {
	released, err := releaseScript.Run(ctx, s.client,
		[]string{lockKeyPrefix + componentID},
		userID,
	).Int64()
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return released == 1, nil
}

// ReleaseLocksHeldBy scans the lock keyspace and conditionally deletes every
// lease held by the user. The scan is O(live locks).
func (s *RedisStore) ReleaseLocksHeldBy(ctx context.Context, userID string) ([]string, error) {
	var released []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, lockKeyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return released, wrapUnavailable(err)
		}
		for _, key := range keys {
			deleted, err := releaseScript.Run(ctx, s.client, []string{key}, userID).Int64()
			if err != nil {
				return released, wrapUnavailable(err)
			}
			if deleted == 1 {
				released = append(released, strings.TrimPrefix(key, lockKeyPrefix))
			}
		}
		cursor = next
		if cursor == 0 {
			return released, nil
		}
	}
}

func (s *RedisStore) UpsertPresence(ctx context.Context, projectID string, record PresenceRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, presenceKeyPrefix+projectID, record.UserID, encoded).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *RedisStore) RemovePresence(ctx context.Context, projectID, userID string) error {
	if err := s.client.HDel(ctx, presenceKeyPrefix+projectID, userID).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func (s *RedisStore) ListPresence(ctx context.Context, projectID string) ([]PresenceRecord, error) {
	entries, err := s.client.HGetAll(ctx, presenceKeyPrefix+projectID).Result()
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	records := make([]PresenceRecord, 0, len(entries))
	for _, raw := range entries {
		var record PresenceRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("store: corrupt presence record: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *RedisStore) AppendChange(ctx context.Context, componentID string, record ChangeRecord, retention time.Duration) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.appendWithRetention(ctx, changesKeyPrefix+componentID, encoded, retention)
}

func (s *RedisStore) ListChanges(ctx context.Context, componentID string) ([]ChangeRecord, error) {
	raws, err := s.client.LRange(ctx, changesKeyPrefix+componentID, 0, -1).Result()
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	records := make([]ChangeRecord, 0, len(raws))
	for _, raw := range raws {
		var record ChangeRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("store: corrupt change record: %w", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *RedisStore) AppendChatMessage(ctx context.Context, projectID string, message ChatMessage, retention time.Duration) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.appendWithRetention(ctx, chatKeyPrefix+projectID, encoded, retention)
}

func (s *RedisStore) ListChatMessages(ctx context.Context, projectID string) ([]ChatMessage, error) {
	raws, err := s.client.LRange(ctx, chatKeyPrefix+projectID, 0, -1).Result()
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	messages := make([]ChatMessage, 0, len(raws))
	for _, raw := range raws {
		var message ChatMessage
		if err := json.Unmarshal([]byte(raw), &message); err != nil {
			return nil, fmt.Errorf("store: corrupt chat message: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func (s *RedisStore) IsCredentialRevoked(ctx context.Context, credential string) (bool, error) {
	count, err := s.client.Exists(ctx, revocationKeyPrefix+credential).Result()
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return count > 0, nil
}

func (s *RedisStore) appendWithRetention(ctx context.Context, key string, encoded []byte, retention time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, encoded)
	pipe.PExpire(ctx, key, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
