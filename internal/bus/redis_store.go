package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// notifyChannel carries store-write notifications between contexts.
const notifyChannel = "ccevents"

type notifyEnvelope struct {
	Key    string          `json:"key"`
	Record json.RawMessage `json:"record"`
}

// RedisStore implements Store on Redis: records live under TTL'd keys
// for the poll path and every write is additionally announced on a
// pub/sub channel for the push path.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger

	once          sync.Once
	pubsub        *redis.PubSub
	notifications chan Notification
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		logger: log,
	}
}

// Write stores the record with a TTL and publishes a change
// notification. The notification is best-effort; the poll path covers
// subscribers that miss it.
func (s *RedisStore) Write(ctx context.Context, key string, record []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, record, ttl).Err(); err != nil {
		return err
	}

	envelope, err := json.Marshal(notifyEnvelope{Key: key, Record: record})
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, notifyChannel, envelope).Err(); err != nil {
		s.logger.Debug("event notification publish failed", zap.Error(err))
	}
	return nil
}

// Scan returns all live event records.
func (s *RedisStore) Scan(ctx context.Context) (map[string][]byte, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make(map[string][]byte, len(keys))
	for i, value := range values {
		// A key can expire between SCAN and MGET.
		if value == nil {
			continue
		}
		if str, ok := value.(string); ok {
			records[keys[i]] = []byte(str)
		}
	}
	return records, nil
}

// Notifications subscribes to the change channel and returns the push
// stream. The subscription is created on first call and lives until
// Close.
func (s *RedisStore) Notifications() <-chan Notification {
	s.once.Do(func() {
		s.pubsub = s.client.Subscribe(context.Background(), notifyChannel)
		s.notifications = make(chan Notification, 64)

		go func() {
			defer close(s.notifications)
			for msg := range s.pubsub.Channel() {
				var envelope notifyEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					s.logger.Debug("malformed event notification", zap.Error(err))
					continue
				}
				select {
				case s.notifications <- Notification{Key: envelope.Key, Record: envelope.Record}:
				default:
					// Drop when backed up; the poll path recovers.
				}
			}
		}()
	})
	return s.notifications
}

// Close tears down the pub/sub subscription.
func (s *RedisStore) Close() error {
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
