package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// IndexUpdate is one observation of a ceremony's currentIndex. The index is
// monotonically non-decreasing per ceremony: it advances only when a
// contribution reaches COMPLETE or INVALIDATED.
type IndexUpdate struct {
	CeremonyID   string `json:"ceremonyId"`
	CurrentIndex int    `json:"currentIndex"`
}

// Listener delivers currentIndex updates for a ceremony.
type Listener interface {
	Subscribe(ctx context.Context, ceremonyID string) (*Subscription, error)
}

// Publisher broadcasts currentIndex updates after the store advances them.
type Publisher interface {
	PublishIndex(ctx context.Context, ceremonyID string, index int) error
}

// RedisQueue implements Listener and Publisher over Redis pubsub, with the
// latest index cached under a plain key for queue status reads.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func indexKey(ceremonyID string) string {
	return "ceremony:index:" + ceremonyID
}

func channelKey(ceremonyID string) string {
	return "ceremony:queue:" + ceremonyID
}

// PublishIndex caches the new index and notifies all queue subscribers.
func (q *RedisQueue) PublishIndex(ctx context.Context, ceremonyID string, index int) error {
	if err := q.client.Set(ctx, indexKey(ceremonyID), index, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to cache current index")
	}

	data, err := json.Marshal(IndexUpdate{CeremonyID: ceremonyID, CurrentIndex: index})
	if err != nil {
		return errors.Wrap(err, "failed to marshal index update")
	}
	if err := q.client.Publish(ctx, channelKey(ceremonyID), data).Err(); err != nil {
		return errors.Wrap(err, "failed to publish index update")
	}
	return nil
}

// CurrentIndex reads the cached index for a ceremony. Returns 0 with no
// error when nothing has been published yet; callers fall back to the store.
func (q *RedisQueue) CurrentIndex(ctx context.Context, ceremonyID string) (int, error) {
	val, err := q.client.Get(ctx, indexKey(ceremonyID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to get current index")
	}

	index, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.Wrap(err, "malformed cached index")
	}
	return index, nil
}

// Subscribe opens a queue-position subscription for a ceremony. The returned
// subscription must be released by the caller; release is idempotent.
func (q *RedisQueue) Subscribe(ctx context.Context, ceremonyID string) (*Subscription, error) {
	pubsub := q.client.Subscribe(ctx, channelKey(ceremonyID))

	// Wait for subscription confirmation before handing out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "failed to subscribe to queue updates")
	}

	updates := make(chan IndexUpdate)
	sub := NewSubscription(updates, func() { pubsub.Close() })

	go func() {
		defer close(updates)
		for msg := range pubsub.Channel() {
			var update IndexUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				continue
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// AcquireSweepLock takes a short-lived distributed lock so that only one
// replica runs a given background sweep at a time.
func (q *RedisQueue) AcquireSweepLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := q.client.SetNX(ctx, "ceremony:lock:"+name, "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to acquire sweep lock")
	}
	return ok, nil
}

func (q *RedisQueue) ReleaseSweepLock(ctx context.Context, name string) error {
	if err := q.client.Del(ctx, "ceremony:lock:"+name).Err(); err != nil {
		return errors.Wrap(err, "failed to release sweep lock")
	}
	return nil
}
