// Package broker wraps redis as the pipeline's pub/sub, key-value, counter and
// queue primitive.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("broker: key not found")

type Broker struct {
	client *redis.Client
	log    *zap.Logger
	now    func() time.Time
}

func New(client *redis.Client, log *zap.Logger) *Broker {
	return &Broker{client: client, log: log, now: time.Now}
}

// Client exposes the underlying redis client for middleware that needs raw commands.
func (b *Broker) Client() *redis.Client {
	return b.client
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish encodes data as a JSON object, stamps "id" and "timestamp" when absent
// and publishes it. It returns the number of subscribers that received it.
func (b *Broker) Publish(ctx context.Context, channel string, data any) (int64, error) {
	payload, err := b.envelope(data)
	if err != nil {
		return 0, fmt.Errorf("encode message for %s: %w", channel, err)
	}
	return b.client.Publish(ctx, channel, payload).Result()
}

func (b *Broker) envelope(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("message must be a JSON object: %w", err)
	}
	if _, ok := fields["id"]; !ok {
		fields["id"] = uuid.NewString()
	}
	if ts, ok := fields["timestamp"]; !ok || ts == "" {
		fields["timestamp"] = b.now().UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(fields)
}

// Set stores data as JSON with a TTL. A zero ttl keeps the key forever.
func (b *Broker) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, key, raw, ttl).Err()
}

// Get decodes the JSON value at key into dst.
func (b *Broker) Get(ctx context.Context, key string, dst any) error {
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (b *Broker) Incr(ctx context.Context, key string, n int64) (int64, error) {
	return b.client.IncrBy(ctx, key, n).Result()
}

func (b *Broker) IncrFloat(ctx context.Context, key string, n float64) (float64, error) {
	return b.client.IncrByFloat(ctx, key, n).Result()
}

// Floats reads several numeric keys at once; missing or malformed keys read as 0.
func (b *Broker) Floats(ctx context.Context, keys ...string) ([]float64, error) {
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			out[i] = f
		}
	}
	return out, nil
}

// PushCapped prepends item to a list, keeps only the newest limit entries and
// refreshes the list TTL.
func (b *Broker) PushCapped(ctx context.Context, key string, item any, limit int64, ttl time.Duration) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, limit-1)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Range returns raw JSON list entries between start and stop inclusive.
func (b *Broker) Range(ctx context.Context, key string, start, stop int64) ([]json.RawMessage, error) {
	items, err := b.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, json.RawMessage(it))
	}
	return out, nil
}

// QueueItem is one entry of a keyed sorted-set queue.
type QueueItem struct {
	ID       string
	Priority float64
	Payload  json.RawMessage
}

func queueItemsKey(queue string) string {
	return queue + ":items"
}

// AddToQueue stores item under id in a sorted-set queue ordered by priority
// (lowest first). The set holds ids; payloads live in a companion hash so an
// entry can be removed by id alone. Adding an existing id replaces it.
func (b *Broker) AddToQueue(ctx context.Context, queue, id string, item any, priority float64) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.ZAdd(ctx, queue, redis.Z{Score: priority, Member: id})
	pipe.HSet(ctx, queueItemsKey(queue), id, string(raw))
	_, err = pipe.Exec(ctx)
	return err
}

// PeekQueue returns up to count items with the lowest priority without
// removing them. An id whose payload is missing comes back with a nil Payload.
func (b *Broker) PeekQueue(ctx context.Context, queue string, count int64) ([]QueueItem, error) {
	if count <= 0 {
		return nil, nil
	}
	zs, err := b.client.ZRangeWithScores(ctx, queue, 0, count-1).Result()
	if err != nil || len(zs) == 0 {
		return nil, err
	}

	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i], _ = z.Member.(string)
	}
	vals, err := b.client.HMGet(ctx, queueItemsKey(queue), ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]QueueItem, len(zs))
	for i, z := range zs {
		out[i] = QueueItem{ID: ids[i], Priority: z.Score}
		if s, ok := vals[i].(string); ok {
			out[i].Payload = json.RawMessage(s)
		}
	}
	return out, nil
}

// RemoveFromQueue deletes ids and their payloads. Unknown ids are ignored.
func (b *Broker) RemoveFromQueue(ctx context.Context, queue string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, queue, members...)
	pipe.HDel(ctx, queueItemsKey(queue), ids...)
	_, err := pipe.Exec(ctx)
	return err
}

// QueueLen reports the number of items waiting in a sorted-set queue.
func (b *Broker) QueueLen(ctx context.Context, queue string) (int64, error) {
	return b.client.ZCard(ctx, queue).Result()
}
