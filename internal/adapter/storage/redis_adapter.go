package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/port"
)

const (
	allocationsKeyPrefix = "allocations:"
	notificationsSuffix  = ":notifications"
	DefaultEventChannel  = "allocation:events"
)

// Envelope is the JSON shape of every message published on Redis.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type RedisAdapter struct {
	client  *redis.Client
	channel string
}

var _ port.EventPublisher = (*RedisAdapter)(nil)
var _ port.AllocationViewRepository = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client, channel string) *RedisAdapter {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &RedisAdapter{client: client, channel: channel}
}

// EventChannel is where events are published.
func (r *RedisAdapter) EventChannel() string {
	return r.channel
}

// NotificationChannel is where out-of-stock notifications are published.
func (r *RedisAdapter) NotificationChannel() string {
	return r.channel + notificationsSuffix
}

func (r *RedisAdapter) Publish(ctx context.Context, event domain.Event) error {
	payload, err := encodeEnvelope(event.MessageName(), event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisAdapter) Notify(ctx context.Context, sku, message string) error {
	payload, err := encodeEnvelope("Notification", map[string]string{"sku": sku, "message": message})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.NotificationChannel(), payload).Err()
}

func (r *RedisAdapter) AddAllocation(ctx context.Context, orderID, sku, batchRef string) error {
	return r.client.HSet(ctx, allocationsKeyPrefix+orderID, sku, batchRef).Err()
}

func (r *RedisAdapter) RemoveAllocation(ctx context.Context, orderID, sku string) error {
	return r.client.HDel(ctx, allocationsKeyPrefix+orderID, sku).Err()
}

func (r *RedisAdapter) Allocations(ctx context.Context, orderID string) ([]port.AllocationView, error) {
	fields, err := r.client.HGetAll(ctx, allocationsKeyPrefix+orderID).Result()
	if err != nil {
		return nil, fmt.Errorf("read allocations: %w", err)
	}

	out := make([]port.AllocationView, 0, len(fields))
	for sku, ref := range fields {
		out = append(out, port.AllocationView{OrderID: orderID, SKU: sku, BatchRef: ref})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func encodeEnvelope(kind string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	payload, err := json.Marshal(Envelope{Type: kind, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return payload, nil
}
