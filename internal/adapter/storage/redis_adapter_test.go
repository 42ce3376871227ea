package storage

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisAdapter_AllocationsView(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, "")
	client.Del(ctx, "allocations:redis-order")

	require.NoError(t, adapter.AddAllocation(ctx, "redis-order", "LAMP", "b2"))
	require.NoError(t, adapter.AddAllocation(ctx, "redis-order", "CHAIR", "b1"))

	views, err := adapter.Allocations(ctx, "redis-order")
	require.NoError(t, err)
	assert.Equal(t, []port.AllocationView{
		{OrderID: "redis-order", SKU: "CHAIR", BatchRef: "b1"},
		{OrderID: "redis-order", SKU: "LAMP", BatchRef: "b2"},
	}, views)

	require.NoError(t, adapter.RemoveAllocation(ctx, "redis-order", "CHAIR"))
	views, err = adapter.Allocations(ctx, "redis-order")
	require.NoError(t, err)
	assert.Len(t, views, 1)

	client.Del(ctx, "allocations:redis-order")
}

func TestRedisAdapter_Publish(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, "allocation:test-events")

	sub := client.Subscribe(ctx, adapter.EventChannel(), adapter.NotificationChannel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, adapter.Publish(ctx, domain.Allocated{OrderID: "o1", SKU: "LAMP", Quantity: 1, BatchRef: "b1"}))
	require.NoError(t, adapter.Notify(ctx, "LAMP", "Out of stock for LAMP"))

	ch := sub.Channel()
	for _, want := range []string{"Allocated", "Notification"} {
		select {
		case msg := <-ch:
			var env Envelope
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
			assert.Equal(t, want, env.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
