package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vibecheck-moments/internal/models"
	rediscommon "vibecheck-moments/pkg/redis"
)

type fakeApprovalStore struct {
	mu      sync.Mutex
	updates map[string]string
	err     error
}

func newFakeApprovalStore() *fakeApprovalStore {
	return &fakeApprovalStore{updates: make(map[string]string)}
}

func (f *fakeApprovalStore) UpdateApprovalStatus(ctx context.Context, momentID, status string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[momentID] = status
	return nil
}

type fakeApprovalPublisher struct {
	mu     sync.Mutex
	events []models.ApprovalEvent
}

func (f *fakeApprovalPublisher) PublishApproval(ctx context.Context, ev models.ApprovalEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

const testApprovalStream = "vibecheck:events:approvals"

func setupApprovalConsumer(t *testing.T) (*redis.Client, *fakeApprovalStore, *fakeApprovalPublisher, *ApprovalConsumer) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := newFakeApprovalStore()
	publisher := &fakeApprovalPublisher{}
	c := NewApprovalConsumer(client, store, publisher, zap.NewNop(),
		testApprovalStream, "moments-service", "consumer-1", 10)

	require.NoError(t, rediscommon.CreateConsumerGroup(context.Background(), client, testApprovalStream, "moments-service"))

	return client, store, publisher, c
}

func pushCommand(t *testing.T, client *redis.Client, cmd ApprovalCommand) {
	t.Helper()
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)
	err = client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: testApprovalStream,
		Values: map[string]interface{}{"data": string(payload)},
	}).Err()
	require.NoError(t, err)
}

func TestApprovalConsumer_ApproveUpdatesAndBroadcasts(t *testing.T) {
	client, store, publisher, c := setupApprovalConsumer(t)

	pushCommand(t, client, ApprovalCommand{Action: "approve", MomentID: "m_1", By: "ops@example.com", At: 1700000000})

	require.NoError(t, c.consumeCommands(context.Background()))

	store.mu.Lock()
	assert.Equal(t, models.ApprovalApproved, store.updates["m_1"])
	store.mu.Unlock()

	publisher.mu.Lock()
	require.Len(t, publisher.events, 1)
	assert.Equal(t, models.EventMomentApproved, publisher.events[0].Type)
	assert.Equal(t, "m_1", publisher.events[0].MomentID)
	assert.Equal(t, "ops@example.com", publisher.events[0].By)
	publisher.mu.Unlock()
}

func TestApprovalConsumer_HoldBroadcastsHeldEvent(t *testing.T) {
	client, store, publisher, c := setupApprovalConsumer(t)

	pushCommand(t, client, ApprovalCommand{Action: "hold", MomentID: "m_2", By: "legal@example.com"})

	require.NoError(t, c.consumeCommands(context.Background()))

	store.mu.Lock()
	assert.Equal(t, models.ApprovalHeld, store.updates["m_2"])
	store.mu.Unlock()

	publisher.mu.Lock()
	require.Len(t, publisher.events, 1)
	assert.Equal(t, models.EventMomentHeld, publisher.events[0].Type)
	publisher.mu.Unlock()
}

func TestApprovalConsumer_SendToExecDoesNotBroadcast(t *testing.T) {
	client, store, publisher, c := setupApprovalConsumer(t)

	pushCommand(t, client, ApprovalCommand{Action: "send_to_exec", MomentID: "m_3", By: "producer"})

	require.NoError(t, c.consumeCommands(context.Background()))

	store.mu.Lock()
	assert.Equal(t, models.ApprovalSentToExec, store.updates["m_3"])
	store.mu.Unlock()

	publisher.mu.Lock()
	assert.Empty(t, publisher.events)
	publisher.mu.Unlock()
}

// pendingCount 消费者组当前未确认消息数
func pendingCount(t *testing.T, client *redis.Client) int64 {
	t.Helper()
	pending, err := client.XPending(context.Background(), testApprovalStream, "moments-service").Result()
	require.NoError(t, err)
	return pending.Count
}

func TestApprovalConsumer_UnknownActionSkipped(t *testing.T) {
	client, store, publisher, c := setupApprovalConsumer(t)

	pushCommand(t, client, ApprovalCommand{Action: "veto", MomentID: "m_4", By: "someone"})

	// 消费本身不报错，坏指令记日志后跳过
	require.NoError(t, c.consumeCommands(context.Background()))

	store.mu.Lock()
	assert.Empty(t, store.updates)
	store.mu.Unlock()
	publisher.mu.Lock()
	assert.Empty(t, publisher.events)
	publisher.mu.Unlock()

	// 坏指令已被确认，不会滞留在 pending 列表中反复重投
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestApprovalConsumer_MalformedPayloadAcked(t *testing.T) {
	client, store, _, c := setupApprovalConsumer(t)

	err := client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: testApprovalStream,
		Values: map[string]interface{}{"data": "{not json"},
	}).Err()
	require.NoError(t, err)

	require.NoError(t, c.consumeCommands(context.Background()))

	store.mu.Lock()
	assert.Empty(t, store.updates)
	store.mu.Unlock()
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestApprovalConsumer_StoreFailureLeavesMessagePending(t *testing.T) {
	client, store, _, c := setupApprovalConsumer(t)
	store.err = errors.New("database unavailable")

	pushCommand(t, client, ApprovalCommand{Action: "approve", MomentID: "m_retry", By: "ops"})

	require.NoError(t, c.consumeCommands(context.Background()))

	// 落库失败可重试，消息不确认，保留在 pending 列表等待重投
	assert.Equal(t, int64(1), pendingCount(t, client))
	store.mu.Lock()
	assert.Empty(t, store.updates)
	store.mu.Unlock()
}

func TestApprovalConsumer_FlatFieldFallback(t *testing.T) {
	client, store, _, c := setupApprovalConsumer(t)

	// 没有 data 包装的扁平字段消息
	err := client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: testApprovalStream,
		Values: map[string]interface{}{
			"action":    "approve",
			"moment_id": "m_5",
			"by":        "ops",
		},
	}).Err()
	require.NoError(t, err)

	require.NoError(t, c.consumeCommands(context.Background()))

	store.mu.Lock()
	assert.Equal(t, models.ApprovalApproved, store.updates["m_5"])
	store.mu.Unlock()
}
