package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBusPublishSubscribe 订阅方收到完整事件
func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(false)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, EventTaskScheduled)
	require.NoError(t, err)

	e := New(EventTaskScheduled, "run-1", &TaskScheduledPayload{
		Label:      "build-android",
		TaskID:     "Task0000000000000000001",
		Kind:       "build",
		WorkerType: "b-linux",
	})
	require.NoError(t, bus.Publish(ctx, e))

	select {
	case msg := <-msgs:
		msg.Ack()
		assert.Equal(t, string(EventTaskScheduled), msg.Metadata.Get("event_type"))
		assert.Equal(t, "run-1", msg.Metadata.Get("run_id"))

		decoded, err := Decode(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, EventTaskScheduled, decoded.Type)
		assert.Equal(t, "run-1", decoded.RunID)
		assert.NotEmpty(t, decoded.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("等待事件超时")
	}
}

// TestBusAllTopic 聚合主题收到所有类型
func TestBusAllTopic(t *testing.T) {
	bus := NewBus(false)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all, err := bus.SubscribeAll(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, New(EventRunStarted, "run-1", nil)))
	require.NoError(t, bus.Publish(ctx, New(EventRunCompleted, "run-1", &RunCompletedPayload{Scheduled: 3})))

	var types []Type
	for i := 0; i < 2; i++ {
		select {
		case msg := <-all:
			msg.Ack()
			decoded, err := Decode(msg.Payload)
			require.NoError(t, err)
			types = append(types, decoded.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("等待事件超时")
		}
	}
	assert.Equal(t, []Type{EventRunStarted, EventRunCompleted}, types)
}

// TestBusNoSubscriberDoesNotBlock 无订阅者时发布不阻塞
func TestBusNoSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(false)
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = bus.Publish(context.Background(), New(EventCacheHit, "run-1", nil))
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("发布被阻塞")
	}
}
