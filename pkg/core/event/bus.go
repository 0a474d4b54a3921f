package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Bus 进程内事件总线（对外导出）
// 基于Watermill的go channel Pub/Sub，非持久化：没有订阅者时
// 事件直接丢弃，发布方永不阻塞等待。近期事件在History环形
// 缓冲里额外留一份，供迟到的订阅者补读。
type Bus struct {
	pubsub  *gochannel.GoChannel
	logger  watermill.LoggerAdapter
	history *History
}

// NewBus 创建事件总线
func NewBus(debug bool) *Bus {
	logger := watermill.NewStdLogger(debug, false)
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)
	return &Bus{pubsub: pubsub, logger: logger, history: NewHistory(256)}
}

// History 获取近期事件缓冲（对外导出）
func (b *Bus) History() *History {
	return b.history
}

// Publish 发布事件（对外导出）
// 事件同时投递到类型主题与聚合主题，并记入历史缓冲。
func (b *Bus) Publish(_ context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = watermill.NewUUID()
	}
	b.history.Append(e)

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	for _, topic := range []string{string(e.Type), AllTopic} {
		msg := message.NewMessage(e.ID, payload)
		msg.Metadata.Set("event_type", string(e.Type))
		msg.Metadata.Set("run_id", e.RunID)
		msg.Metadata.Set("timestamp", e.Timestamp.Format(time.RFC3339Nano))

		if err := b.pubsub.Publish(topic, msg); err != nil {
			return fmt.Errorf("发布事件到 %s 失败: %w", topic, err)
		}
	}
	return nil
}

// Subscribe 订阅某个类型的事件（对外导出）
func (b *Bus) Subscribe(ctx context.Context, eventType Type) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, string(eventType))
}

// SubscribeAll 订阅全部事件（对外导出）
func (b *Bus) SubscribeAll(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, AllTopic)
}

// Close 关闭总线，断开全部订阅
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
