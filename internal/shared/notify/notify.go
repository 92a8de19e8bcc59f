package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event 审批流事件
// 通过 Redis 发布给网关侧的消息推送服务，驱动站内信和待办提醒
type Event struct {
	EventType  string                 `json:"event_type"`
	CRID       string                 `json:"cr_id,omitempty"`
	POChildID  string                 `json:"po_child_id,omitempty"`
	Actor      string                 `json:"actor"`
	TargetRole string                 `json:"target_role,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// 事件类型
const (
	EventCRSubmitted       = "cr.submitted"
	EventCRApproved        = "cr.approved"
	EventCRRejected        = "cr.rejected"
	EventCRResent          = "cr.resent"
	EventCRSplit           = "cr.split"
	EventVendorApproved    = "po.vendor_approved"
	EventVendorRejected    = "po.vendor_rejected"
	EventPurchaseCompleted = "po.purchase_completed"
	EventRoutedToStore     = "po.routed_to_store"
)

// Notifier 事件发布器
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// RedisNotifier 基于 Redis PUBLISH 的事件发布器
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisNotifier(client *redis.Client, channel string, logger *zap.Logger) *RedisNotifier {
	if channel == "" {
		channel = "erp:events"
	}
	return &RedisNotifier{client: client, channel: channel, logger: logger}
}

// Publish 发布事件
// 发布失败只记日志，不影响主流程
func (n *RedisNotifier) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to marshal event", zap.String("event_type", event.EventType), zap.Error(err))
		return
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.logger.Warn("Failed to publish event",
			zap.String("event_type", event.EventType),
			zap.String("channel", n.channel),
			zap.Error(err))
	}
}

// Nop 空发布器，测试和无 Redis 场景使用
type Nop struct{}

func (Nop) Publish(ctx context.Context, event Event) {}
