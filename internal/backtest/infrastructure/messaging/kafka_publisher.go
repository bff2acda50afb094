// Package messaging 回测生命周期事件的 Kafka 发布。
package messaging

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/backtesting/internal/backtest/domain"
	"github.com/wyfcoding/backtesting/pkg/mq"
)

var _ domain.EventPublisher = (*KafkaEventPublisher)(nil)

// KafkaEventPublisher 把回测事件发往 Kafka，key 取 run_id 保证同一回测的事件有序
type KafkaEventPublisher struct {
	producer *mq.KafkaProducer
	logger   *slog.Logger
}

// NewKafkaEventPublisher 创建发布器
func NewKafkaEventPublisher(producer *mq.KafkaProducer, logger *slog.Logger) *KafkaEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaEventPublisher{producer: producer, logger: logger}
}

// Publish 发布事件。发布失败只记日志返回错误，由调用方决定是否忽略。
func (p *KafkaEventPublisher) Publish(ctx context.Context, event domain.BacktestEvent) error {
	if err := p.producer.SendMessage(ctx, event.RunID, event); err != nil {
		p.logger.Error("failed to publish backtest event",
			"event_type", event.EventType,
			"run_id", event.RunID,
			"error", err)
		return err
	}
	return nil
}
