package domain

import (
	"context"
	"time"
)

// 回测生命周期事件类型
const (
	EventBacktestStarted   = "backtest.started"
	EventBacktestCompleted = "backtest.completed"
	EventBacktestFailed    = "backtest.failed"
)

// BacktestEvent 发往消息队列的生命周期事件
type BacktestEvent struct {
	EventType string    `json:"event_type"`
	RunID     string    `json:"run_id"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	// 完成事件附带的关键指标摘要
	Metrics *BacktestMetrics `json:"metrics,omitempty"`
	// 失败事件附带的原因
	Error string `json:"error,omitempty"`
}

// EventPublisher 事件发布接口。发布失败只记录日志，不影响回测结果本身。
type EventPublisher interface {
	Publish(ctx context.Context, event BacktestEvent) error
}

// NoopPublisher 默认空实现，消息队列未配置时使用
type NoopPublisher struct{}

// Publish 实现 EventPublisher
func (NoopPublisher) Publish(context.Context, BacktestEvent) error { return nil }
