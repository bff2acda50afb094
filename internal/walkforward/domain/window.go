// Package domain 实现滚动窗口前推验证：把多年行情切成连续的
// 训练/验证窗口，逐窗口跑回测并对比历史基线，发现策略退化。
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	backtest "github.com/wyfcoding/backtesting/internal/backtest/domain"
)

// ErrInvalidWindowConfig 窗口配置错误的哨兵
var ErrInvalidWindowConfig = errors.New("invalid walk-forward config")

// Config 前推验证配置
type Config struct {
	// 训练窗口长度（月）
	TrainMonths int `json:"train_months"`
	// 验证窗口长度（月），同时是窗口前进的步长
	ValidateMonths int `json:"validate_months"`
	// 主指标名，性能比与退化判定以它为准
	PrimaryMetric string `json:"primary_metric"`
	// 性能比低于该阈值标记退化
	DegradationThreshold decimal.Decimal `json:"degradation_threshold"`
	// 基线对比容差（百分数）
	TolerancePct decimal.Decimal `json:"tolerance_pct"`
	// 多 symbol 并行度
	MaxParallelSymbols int `json:"max_parallel_symbols"`
	// 每个窗口内回测引擎使用的配置
	Backtest backtest.Config `json:"backtest"`
}

// Validate 校验前推配置
func (c Config) Validate() error {
	if c.TrainMonths <= 0 {
		return fmt.Errorf("%w: train months must be positive, got %d", ErrInvalidWindowConfig, c.TrainMonths)
	}
	if c.ValidateMonths <= 0 {
		return fmt.Errorf("%w: validate months must be positive, got %d", ErrInvalidWindowConfig, c.ValidateMonths)
	}
	if !IsKnownMetric(c.PrimaryMetric) {
		return fmt.Errorf("%w: unknown primary metric %q", ErrInvalidWindowConfig, c.PrimaryMetric)
	}
	if !c.DegradationThreshold.IsPositive() {
		return fmt.Errorf("%w: degradation threshold must be positive, got %s", ErrInvalidWindowConfig, c.DegradationThreshold)
	}
	if !c.TolerancePct.IsPositive() {
		return fmt.Errorf("%w: tolerance pct must be positive, got %s", ErrInvalidWindowConfig, c.TolerancePct)
	}
	if c.MaxParallelSymbols <= 0 {
		return fmt.Errorf("%w: max parallel symbols must be positive, got %d", ErrInvalidWindowConfig, c.MaxParallelSymbols)
	}
	return c.Backtest.Validate()
}

// DefaultConfig 返回默认前推配置：12 个月训练 + 3 个月验证，
// 主指标夏普，性能比 0.5 以下判退化，基线容差 10%。
func DefaultConfig() Config {
	return Config{
		TrainMonths:          12,
		ValidateMonths:       3,
		PrimaryMetric:        MetricSharpeRatio,
		DegradationThreshold: decimal.RequireFromString("0.5"),
		TolerancePct:         decimal.NewFromInt(10),
		MaxParallelSymbols:   4,
		Backtest:             backtest.DefaultConfig(),
	}
}

// WindowSpec 单个前推窗口的时间边界，区间均为 [start, end)
type WindowSpec struct {
	Index         int       `json:"index"`
	TrainStart    time.Time `json:"train_start"`
	TrainEnd      time.Time `json:"train_end"`
	ValidateStart time.Time `json:"validate_start"`
	ValidateEnd   time.Time `json:"validate_end"`
}

// PartitionWindows 把 [start, end) 切成连续的训练/验证窗口。
// 验证窗口首尾相接不重叠：每个窗口前进一个验证窗口的长度。
// 数据不足一个完整窗口时返回空切片，不报错。
func PartitionWindows(start, end time.Time, trainMonths, validateMonths int) []WindowSpec {
	var windows []WindowSpec

	trainStart := start
	for i := 0; ; i++ {
		trainEnd := trainStart.AddDate(0, trainMonths, 0)
		validateEnd := trainEnd.AddDate(0, validateMonths, 0)
		if validateEnd.After(end) {
			break
		}
		windows = append(windows, WindowSpec{
			Index:         i,
			TrainStart:    trainStart,
			TrainEnd:      trainEnd,
			ValidateStart: trainEnd,
			ValidateEnd:   validateEnd,
		})
		trainStart = trainStart.AddDate(0, validateMonths, 0)
	}
	return windows
}

// SliceBars 返回时间戳落在 [start, end) 内的 bar 子序列。
// 输入必须已按时间升序，返回的是共享底层数组的切片。
func SliceBars(bars []backtest.Bar, start, end time.Time) []backtest.Bar {
	lo := len(bars)
	for i, b := range bars {
		if !b.Timestamp.Before(start) {
			lo = i
			break
		}
	}
	hi := len(bars)
	for i := lo; i < len(bars); i++ {
		if !bars[i].Timestamp.Before(end) {
			hi = i
			break
		}
	}
	return bars[lo:hi]
}

// WindowResult 单窗口结果：训练/验证两次回测的指标与退化判定
type WindowResult struct {
	Spec            WindowSpec               `json:"spec"`
	TrainMetrics    backtest.BacktestMetrics `json:"train_metrics"`
	ValidateMetrics backtest.BacktestMetrics `json:"validate_metrics"`
	// 主指标的验证/训练比。训练值 <= 0 时取 0 并直接判退化。
	PerformanceRatio decimal.Decimal `json:"performance_ratio"`
	Degraded         bool            `json:"degraded"`
	TrainBars        int             `json:"train_bars"`
	ValidateBars     int             `json:"validate_bars"`
}
