package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig 配置错误的哨兵，所有构造期校验失败都包装该错误
var ErrInvalidConfig = errors.New("invalid backtest config")

// Config 回测引擎配置。非法配置在构造期立即失败，绝不静默钳制。
type Config struct {
	// 初始资金，必须为正
	InitialCapital decimal.Decimal `json:"initial_capital"`
	// 止损比例，(0,1]
	StopLossPct decimal.Decimal `json:"stop_loss_pct"`
	// 止盈比例，(0,1]
	TakeProfitPct decimal.Decimal `json:"take_profit_pct"`
	// 追踪止损比例，0 表示关闭，否则 (0,1]
	TrailingStopPct decimal.Decimal `json:"trailing_stop_pct"`
	// 单笔风险占账户权益的百分数（如 1 表示 1%）
	RiskPerTradePct decimal.Decimal `json:"risk_per_trade_pct"`
	// 滑点/佣金参数
	Cost CostParams `json:"cost"`
	// 成交额均值的滚动窗口（bar 数）
	AvgVolumeWindow int `json:"avg_volume_window"`
	// 进度通知节流：每 N 根 bar
	ProgressEveryBars int `json:"progress_every_bars"`
	// 进度通知节流：每 T 秒
	ProgressEverySecs int `json:"progress_every_secs"`
	// 年化换算用的无风险利率（年化，小数）
	RiskFreeRate decimal.Decimal `json:"risk_free_rate"`
}

// Validate 校验配置，返回包装了 ErrInvalidConfig 的具体原因
func (c Config) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("%w: initial capital must be positive, got %s", ErrInvalidConfig, c.InitialCapital)
	}
	if !inUnitInterval(c.StopLossPct) {
		return fmt.Errorf("%w: stop loss pct must be in (0,1], got %s", ErrInvalidConfig, c.StopLossPct)
	}
	if !inUnitInterval(c.TakeProfitPct) {
		return fmt.Errorf("%w: take profit pct must be in (0,1], got %s", ErrInvalidConfig, c.TakeProfitPct)
	}
	if !c.TrailingStopPct.IsZero() && !inUnitInterval(c.TrailingStopPct) {
		return fmt.Errorf("%w: trailing stop pct must be 0 or in (0,1], got %s", ErrInvalidConfig, c.TrailingStopPct)
	}
	if c.RiskPerTradePct.IsNegative() || c.RiskPerTradePct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: risk per trade pct must be in [0,100], got %s", ErrInvalidConfig, c.RiskPerTradePct)
	}
	if c.AvgVolumeWindow <= 0 {
		return fmt.Errorf("%w: avg volume window must be positive, got %d", ErrInvalidConfig, c.AvgVolumeWindow)
	}
	if c.ProgressEveryBars < 0 || c.ProgressEverySecs < 0 {
		return fmt.Errorf("%w: progress intervals must be non-negative", ErrInvalidConfig)
	}
	if err := c.Cost.Validate(); err != nil {
		return err
	}
	return nil
}

func inUnitInterval(d decimal.Decimal) bool {
	return d.IsPositive() && d.LessThanOrEqual(decimal.NewFromInt(1))
}

// DefaultConfig 返回一份显式构造的默认配置。
// 调用方在回测请求省略参数时合并该值，而不是依赖任何隐式全局状态。
func DefaultConfig() Config {
	return Config{
		InitialCapital:    decimal.New(100000, 0),
		StopLossPct:       decimal.RequireFromString("0.05"),
		TakeProfitPct:     decimal.RequireFromString("0.10"),
		TrailingStopPct:   decimal.Zero,
		RiskPerTradePct:   decimal.NewFromInt(1),
		Cost:              DefaultCostParams(),
		AvgVolumeWindow:   20,
		ProgressEveryBars: 500,
		ProgressEverySecs: 5,
		RiskFreeRate:      decimal.Zero,
	}
}
