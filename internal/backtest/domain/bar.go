// Package domain 实现确定性的事件驱动回测引擎：
// 按 bar 逐根回放历史行情，将外部信号转化为模拟订单、成交、持仓与绩效指标。
// 所有金额与比率使用 decimal 精确计算，核心循环单线程、严格按时间推进。
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar 表示一根 K 线，构造后不可变
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Spread 返回 high-low 价差
func (b Bar) Spread() decimal.Decimal {
	return b.High.Sub(b.Low)
}

// DollarVolume 返回按收盘价估算的成交额
func (b Bar) DollarVolume() decimal.Decimal {
	return b.Close.Mul(b.Volume)
}

// Validate 校验 bar 数据质量。无效 bar 由引擎跳过并记录原因，而不是中止整个回测。
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar has empty symbol")
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("bar has zero timestamp")
	}
	if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
		return fmt.Errorf("bar has non-positive OHLC: open=%s high=%s low=%s close=%s",
			b.Open, b.High, b.Low, b.Close)
	}
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("bar has inverted high/low: high=%s low=%s", b.High, b.Low)
	}
	if b.Open.GreaterThan(b.High) || b.Open.LessThan(b.Low) {
		return fmt.Errorf("bar open outside high/low range: open=%s", b.Open)
	}
	if b.Close.GreaterThan(b.High) || b.Close.LessThan(b.Low) {
		return fmt.Errorf("bar close outside high/low range: close=%s", b.Close)
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("bar has negative volume: %s", b.Volume)
	}
	return nil
}
