package domain

import (
	"github.com/shopspring/decimal"

	backtest "github.com/wyfcoding/backtesting/internal/backtest/domain"
)

// 基线与主指标使用的指标名
const (
	MetricWinRate        = "win_rate"
	MetricProfitFactor   = "profit_factor"
	MetricSharpeRatio    = "sharpe_ratio"
	MetricMaxDrawdown    = "max_drawdown"
	MetricStabilityScore = "stability_score"
)

// IsKnownMetric 判断指标名是否可作为主指标
func IsKnownMetric(name string) bool {
	switch name {
	case MetricWinRate, MetricProfitFactor, MetricSharpeRatio, MetricMaxDrawdown:
		return true
	}
	return false
}

// MetricValue 按指标名从回测指标中取值
func MetricValue(m backtest.BacktestMetrics, name string) decimal.Decimal {
	switch name {
	case MetricWinRate:
		return m.WinRate
	case MetricProfitFactor:
		return m.ProfitFactor
	case MetricSharpeRatio:
		return m.SharpeRatio
	case MetricMaxDrawdown:
		return m.MaxDrawdown
	}
	return decimal.Zero
}

// 指标极性。越高越好的指标下降才算退步，越低越好的指标（回撤）上升才算退步，
// 未列入任何一边的指标按绝对变化判定。
var (
	higherIsBetter = map[string]bool{
		MetricWinRate:        true,
		MetricProfitFactor:   true,
		MetricSharpeRatio:    true,
		MetricStabilityScore: true,
	}
	lowerIsBetter = map[string]bool{
		MetricMaxDrawdown: true,
	}
)

// Regressed 按指标极性与容差判定是否回归。
// changePct 为相对基线的百分比变化（可正可负）。
func Regressed(metric string, changePct, tolerancePct decimal.Decimal) bool {
	switch {
	case higherIsBetter[metric]:
		return changePct.LessThan(tolerancePct.Neg())
	case lowerIsBetter[metric]:
		return changePct.GreaterThan(tolerancePct)
	default:
		return changePct.Abs().GreaterThan(tolerancePct)
	}
}
