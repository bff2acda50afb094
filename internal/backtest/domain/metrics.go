package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// EquityCurvePoint 权益曲线点，每处理一根 bar 追加一个，只增不改
type EquityCurvePoint struct {
	Timestamp      time.Time       `json:"timestamp"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Cash           decimal.Decimal `json:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	DailyReturn    decimal.Decimal `json:"daily_return"`
}

// BacktestMetrics 回测绩效指标。整体从权益曲线与交易列表重算，从不增量修改。
type BacktestMetrics struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"`
	AvgRMultiple  decimal.Decimal `json:"avg_r_multiple"`
	ProfitFactor  decimal.Decimal `json:"profit_factor"`
	TotalReturn   decimal.Decimal `json:"total_return_pct"`
	CAGR          decimal.Decimal `json:"cagr"`
	SharpeRatio   decimal.Decimal `json:"sharpe_ratio"`
	MaxDrawdown   decimal.Decimal `json:"max_drawdown"`
	// 最大回撤持续 bar 数：距上一峰值之后处于回撤状态的最长连续区间
	MaxDrawdownDuration int `json:"max_drawdown_duration"`
}

const (
	tradingDaysPerYear = 252
	metricPlaces       = 4
)

// CalculateMetrics 由权益曲线、交易列表与初始资金计算绩效指标。
// 纯函数：相同输入产生逐位相同的输出。所有退化情形（零交易、零亏损、
// 零方差）一律回落到 0 哨兵值，绝不产生 NaN 或无穷。
func CalculateMetrics(equityCurve []EquityCurvePoint, trades []Trade, initialCapital decimal.Decimal, riskFreeRate decimal.Decimal) BacktestMetrics {
	m := BacktestMetrics{}

	m.TotalTrades = len(trades)
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	sumR := decimal.Zero
	for _, t := range trades {
		if t.NetPnL.IsPositive() {
			m.WinningTrades++
			grossProfit = grossProfit.Add(t.NetPnL)
		} else if t.NetPnL.IsNegative() {
			m.LosingTrades++
			grossLoss = grossLoss.Add(t.NetPnL.Abs())
		}
		// 持平交易两边都不计
		sumR = sumR.Add(t.RMultiple)
	}
	if m.TotalTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).
			Div(decimal.NewFromInt(int64(m.TotalTrades))).Round(metricPlaces)
		m.AvgRMultiple = sumR.Div(decimal.NewFromInt(int64(m.TotalTrades))).Round(metricPlaces)
	}
	// 无亏损时利润因子取 0 而非无穷——既定契约，调用方不得解读为无限优势
	if grossLoss.IsPositive() {
		m.ProfitFactor = grossProfit.Div(grossLoss).Round(metricPlaces)
	}

	if len(equityCurve) == 0 {
		return m
	}

	final := equityCurve[len(equityCurve)-1].PortfolioValue
	if initialCapital.IsPositive() {
		m.TotalReturn = final.Sub(initialCapital).Div(initialCapital).
			Mul(decimal.NewFromInt(100)).Round(metricPlaces)
	}

	m.CAGR = calculateCAGR(equityCurve, initialCapital)
	m.SharpeRatio = calculateSharpe(equityCurve, riskFreeRate)
	m.MaxDrawdown, m.MaxDrawdownDuration = calculateDrawdown(equityCurve)

	return m
}

// calculateCAGR 年化复合增长率。指数运算走浮点，结果按约定精度转回 decimal。
// 年限或首末值非正时返回 0。
func calculateCAGR(equityCurve []EquityCurvePoint, initialCapital decimal.Decimal) decimal.Decimal {
	if len(equityCurve) < 2 || !initialCapital.IsPositive() {
		return decimal.Zero
	}
	final := equityCurve[len(equityCurve)-1].PortfolioValue
	if !final.IsPositive() {
		return decimal.Zero
	}

	span := equityCurve[len(equityCurve)-1].Timestamp.Sub(equityCurve[0].Timestamp)
	years := span.Hours() / (24 * 365.25)
	if years <= 0 {
		return decimal.Zero
	}

	ratio, _ := final.Div(initialCapital).Float64()
	if ratio <= 0 {
		return decimal.Zero
	}
	cagr := math.Pow(ratio, 1/years) - 1
	if math.IsNaN(cagr) || math.IsInf(cagr, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(cagr).Round(metricPlaces)
}

// calculateSharpe 夏普比率，按 252 个交易日年化。
// 样本不足两点或收益无波动时返回 0，绝不产生 NaN/Inf。
func calculateSharpe(equityCurve []EquityCurvePoint, riskFreeRate decimal.Decimal) decimal.Decimal {
	if len(equityCurve) < 2 {
		return decimal.Zero
	}

	returns := make([]float64, 0, len(equityCurve)-1)
	for _, p := range equityCurve[1:] {
		r, _ := p.DailyReturn.Float64()
		returns = append(returns, r)
	}
	if len(returns) < 2 {
		return decimal.Zero
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 || math.IsNaN(std) {
		return decimal.Zero
	}

	rf, _ := riskFreeRate.Float64()
	sharpe := (mean - rf/tradingDaysPerYear) / std * math.Sqrt(tradingDaysPerYear)
	if math.IsNaN(sharpe) || math.IsInf(sharpe, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(sharpe).Round(metricPlaces)
}

// calculateDrawdown 跟踪滚动峰值计算最大回撤（0..1 的比例）与最长回撤持续 bar 数。
// 任何新峰值都将当前持续时间清零，即使并非从最深处完全恢复。
func calculateDrawdown(equityCurve []EquityCurvePoint) (decimal.Decimal, int) {
	if len(equityCurve) == 0 {
		return decimal.Zero, 0
	}

	peak := equityCurve[0].PortfolioValue
	maxDD := decimal.Zero
	maxDuration := 0
	current := 0

	for _, p := range equityCurve {
		if p.PortfolioValue.GreaterThan(peak) {
			peak = p.PortfolioValue
			current = 0
			continue
		}
		if peak.IsPositive() {
			dd := peak.Sub(p.PortfolioValue).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
			if dd.IsPositive() {
				current++
				if current > maxDuration {
					maxDuration = current
				}
			} else {
				current = 0
			}
		}
	}
	return maxDD.Round(metricPlaces), maxDuration
}
