package domain

import "github.com/shopspring/decimal"

// CrossoverSource 双均线交叉信号源：快线上穿慢线做多，下穿做空。
// 止损价取入场收盘价按 stopPct 偏移。纯函数式地从 history 重算，
// 不携带跨 bar 状态，同一行情序列必然产出同一信号序列。
type CrossoverSource struct {
	fast    int
	slow    int
	stopPct decimal.Decimal
}

// NewCrossoverSource 创建双均线信号源。fast 必须小于 slow，stopPct 取 (0,1)。
func NewCrossoverSource(fast, slow int, stopPct decimal.Decimal) *CrossoverSource {
	if fast <= 0 {
		fast = 20
	}
	if slow <= fast {
		slow = fast * 2
	}
	if !stopPct.IsPositive() || stopPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		stopPct = decimal.RequireFromString("0.05")
	}
	return &CrossoverSource{fast: fast, slow: slow, stopPct: stopPct}
}

// OnBar 实现 SignalSource。慢线尚未形成或无交叉时返回空。
func (s *CrossoverSource) OnBar(index int, history []Bar) []Signal {
	// 交叉判定需要当前与前一根 bar 各自的两条均线
	if index < s.slow {
		return nil
	}

	fastNow := sma(history, index, s.fast)
	slowNow := sma(history, index, s.slow)
	fastPrev := sma(history, index-1, s.fast)
	slowPrev := sma(history, index-1, s.slow)

	bar := history[index]
	one := decimal.NewFromInt(1)

	crossedUp := fastPrev.LessThanOrEqual(slowPrev) && fastNow.GreaterThan(slowNow)
	crossedDown := fastPrev.GreaterThanOrEqual(slowPrev) && fastNow.LessThan(slowNow)

	switch {
	case crossedUp:
		return []Signal{{
			Symbol:    bar.Symbol,
			Side:      OrderSideBuy,
			StopPrice: bar.Close.Mul(one.Sub(s.stopPct)),
		}}
	case crossedDown:
		return []Signal{{
			Symbol:    bar.Symbol,
			Side:      OrderSideSell,
			StopPrice: bar.Close.Mul(one.Add(s.stopPct)),
		}}
	default:
		return nil
	}
}

// sma 截至 end（含）最近 n 根 bar 的收盘均值
func sma(history []Bar, end, n int) decimal.Decimal {
	sum := decimal.Zero
	for i := end - n + 1; i <= end; i++ {
		sum = sum.Add(history[i].Close)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
