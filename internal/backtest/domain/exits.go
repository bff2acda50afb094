package domain

import (
	"github.com/shopspring/decimal"
)

// ExitReason 平仓原因
const (
	ExitReasonStopLoss     = "stop_loss"
	ExitReasonTrailingStop = "trailing_stop"
	ExitReasonTakeProfit   = "take_profit"
	ExitReasonEndOfData    = "end_of_data"
)

// ExitSignal 平仓信号，由引擎转化为平仓订单
type ExitSignal struct {
	Symbol    string          `json:"symbol"`
	Reason    string          `json:"reason"`
	ExitPrice decimal.Decimal `json:"exit_price"`
}

// ExitEngine 逐 bar 评估每个在持仓位的离场条件。
// 判定以入场均价到当根收盘的百分比变动为准。
type ExitEngine struct {
	stopLossPct     decimal.Decimal
	takeProfitPct   decimal.Decimal
	trailingStopPct decimal.Decimal
}

// NewExitEngine 创建离场引擎。trailingStopPct 为零时关闭追踪止损。
func NewExitEngine(stopLossPct, takeProfitPct, trailingStopPct decimal.Decimal) *ExitEngine {
	return &ExitEngine{
		stopLossPct:     stopLossPct,
		takeProfitPct:   takeProfitPct,
		trailingStopPct: trailingStopPct,
	}
}

// Evaluate 评估单个持仓在当根 bar 的离场条件，无信号返回 nil。
// 每仓每 bar 最多一个信号。同根 bar 内多个条件同时满足时的裁决次序是固定契约：
// 先止损，再追踪止损，最后止盈。改变该次序会悄然改变历史回测结果。
func (e *ExitEngine) Evaluate(pos *Position, bar Bar) *ExitSignal {
	if pos == nil || !pos.Quantity.IsPositive() || pos.AvgEntryPrice.IsZero() {
		return nil
	}

	move := bar.Close.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice)

	if pos.Side == PositionSideLong {
		if move.LessThanOrEqual(e.stopLossPct.Neg()) {
			return &ExitSignal{Symbol: pos.Symbol, Reason: ExitReasonStopLoss, ExitPrice: bar.Close}
		}
		if sig := e.trailingLong(pos, bar); sig != nil {
			return sig
		}
		if move.GreaterThanOrEqual(e.takeProfitPct) {
			return &ExitSignal{Symbol: pos.Symbol, Reason: ExitReasonTakeProfit, ExitPrice: bar.Close}
		}
		return nil
	}

	// SHORT：上行触发止损，下行触发止盈
	if move.GreaterThanOrEqual(e.stopLossPct) {
		return &ExitSignal{Symbol: pos.Symbol, Reason: ExitReasonStopLoss, ExitPrice: bar.Close}
	}
	if sig := e.trailingShort(pos, bar); sig != nil {
		return sig
	}
	if move.LessThanOrEqual(e.takeProfitPct.Neg()) {
		return &ExitSignal{Symbol: pos.Symbol, Reason: ExitReasonTakeProfit, ExitPrice: bar.Close}
	}
	return nil
}

func (e *ExitEngine) trailingLong(pos *Position, bar Bar) *ExitSignal {
	if e.trailingStopPct.IsZero() || !pos.HighestClose.IsPositive() {
		return nil
	}
	retreat := pos.HighestClose.Sub(bar.Close).Div(pos.HighestClose)
	if retreat.GreaterThanOrEqual(e.trailingStopPct) {
		return &ExitSignal{Symbol: pos.Symbol, Reason: ExitReasonTrailingStop, ExitPrice: bar.Close}
	}
	return nil
}

func (e *ExitEngine) trailingShort(pos *Position, bar Bar) *ExitSignal {
	if e.trailingStopPct.IsZero() || !pos.LowestClose.IsPositive() {
		return nil
	}
	bounce := bar.Close.Sub(pos.LowestClose).Div(pos.LowestClose)
	if bounce.GreaterThanOrEqual(e.trailingStopPct) {
		return &ExitSignal{Symbol: pos.Symbol, Reason: ExitReasonTrailingStop, ExitPrice: bar.Close}
	}
	return nil
}
