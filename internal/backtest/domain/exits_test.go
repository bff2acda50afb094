package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

// helper: long position entered at the given price
func tlong(entry string, qty int64) *Position {
	return &Position{
		Symbol:        "AAPL",
		Side:          PositionSideLong,
		Quantity:      decimal.NewFromInt(qty),
		AvgEntryPrice: dec(entry),
		HighestClose:  dec(entry),
		LowestClose:   dec(entry),
	}
}

func tshort(entry string, qty int64) *Position {
	p := tlong(entry, qty)
	p.Side = PositionSideShort
	return p
}

func texits() *ExitEngine {
	return NewExitEngine(dec("0.05"), dec("0.10"), dec("0.03"))
}

func TestEvaluate_NoSignalInsideBands(t *testing.T) {
	e := texits()
	pos := tlong("100", 10)

	if sig := e.Evaluate(pos, tbar(1, "101", "102", "100", "101", 1000)); sig != nil {
		t.Fatalf("expected no exit at +1%%, got %s", sig.Reason)
	}
}

func TestEvaluate_LongStopLoss(t *testing.T) {
	e := texits()
	pos := tlong("100", 10)

	sig := e.Evaluate(pos, tbar(1, "96", "97", "94", "95", 1000))
	if sig == nil || sig.Reason != ExitReasonStopLoss {
		t.Fatalf("expected stop_loss at -5%%, got %+v", sig)
	}
	if !sig.ExitPrice.Equal(dec("95")) {
		t.Fatalf("exit signal should carry the bar close, got %s", sig.ExitPrice)
	}
}

func TestEvaluate_LongTakeProfit(t *testing.T) {
	e := texits()
	pos := tlong("100", 10)

	sig := e.Evaluate(pos, tbar(1, "109", "111", "108", "110", 1000))
	if sig == nil || sig.Reason != ExitReasonTakeProfit {
		t.Fatalf("expected take_profit at +10%%, got %+v", sig)
	}
}

func TestEvaluate_TrailingStopAfterRunUp(t *testing.T) {
	e := texits()
	pos := tlong("100", 10)
	// 先涨到 108，再回撤 3%：108*0.97 = 104.76
	pos.HighestClose = dec("108")

	sig := e.Evaluate(pos, tbar(2, "105", "106", "104", "104.76", 1000))
	if sig == nil || sig.Reason != ExitReasonTrailingStop {
		t.Fatalf("expected trailing_stop on 3%% retreat from peak, got %+v", sig)
	}
}

func TestEvaluate_StopLossBeatsTrailingStop(t *testing.T) {
	e := texits()
	pos := tlong("100", 10)
	pos.HighestClose = dec("108")

	// 收盘 94：同时满足止损（-6%）与追踪止损（回撤 13%），裁决为止损
	sig := e.Evaluate(pos, tbar(2, "95", "96", "93", "94", 1000))
	if sig == nil || sig.Reason != ExitReasonStopLoss {
		t.Fatalf("stop_loss must win the tie, got %+v", sig)
	}
}

func TestEvaluate_TrailingStopBeatsTakeProfit(t *testing.T) {
	e := texits()
	pos := tlong("100", 10)
	// 峰值 120，收盘 112：止盈（+12%）与追踪止损（回撤 6.7%）同时满足
	pos.HighestClose = dec("120")

	sig := e.Evaluate(pos, tbar(2, "113", "114", "111", "112", 1000))
	if sig == nil || sig.Reason != ExitReasonTrailingStop {
		t.Fatalf("trailing_stop must beat take_profit, got %+v", sig)
	}
}

func TestEvaluate_TrailingDisabledWhenZero(t *testing.T) {
	e := NewExitEngine(dec("0.05"), dec("0.10"), decimal.Zero)
	pos := tlong("100", 10)
	pos.HighestClose = dec("108")

	// 回撤超过任何追踪阈值，但追踪止损关闭且未触及止损/止盈
	if sig := e.Evaluate(pos, tbar(2, "104", "105", "103", "104", 1000)); sig != nil {
		t.Fatalf("trailing disabled, expected no signal, got %s", sig.Reason)
	}
}

func TestEvaluate_ShortMirrors(t *testing.T) {
	e := texits()

	// 空头止损：价格上行 5%
	sig := e.Evaluate(tshort("100", 10), tbar(1, "104", "106", "103", "105", 1000))
	if sig == nil || sig.Reason != ExitReasonStopLoss {
		t.Fatalf("expected short stop_loss on +5%%, got %+v", sig)
	}

	// 空头止盈：价格下行 10%
	sig = e.Evaluate(tshort("100", 10), tbar(1, "91", "92", "89", "90", 1000))
	if sig == nil || sig.Reason != ExitReasonTakeProfit {
		t.Fatalf("expected short take_profit on -10%%, got %+v", sig)
	}

	// 空头追踪止损：从最低点反弹 3%
	pos := tshort("100", 10)
	pos.LowestClose = dec("90")
	sig = e.Evaluate(pos, tbar(2, "92", "93", "91", "92.70", 1000))
	if sig == nil || sig.Reason != ExitReasonTrailingStop {
		t.Fatalf("expected short trailing_stop on 3%% bounce, got %+v", sig)
	}
}

func TestEvaluate_NilAndEmptyPositions(t *testing.T) {
	e := texits()
	if sig := e.Evaluate(nil, tbar(1, "100", "101", "99", "100", 1000)); sig != nil {
		t.Fatalf("nil position must not signal")
	}
	empty := tlong("100", 0)
	if sig := e.Evaluate(empty, tbar(1, "90", "91", "89", "90", 1000)); sig != nil {
		t.Fatalf("zero-quantity position must not signal")
	}
}
