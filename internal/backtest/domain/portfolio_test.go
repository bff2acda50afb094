package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// helper: already-filled order, i days after epoch
func tfill(i int, side OrderSide, qty int64, price, commission string) *Order {
	at := time.Unix(0, 0).UTC().Add(time.Duration(i) * 24 * time.Hour)
	px := dec(price)
	return &Order{
		OrderID:    "t",
		Symbol:     "AAPL",
		Type:       OrderTypeMarket,
		Side:       side,
		Quantity:   decimal.NewFromInt(qty),
		Status:     OrderStatusFilled,
		CreatedAt:  at,
		FilledAt:   &at,
		FillPrice:  &px,
		Commission: dec(commission),
	}
}

func TestApplyFill_RejectsUnfilledOrder(t *testing.T) {
	pf := NewPortfolio(decimal.New(100000, 0))
	order := tfill(0, OrderSideBuy, 100, "150", "0.5")
	order.Status = OrderStatusPending

	if _, err := pf.ApplyFill(order); err == nil {
		t.Fatalf("pending order must not be applied")
	}
}

func TestApplyFill_EntryDebitsCashAndFixesRisk(t *testing.T) {
	pf := NewPortfolio(decimal.New(100000, 0))

	order := tfill(0, OrderSideBuy, 100, "150", "0.5")
	stop := dec("145")
	order.StopPrice = &stop

	if _, err := pf.ApplyFill(order); err != nil {
		t.Fatalf("apply fill: %v", err)
	}

	// 现金 = 100000 - 150*100 - 0.5
	if !pf.Cash().Equal(dec("84999.5")) {
		t.Fatalf("expected cash 84999.5, got %s", pf.Cash())
	}

	pos := pf.Position("AAPL")
	if pos == nil {
		t.Fatalf("expected open position")
	}
	if pos.Side != PositionSideLong {
		t.Fatalf("expected LONG, got %s", pos.Side)
	}
	// 风险额度 = |150-145| * 100 = 500，入场后固定
	if !pos.RiskAmount.Equal(dec("500")) {
		t.Fatalf("expected risk amount 500, got %s", pos.RiskAmount)
	}
}

func TestApplyFill_PyramidingAveragesEntry(t *testing.T) {
	pf := NewPortfolio(decimal.New(100000, 0))

	if _, err := pf.ApplyFill(tfill(0, OrderSideBuy, 100, "100", "0")); err != nil {
		t.Fatalf("apply fill: %v", err)
	}
	if _, err := pf.ApplyFill(tfill(1, OrderSideBuy, 100, "110", "0")); err != nil {
		t.Fatalf("apply fill: %v", err)
	}

	pos := pf.Position("AAPL")
	if !pos.Quantity.Equal(dec("200")) {
		t.Fatalf("expected quantity 200, got %s", pos.Quantity)
	}
	if !pos.AvgEntryPrice.Equal(dec("105")) {
		t.Fatalf("expected avg entry 105, got %s", pos.AvgEntryPrice)
	}
}

func TestApplyFill_ExitClosesLongAndRecordsTrade(t *testing.T) {
	pf := NewPortfolio(decimal.New(100000, 0))

	entry := tfill(0, OrderSideBuy, 100, "150", "0.5")
	stop := dec("145")
	entry.StopPrice = &stop
	if _, err := pf.ApplyFill(entry); err != nil {
		t.Fatalf("entry: %v", err)
	}

	exit := tfill(5, OrderSideSell, 100, "160", "0.5")
	exit.ExitReason = ExitReasonTakeProfit
	trade, err := pf.ApplyFill(exit)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if trade == nil {
		t.Fatalf("full exit must produce a trade")
	}

	// 毛利 = (160-150)*100 = 1000，净利 = 1000-1
	if !trade.GrossPnL.Equal(dec("1000")) {
		t.Fatalf("expected gross 1000, got %s", trade.GrossPnL)
	}
	if !trade.NetPnL.Equal(dec("999")) {
		t.Fatalf("expected net 999, got %s", trade.NetPnL)
	}
	// R = 999 / 500 = 1.998
	if !trade.RMultiple.Equal(dec("1.998")) {
		t.Fatalf("expected R 1.998, got %s", trade.RMultiple)
	}
	if trade.ExitReason != ExitReasonTakeProfit {
		t.Fatalf("expected take_profit, got %s", trade.ExitReason)
	}
	if pf.Position("AAPL") != nil {
		t.Fatalf("position must be removed after full exit")
	}
	// 现金回到 100000 + 999
	if !pf.Cash().Equal(dec("100999")) {
		t.Fatalf("expected cash 100999, got %s", pf.Cash())
	}
}

func TestApplyFill_ShortRoundTrip(t *testing.T) {
	pf := NewPortfolio(decimal.New(100000, 0))

	entry := tfill(0, OrderSideSell, 50, "200", "0")
	if _, err := pf.ApplyFill(entry); err != nil {
		t.Fatalf("entry: %v", err)
	}
	pos := pf.Position("AAPL")
	if pos.Side != PositionSideShort {
		t.Fatalf("expected SHORT, got %s", pos.Side)
	}

	exit := tfill(3, OrderSideBuy, 50, "180", "0")
	exit.ExitReason = ExitReasonTakeProfit
	trade, err := pf.ApplyFill(exit)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	// 空头毛利 = (200-180)*50 = 1000
	if !trade.GrossPnL.Equal(dec("1000")) {
		t.Fatalf("expected short gross 1000, got %s", trade.GrossPnL)
	}
	if !pf.Cash().Equal(dec("101000")) {
		t.Fatalf("expected cash 101000, got %s", pf.Cash())
	}
}

func TestApplyFill_ExitQuantityExceedsPosition(t *testing.T) {
	pf := NewPortfolio(decimal.New(100000, 0))
	if _, err := pf.ApplyFill(tfill(0, OrderSideBuy, 100, "100", "0")); err != nil {
		t.Fatalf("entry: %v", err)
	}

	exit := tfill(1, OrderSideSell, 150, "110", "0")
	exit.ExitReason = ExitReasonStopLoss
	if _, err := pf.ApplyFill(exit); err == nil {
		t.Fatalf("oversized exit should fail")
	}
}

func TestApplyFill_ZeroRiskYieldsZeroRMultiple(t *testing.T) {
	pf := NewPortfolio(decimal.New(100000, 0))

	// 无止损入场：风险额度为零
	if _, err := pf.ApplyFill(tfill(0, OrderSideBuy, 100, "100", "0")); err != nil {
		t.Fatalf("entry: %v", err)
	}
	exit := tfill(1, OrderSideSell, 100, "110", "0")
	exit.ExitReason = ExitReasonTakeProfit
	trade, err := pf.ApplyFill(exit)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if !trade.RMultiple.IsZero() {
		t.Fatalf("zero risk must give R multiple 0, got %s", trade.RMultiple)
	}
}

func TestMarkToMarket_TouchesOnlyMatchingSymbol(t *testing.T) {
	pf := NewPortfolio(decimal.New(100000, 0))
	if _, err := pf.ApplyFill(tfill(0, OrderSideBuy, 100, "100", "0")); err != nil {
		t.Fatalf("entry: %v", err)
	}

	other := tbar(1, "50", "51", "49", "50", 1000)
	other.Symbol = "MSFT"
	pf.MarkToMarket(other)
	if !pf.Position("AAPL").CurrentPrice.Equal(dec("100")) {
		t.Fatalf("foreign symbol must not move the position price")
	}

	pf.MarkToMarket(tbar(1, "104", "106", "103", "105", 1000))
	pos := pf.Position("AAPL")
	if !pos.CurrentPrice.Equal(dec("105")) {
		t.Fatalf("expected current price 105, got %s", pos.CurrentPrice)
	}
	if !pos.UnrealizedPnL.Equal(dec("500")) {
		t.Fatalf("expected unrealized 500, got %s", pos.UnrealizedPnL)
	}
	if !pos.HighestClose.Equal(dec("105")) {
		t.Fatalf("expected highest close 105, got %s", pos.HighestClose)
	}
}

func TestEquity_CashPlusPositions(t *testing.T) {
	pf := NewPortfolio(decimal.New(100000, 0))
	if _, err := pf.ApplyFill(tfill(0, OrderSideBuy, 100, "100", "0")); err != nil {
		t.Fatalf("entry: %v", err)
	}
	pf.MarkToMarket(tbar(1, "104", "106", "103", "105", 1000))

	// 现金 90000 + 持仓 100*105
	if !pf.Equity().Equal(dec("100500")) {
		t.Fatalf("expected equity 100500, got %s", pf.Equity())
	}
}

func TestHeat_SumsOpenRiskOverEquity(t *testing.T) {
	pf := NewPortfolio(decimal.New(100000, 0))

	entry := tfill(0, OrderSideBuy, 100, "100", "0")
	stop := dec("95")
	entry.StopPrice = &stop
	if _, err := pf.ApplyFill(entry); err != nil {
		t.Fatalf("entry: %v", err)
	}
	pf.MarkToMarket(tbar(1, "100", "101", "99", "100", 1000))

	// 风险 500 / 权益 100000 * 100 = 0.5%
	if !pf.Heat().Equal(dec("0.5")) {
		t.Fatalf("expected heat 0.5, got %s", pf.Heat())
	}
}
