package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func liquidAvg() decimal.Decimal { return decimal.New(2000000, 0) }

func TestSubmit_RejectsInvalidOrders(t *testing.T) {
	sim := NewOrderSimulator(NewCostModel(DefaultCostParams()))
	bar := tbar(0, "100", "101", "99", "100", 1000000)

	if _, err := sim.Submit("AAPL", OrderTypeMarket, OrderSideBuy, decimal.Zero, bar, nil); err == nil {
		t.Fatalf("zero quantity should be rejected")
	}
	if _, err := sim.Submit("AAPL", OrderTypeMarket, OrderSideBuy, decimal.NewFromInt(-5), bar, nil); err == nil {
		t.Fatalf("negative quantity should be rejected")
	}
	if _, err := sim.Submit("AAPL", OrderTypeLimit, OrderSideBuy, decimal.NewFromInt(10), bar, nil); err == nil {
		t.Fatalf("limit order without limit price should be rejected")
	}
	if sim.PendingCount() != 0 {
		t.Fatalf("rejected orders must not enter the pending queue")
	}
}

func TestFillPending_NeverFillsOnSubmissionBar(t *testing.T) {
	sim := NewOrderSimulator(NewCostModel(DefaultCostParams()))
	bar0 := tbar(0, "100", "101", "99", "100", 1000000)

	order, err := sim.Submit("AAPL", OrderTypeMarket, OrderSideBuy, decimal.NewFromInt(100), bar0, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// 同一根 bar 不得成交
	if filled := sim.FillPending(bar0, liquidAvg()); len(filled) != 0 {
		t.Fatalf("order filled on its submission bar")
	}
	if order.Status != OrderStatusPending {
		t.Fatalf("expected order to stay pending, got %s", order.Status)
	}

	bar1 := tbar(1, "102", "103", "101", "102.50", 1000000)
	filled := sim.FillPending(bar1, liquidAvg())
	if len(filled) != 1 {
		t.Fatalf("expected 1 fill on the next bar, got %d", len(filled))
	}
}

func TestFillPending_MarketBuyAddsSlippage(t *testing.T) {
	sim := NewOrderSimulator(NewCostModel(DefaultCostParams()))
	bar0 := tbar(0, "150", "151", "149", "150.50", 1000000)
	bar1 := tbar(1, "151.50", "153.00", "151.00", "152.00", 1000000)

	if _, err := sim.Submit("AAPL", OrderTypeMarket, OrderSideBuy, decimal.NewFromInt(100), bar0, nil); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	filled := sim.FillPending(bar1, liquidAvg())
	if len(filled) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(filled))
	}

	// 151.50 + 151.50*0.0002 = 151.5303
	if !filled[0].FillPrice.Equal(dec("151.5303")) {
		t.Fatalf("expected fill at 151.5303, got %s", filled[0].FillPrice)
	}
	if !filled[0].Slippage.Equal(dec("0.0303")) {
		t.Fatalf("expected slippage 0.0303, got %s", filled[0].Slippage)
	}
	if !filled[0].Commission.Equal(dec("0.5")) {
		t.Fatalf("expected commission 0.5, got %s", filled[0].Commission)
	}
}

func TestFillPending_MarketSellSubtractsSlippage(t *testing.T) {
	sim := NewOrderSimulator(NewCostModel(DefaultCostParams()))
	bar0 := tbar(0, "150", "151", "149", "150.50", 1000000)
	bar1 := tbar(1, "151.50", "153.00", "151.00", "152.00", 1000000)

	if _, err := sim.Submit("AAPL", OrderTypeMarket, OrderSideSell, decimal.NewFromInt(100), bar0, nil); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	filled := sim.FillPending(bar1, liquidAvg())
	if !filled[0].FillPrice.Equal(dec("151.4697")) {
		t.Fatalf("expected fill at 151.4697, got %s", filled[0].FillPrice)
	}
}

func TestFillPending_LimitOrderExactPriceNoSlippage(t *testing.T) {
	sim := NewOrderSimulator(NewCostModel(DefaultCostParams()))
	bar0 := tbar(0, "100", "101", "99", "100", 1000000)
	limit := dec("98.50")

	order, err := sim.Submit("AAPL", OrderTypeLimit, OrderSideBuy, decimal.NewFromInt(100), bar0, &limit)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// 未触价：low 99 > 98.50
	bar1 := tbar(1, "100", "101", "99", "100.50", 1000000)
	if filled := sim.FillPending(bar1, liquidAvg()); len(filled) != 0 {
		t.Fatalf("untouched limit order must stay pending")
	}

	// 触价：low 98 <= 98.50，以限价成交且零滑点
	bar2 := tbar(2, "99", "100", "98", "99.50", 1000000)
	filled := sim.FillPending(bar2, liquidAvg())
	if len(filled) != 1 {
		t.Fatalf("expected limit fill, got %d", len(filled))
	}
	if !order.FillPrice.Equal(limit) {
		t.Fatalf("limit order must fill at exactly the limit price, got %s", order.FillPrice)
	}
	if !order.Slippage.IsZero() {
		t.Fatalf("limit fill must carry zero slippage, got %s", order.Slippage)
	}
}

func TestFillPending_LimitSellTouchesOnHigh(t *testing.T) {
	sim := NewOrderSimulator(NewCostModel(DefaultCostParams()))
	bar0 := tbar(0, "100", "101", "99", "100", 1000000)
	limit := dec("102")

	if _, err := sim.Submit("AAPL", OrderTypeLimit, OrderSideSell, decimal.NewFromInt(50), bar0, &limit); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	bar1 := tbar(1, "101", "102", "100", "101.50", 1000000)
	filled := sim.FillPending(bar1, liquidAvg())
	if len(filled) != 1 {
		t.Fatalf("sell limit should fill when high touches the limit")
	}
	if !filled[0].FillPrice.Equal(limit) {
		t.Fatalf("expected fill at 102, got %s", filled[0].FillPrice)
	}
}

func TestCancelAll_RejectsPending(t *testing.T) {
	sim := NewOrderSimulator(NewCostModel(DefaultCostParams()))
	bar := tbar(0, "100", "101", "99", "100", 1000000)
	limit := dec("50")

	if _, err := sim.Submit("AAPL", OrderTypeLimit, OrderSideBuy, decimal.NewFromInt(10), bar, &limit); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := sim.Submit("AAPL", OrderTypeMarket, OrderSideBuy, decimal.NewFromInt(10), bar, nil); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	cancelled := sim.CancelAll()
	if len(cancelled) != 2 {
		t.Fatalf("expected 2 cancelled orders, got %d", len(cancelled))
	}
	for _, o := range cancelled {
		if o.Status != OrderStatusRejected {
			t.Fatalf("cancelled order should be REJECTED, got %s", o.Status)
		}
	}
	if sim.PendingCount() != 0 {
		t.Fatalf("pending queue should be empty after CancelAll")
	}
}
