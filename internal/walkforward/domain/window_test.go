package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	backtest "github.com/wyfcoding/backtesting/internal/backtest/domain"
)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestPartitionWindows_RollsByValidateLength(t *testing.T) {
	// 2020 全年 + 2021 上半年，12 个月训练 + 3 个月验证
	windows := PartitionWindows(day(2020, 1, 1), day(2021, 7, 1), 12, 3)

	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}

	w0 := windows[0]
	if !w0.TrainStart.Equal(day(2020, 1, 1)) || !w0.TrainEnd.Equal(day(2021, 1, 1)) {
		t.Fatalf("window 0 train range wrong: %v .. %v", w0.TrainStart, w0.TrainEnd)
	}
	// 验证窗口紧接训练窗口，无空隙
	if !w0.ValidateStart.Equal(w0.TrainEnd) {
		t.Fatalf("validate must start where train ends")
	}
	if !w0.ValidateEnd.Equal(day(2021, 4, 1)) {
		t.Fatalf("window 0 validate end wrong: %v", w0.ValidateEnd)
	}

	// 窗口前进一个验证窗口的长度：验证期互不重叠
	w1 := windows[1]
	if !w1.TrainStart.Equal(day(2020, 4, 1)) {
		t.Fatalf("window 1 must advance by validate months, got %v", w1.TrainStart)
	}
	if !w1.ValidateStart.Equal(w0.ValidateEnd) {
		t.Fatalf("validate periods must be back-to-back")
	}
}

func TestPartitionWindows_TooShortRange(t *testing.T) {
	// 6 个月数据放不下 12+3 的窗口
	windows := PartitionWindows(day(2020, 1, 1), day(2020, 7, 1), 12, 3)
	if len(windows) != 0 {
		t.Fatalf("expected no windows, got %d", len(windows))
	}
}

func TestSliceBars_HalfOpenInterval(t *testing.T) {
	bars := make([]backtest.Bar, 10)
	for i := range bars {
		bars[i] = backtest.Bar{
			Symbol:    "AAPL",
			Timestamp: day(2020, 1, 1).Add(time.Duration(i) * 24 * time.Hour),
			Open:      decimal.NewFromInt(100),
			High:      decimal.NewFromInt(101),
			Low:       decimal.NewFromInt(99),
			Close:     decimal.NewFromInt(100),
			Volume:    decimal.NewFromInt(1000),
		}
	}

	got := SliceBars(bars, day(2020, 1, 3), day(2020, 1, 6))
	if len(got) != 3 {
		t.Fatalf("expected 3 bars in [Jan 3, Jan 6), got %d", len(got))
	}
	if !got[0].Timestamp.Equal(day(2020, 1, 3)) {
		t.Fatalf("start must be inclusive, got %v", got[0].Timestamp)
	}
	if !got[2].Timestamp.Equal(day(2020, 1, 5)) {
		t.Fatalf("end must be exclusive, got %v", got[2].Timestamp)
	}

	if n := len(SliceBars(bars, day(2021, 1, 1), day(2021, 2, 1))); n != 0 {
		t.Fatalf("out-of-range slice must be empty, got %d", n)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	bad := DefaultConfig()
	bad.TrainMonths = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("zero train months must fail")
	}

	bad = DefaultConfig()
	bad.PrimaryMetric = "cagr_per_lunar_cycle"
	if err := bad.Validate(); err == nil {
		t.Fatalf("unknown primary metric must fail")
	}

	bad = DefaultConfig()
	bad.Backtest.InitialCapital = decimal.Zero
	if err := bad.Validate(); err == nil {
		t.Fatalf("invalid nested backtest config must fail")
	}
}
