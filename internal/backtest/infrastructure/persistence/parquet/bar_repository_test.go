package parquet

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/backtesting/internal/backtest/domain"
)

func mkBar(symbol string, day int, close string) domain.Bar {
	return domain.Bar{
		Symbol:    symbol,
		Timeframe: "1d",
		Timestamp: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day),
		Open:      decimal.RequireFromString("100.01"),
		High:      decimal.RequireFromString("101.5"),
		Low:       decimal.RequireFromString("99.25"),
		Close:     decimal.RequireFromString(close),
		Volume:    decimal.NewFromInt(48000),
	}
}

func TestBarRepository_RangeQuery(t *testing.T) {
	repo := NewBarRepository(t.TempDir(), "us")
	ctx := context.Background()

	bars := []domain.Bar{
		mkBar("AAPL", 0, "100"),
		mkBar("AAPL", 1, "101"),
		mkBar("AAPL", 2, "102"),
		mkBar("AAPL", 3, "103"),
	}
	if err := repo.WriteBars(ctx, bars); err != nil {
		t.Fatalf("write bars: %v", err)
	}

	// 半开区间 [Jan 2, Jan 4)
	got, err := repo.GetBars(ctx, "AAPL", "1d",
		time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(got))
	}
	if !got[0].Close.Equal(decimal.RequireFromString("101")) {
		t.Fatalf("expected first close 101, got %s", got[0].Close)
	}
	// 十进制精确往返
	if !got[0].Open.Equal(decimal.RequireFromString("100.01")) {
		t.Fatalf("decimal open must round-trip exactly, got %s", got[0].Open)
	}
}

func TestBarRepository_MissingSymbolIsEmpty(t *testing.T) {
	repo := NewBarRepository(t.TempDir(), "us")
	got, err := repo.GetBars(context.Background(), "NOPE", "1d",
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("missing files are not an error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no bars, got %d", len(got))
	}
}

func TestBarRepository_RewriteDeduplicates(t *testing.T) {
	repo := NewBarRepository(t.TempDir(), "us")
	ctx := context.Background()

	if err := repo.WriteBars(ctx, []domain.Bar{mkBar("AAPL", 0, "100")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// 同一时间戳重写：新值覆盖旧值而不是追加重复行
	if err := repo.WriteBars(ctx, []domain.Bar{mkBar("AAPL", 0, "200"), mkBar("AAPL", 1, "201")}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	got, err := repo.GetBars(ctx, "AAPL", "1d",
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deduplicated bars, got %d", len(got))
	}
	if !got[0].Close.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("rewrite must win, got close %s", got[0].Close)
	}
}

func TestBarRepository_Symbols(t *testing.T) {
	repo := NewBarRepository(t.TempDir(), "us")
	ctx := context.Background()

	if err := repo.WriteBars(ctx, []domain.Bar{mkBar("MSFT", 0, "300"), mkBar("AAPL", 0, "100")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	symbols, err := repo.Symbols(ctx)
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "MSFT" {
		t.Fatalf("expected sorted [AAPL MSFT], got %v", symbols)
	}
}
