package domain

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	backtest "github.com/wyfcoding/backtesting/internal/backtest/domain"
)

type memBaselines struct {
	data map[string]*Baseline
}

func (m *memBaselines) Get(_ context.Context, symbol string) (*Baseline, error) {
	if b, ok := m.data[symbol]; ok {
		return b, nil
	}
	return nil, ErrBaselineNotFound
}

func (m *memBaselines) Save(_ context.Context, b *Baseline) error {
	m.data[b.Symbol] = b
	return nil
}

func (m *memBaselines) List(context.Context) ([]*Baseline, error) {
	out := make([]*Baseline, 0, len(m.data))
	for _, b := range m.data {
		out = append(out, b)
	}
	return out, nil
}

func TestSuite_RunComparesAgainstStoredBaselines(t *testing.T) {
	repo := &memBaselines{data: map[string]*Baseline{
		"AAPL": {
			Symbol:             "AAPL",
			Version:            "v1",
			AvgValidateWinRate: d("0.60"),
			StabilityScore:     d("0.8"),
		},
	}}
	suite := NewSuite(trunner(t), repo, nil)

	barsBySymbol := map[string][]backtest.Bar{
		"AAPL": flatBars("AAPL", day(2020, 1, 1), 570),
		"MSFT": flatBars("MSFT", day(2020, 1, 1), 570),
	}
	result, err := suite.Run(context.Background(), barsBySymbol, nil, backtest.RiskPerTradeSizer{})
	if err != nil {
		t.Fatalf("suite run: %v", err)
	}

	if len(result.Results) != 2 {
		t.Fatalf("expected 2 symbol results, got %d", len(result.Results))
	}
	// 结果按 symbol 排序，和并发调度顺序无关
	if result.Results[0].Symbol != "AAPL" || result.Results[1].Symbol != "MSFT" {
		t.Fatalf("results must be sorted by symbol: %s, %s",
			result.Results[0].Symbol, result.Results[1].Symbol)
	}

	// AAPL 有基线：胜率 0.60 -> 0 等于 -100%，必然回归
	comparisons, ok := result.Comparisons["AAPL"]
	if !ok || len(comparisons) == 0 {
		t.Fatalf("expected comparisons for AAPL")
	}
	regressed := false
	for _, c := range comparisons {
		if c.Metric == MetricWinRate && c.Regressed {
			regressed = true
		}
	}
	if !regressed {
		t.Fatalf("total win-rate collapse must regress: %+v", comparisons)
	}
	if len(result.RegressedSymbols) != 1 || result.RegressedSymbols[0] != "AAPL" {
		t.Fatalf("expected AAPL flagged, got %v", result.RegressedSymbols)
	}

	// MSFT 无基线：跳过对比而非报错
	if _, ok := result.Comparisons["MSFT"]; ok {
		t.Fatalf("symbol without baseline must be skipped")
	}
}

func TestSuite_NilBaselineRepoSkipsComparison(t *testing.T) {
	suite := NewSuite(trunner(t), nil, nil)
	barsBySymbol := map[string][]backtest.Bar{
		"AAPL": flatBars("AAPL", day(2020, 1, 1), 570),
	}
	result, err := suite.Run(context.Background(), barsBySymbol, nil, backtest.RiskPerTradeSizer{})
	if err != nil {
		t.Fatalf("suite run: %v", err)
	}
	if len(result.Comparisons) != 0 {
		t.Fatalf("nil repo must produce no comparisons")
	}
}

func TestSuite_SaveAsNewBaselineIsExplicit(t *testing.T) {
	repo := &memBaselines{data: map[string]*Baseline{}}
	suite := NewSuite(trunner(t), repo, nil)

	barsBySymbol := map[string][]backtest.Bar{
		"AAPL": flatBars("AAPL", day(2020, 1, 1), 570),
	}
	result, err := suite.Run(context.Background(), barsBySymbol, nil, backtest.RiskPerTradeSizer{})
	if err != nil {
		t.Fatalf("suite run: %v", err)
	}

	// 常规运行不落基线
	if len(repo.data) != 0 {
		t.Fatalf("a normal run must never auto-save a baseline")
	}

	// 显式另存
	b := BaselineFromResult(result.Results[0], "v1")
	if err := repo.Save(context.Background(), b); err != nil {
		t.Fatalf("save baseline: %v", err)
	}
	got, err := repo.Get(context.Background(), "AAPL")
	if err != nil || got.Version != "v1" {
		t.Fatalf("expected stored baseline v1, got %+v err %v", got, err)
	}
}

func TestSuite_ComparisonUsesTolerance(t *testing.T) {
	// 确认容差取自配置：把容差拉大到 200%，-100% 的变化不再回归
	cfg := DefaultConfig()
	cfg.TolerancePct = decimal.NewFromInt(200)
	runner, err := NewRunner(cfg, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	repo := &memBaselines{data: map[string]*Baseline{
		"AAPL": {Symbol: "AAPL", AvgValidateWinRate: d("0.60")},
	}}
	suite := NewSuite(runner, repo, nil)

	result, err := suite.Run(context.Background(), map[string][]backtest.Bar{
		"AAPL": flatBars("AAPL", day(2020, 1, 1), 570),
	}, nil, backtest.RiskPerTradeSizer{})
	if err != nil {
		t.Fatalf("suite run: %v", err)
	}
	if len(result.RegressedSymbols) != 0 {
		t.Fatalf("change within widened tolerance must not regress: %v", result.RegressedSymbols)
	}
}
