package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRegressed_HigherIsBetterDrops(t *testing.T) {
	// 胜率 0.60 -> 0.50：-16.67%，容差 10%
	change := d("0.50").Sub(d("0.60")).Div(d("0.60")).Mul(decimal.NewFromInt(100))
	if !Regressed(MetricWinRate, change, decimal.NewFromInt(10)) {
		t.Fatalf("16.7%% win-rate drop must regress at 10%% tolerance")
	}

	// 上升永不算回归
	if Regressed(MetricWinRate, d("25"), decimal.NewFromInt(10)) {
		t.Fatalf("higher-is-better improvement must not regress")
	}
	// 容差内的下降不算
	if Regressed(MetricWinRate, d("-8"), decimal.NewFromInt(10)) {
		t.Fatalf("drop within tolerance must not regress")
	}
}

func TestRegressed_LowerIsBetterRises(t *testing.T) {
	// 回撤上升 20% 超过 10% 容差
	if !Regressed(MetricMaxDrawdown, d("20"), decimal.NewFromInt(10)) {
		t.Fatalf("drawdown increase beyond tolerance must regress")
	}
	// 回撤下降是改善
	if Regressed(MetricMaxDrawdown, d("-30"), decimal.NewFromInt(10)) {
		t.Fatalf("drawdown decrease must not regress")
	}
}

func TestRegressed_UnknownMetricAbsolute(t *testing.T) {
	if !Regressed("turnover", d("-15"), decimal.NewFromInt(10)) {
		t.Fatalf("unknown metric must regress on |change| beyond tolerance")
	}
	if !Regressed("turnover", d("15"), decimal.NewFromInt(10)) {
		t.Fatalf("unknown metric must regress on |change| beyond tolerance")
	}
	if Regressed("turnover", d("5"), decimal.NewFromInt(10)) {
		t.Fatalf("unknown metric within tolerance must not regress")
	}
}

func TestCompare_SkipsZeroBaselineMetrics(t *testing.T) {
	baseline := &Baseline{
		Symbol:                  "AAPL",
		AvgValidateWinRate:      d("0.60"),
		AvgValidateProfitFactor: decimal.Zero, // 不可比
		AvgValidateSharpe:       d("1.2"),
		AvgValidateMaxDrawdown:  d("0.15"),
		StabilityScore:          d("0.8"),
	}
	current := &SymbolResult{
		Symbol:                  "AAPL",
		AvgValidateWinRate:      d("0.50"),
		AvgValidateProfitFactor: d("2.0"),
		AvgValidateSharpe:       d("1.3"),
		AvgValidateMaxDrawdown:  d("0.14"),
		StabilityScore:          d("0.8"),
	}

	comparisons := Compare(baseline, current, decimal.NewFromInt(10))

	if len(comparisons) != 4 {
		t.Fatalf("zero-baseline metric must be skipped, got %d comparisons", len(comparisons))
	}
	byMetric := make(map[string]BaselineComparison, len(comparisons))
	for _, c := range comparisons {
		byMetric[c.Metric] = c
	}
	if _, ok := byMetric[MetricProfitFactor]; ok {
		t.Fatalf("profit factor with zero baseline must not be compared")
	}

	wr := byMetric[MetricWinRate]
	if !wr.Regressed {
		t.Fatalf("win rate 0.60 -> 0.50 must regress, change %s", wr.ChangePct)
	}
	if !wr.ChangePct.Equal(d("-16.6667")) {
		t.Fatalf("expected change -16.6667, got %s", wr.ChangePct)
	}
	if byMetric[MetricSharpeRatio].Regressed {
		t.Fatalf("improved sharpe must not regress")
	}
	if byMetric[MetricMaxDrawdown].Regressed {
		t.Fatalf("reduced drawdown must not regress")
	}
}

func TestBaselineFromResult(t *testing.T) {
	r := &SymbolResult{
		Symbol:                  "MSFT",
		AvgValidateWinRate:      d("0.55"),
		AvgValidateProfitFactor: d("1.8"),
		AvgValidateSharpe:       d("1.1"),
		AvgValidateMaxDrawdown:  d("0.12"),
		WindowCount:             6,
		StabilityScore:          d("0.8333"),
	}
	b := BaselineFromResult(r, "v2")

	if b.Symbol != "MSFT" || b.Version != "v2" || b.WindowCount != 6 {
		t.Fatalf("baseline fields mismatch: %+v", b)
	}
	if !b.AvgValidateSharpe.Equal(d("1.1")) {
		t.Fatalf("expected sharpe 1.1, got %s", b.AvgValidateSharpe)
	}
	if b.CreatedAt.IsZero() {
		t.Fatalf("created_at must be set")
	}
}
