package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrBaselineNotFound 基线缺失。缺失不是错误场景：套件记日志后跳过对比。
var ErrBaselineNotFound = errors.New("baseline not found")

// Baseline 按 symbol 存储的验证指标基线。
// 只通过显式的"另存为新基线"操作写入，常规运行绝不自动覆盖。
type Baseline struct {
	Symbol                  string          `json:"symbol"`
	Version                 string          `json:"version"`
	CreatedAt               time.Time       `json:"created_at"`
	AvgValidateWinRate      decimal.Decimal `json:"avg_validate_win_rate"`
	AvgValidateProfitFactor decimal.Decimal `json:"avg_validate_profit_factor"`
	AvgValidateSharpe       decimal.Decimal `json:"avg_validate_sharpe"`
	AvgValidateMaxDrawdown  decimal.Decimal `json:"avg_validate_max_drawdown"`
	WindowCount             int             `json:"window_count"`
	StabilityScore          decimal.Decimal `json:"stability_score"`
}

// BaselineRepository 基线仓储接口
type BaselineRepository interface {
	// Get 按 symbol 取当前基线，缺失返回 ErrBaselineNotFound
	Get(ctx context.Context, symbol string) (*Baseline, error)
	// Save 显式保存新基线，覆盖该 symbol 的旧版本
	Save(ctx context.Context, baseline *Baseline) error
	// List 返回全部已存基线
	List(ctx context.Context) ([]*Baseline, error)
}

// BaselineComparison 单指标对比结果
type BaselineComparison struct {
	Symbol        string          `json:"symbol"`
	Metric        string          `json:"metric"`
	BaselineValue decimal.Decimal `json:"baseline_value"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	ChangePct     decimal.Decimal `json:"change_pct"`
	TolerancePct  decimal.Decimal `json:"tolerance_pct"`
	Regressed     bool            `json:"regressed"`
}

// BaselineFromResult 由本轮汇总结果构造新基线
func BaselineFromResult(r *SymbolResult, version string) *Baseline {
	return &Baseline{
		Symbol:                  r.Symbol,
		Version:                 version,
		CreatedAt:               time.Now().UTC(),
		AvgValidateWinRate:      r.AvgValidateWinRate,
		AvgValidateProfitFactor: r.AvgValidateProfitFactor,
		AvgValidateSharpe:       r.AvgValidateSharpe,
		AvgValidateMaxDrawdown:  r.AvgValidateMaxDrawdown,
		WindowCount:             r.WindowCount,
		StabilityScore:          r.StabilityScore,
	}
}

// Compare 逐指标对比基线与本轮结果。
// 基线值为 0 的指标无法计算百分比变化，跳过不比。
func Compare(baseline *Baseline, current *SymbolResult, tolerancePct decimal.Decimal) []BaselineComparison {
	pairs := []struct {
		metric   string
		base     decimal.Decimal
		now      decimal.Decimal
	}{
		{MetricWinRate, baseline.AvgValidateWinRate, current.AvgValidateWinRate},
		{MetricProfitFactor, baseline.AvgValidateProfitFactor, current.AvgValidateProfitFactor},
		{MetricSharpeRatio, baseline.AvgValidateSharpe, current.AvgValidateSharpe},
		{MetricMaxDrawdown, baseline.AvgValidateMaxDrawdown, current.AvgValidateMaxDrawdown},
		{MetricStabilityScore, baseline.StabilityScore, current.StabilityScore},
	}

	out := make([]BaselineComparison, 0, len(pairs))
	for _, p := range pairs {
		if p.base.IsZero() {
			continue
		}
		changePct := p.now.Sub(p.base).Div(p.base).Mul(decimal.NewFromInt(100)).Round(4)
		out = append(out, BaselineComparison{
			Symbol:        current.Symbol,
			Metric:        p.metric,
			BaselineValue: p.base,
			CurrentValue:  p.now,
			ChangePct:     changePct,
			TolerancePct:  tolerancePct,
			Regressed:     Regressed(p.metric, changePct, tolerancePct),
		})
	}
	return out
}
