package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	backtest "github.com/wyfcoding/backtesting/internal/backtest/domain"
)

// SourceFactory 为每次窗口内回测创建一个全新的信号源。
// 窗口切片的下标空间各不相同，复用带状态的信号源会串味。
type SourceFactory func(symbol string) backtest.SignalSource

// SymbolResult 单 symbol 的前推验证汇总
type SymbolResult struct {
	Symbol  string         `json:"symbol"`
	Windows []WindowResult `json:"windows"`
	// 跨窗口验证指标均值
	AvgValidateWinRate      decimal.Decimal `json:"avg_validate_win_rate"`
	AvgValidateProfitFactor decimal.Decimal `json:"avg_validate_profit_factor"`
	AvgValidateSharpe       decimal.Decimal `json:"avg_validate_sharpe"`
	AvgValidateMaxDrawdown  decimal.Decimal `json:"avg_validate_max_drawdown"`
	WindowCount             int             `json:"window_count"`
	// 稳定性评分 = 未退化窗口占比，[0,1]
	StabilityScore decimal.Decimal `json:"stability_score"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// Runner 单 symbol 前推验证执行器。symbol 间无共享状态，可安全并行。
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// NewRunner 创建执行器，配置非法立即失败
func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// RunSymbol 对一个 symbol 的完整 bar 序列执行前推验证：
// 逐窗口在训练切片与验证切片上各跑一次回测，计算主指标的性能比。
func (r *Runner) RunSymbol(ctx context.Context, symbol string, bars []backtest.Bar, newSource SourceFactory, sizer backtest.PositionSizer) (*SymbolResult, error) {
	result := &SymbolResult{Symbol: symbol, GeneratedAt: time.Now().UTC()}
	if len(bars) == 0 {
		r.logger.Warn("no bars for symbol, skipping walk-forward", "symbol", symbol)
		return result, nil
	}

	// 右端点取最后一根 bar 之后，保证恰好覆盖到末尾的窗口成立
	start := bars[0].Timestamp
	end := bars[len(bars)-1].Timestamp.Add(time.Second)
	specs := PartitionWindows(start, end, r.cfg.TrainMonths, r.cfg.ValidateMonths)
	if len(specs) == 0 {
		r.logger.Warn("data range too short for a single window",
			"symbol", symbol,
			"start", start,
			"end", end,
			"train_months", r.cfg.TrainMonths,
			"validate_months", r.cfg.ValidateMonths)
		return result, nil
	}

	for _, spec := range specs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		trainBars := SliceBars(bars, spec.TrainStart, spec.TrainEnd)
		validateBars := SliceBars(bars, spec.ValidateStart, spec.ValidateEnd)
		if len(trainBars) == 0 || len(validateBars) == 0 {
			r.logger.Warn("window has an empty slice, skipping",
				"symbol", symbol,
				"window", spec.Index,
				"train_bars", len(trainBars),
				"validate_bars", len(validateBars))
			continue
		}

		trainMetrics, err := r.runSlice(ctx, symbol, spec.Index, "train", trainBars, newSource, sizer)
		if err != nil {
			return result, err
		}
		validateMetrics, err := r.runSlice(ctx, symbol, spec.Index, "validate", validateBars, newSource, sizer)
		if err != nil {
			return result, err
		}

		wr := WindowResult{
			Spec:            spec,
			TrainMetrics:    trainMetrics,
			ValidateMetrics: validateMetrics,
			TrainBars:       len(trainBars),
			ValidateBars:    len(validateBars),
		}
		wr.PerformanceRatio, wr.Degraded = r.performanceRatio(trainMetrics, validateMetrics)
		result.Windows = append(result.Windows, wr)

		r.logger.Info("walk-forward window completed",
			"symbol", symbol,
			"window", spec.Index,
			"performance_ratio", wr.PerformanceRatio.String(),
			"degraded", wr.Degraded)
	}

	r.aggregate(result)
	return result, nil
}

func (r *Runner) runSlice(ctx context.Context, symbol string, window int, phase string, bars []backtest.Bar, newSource SourceFactory, sizer backtest.PositionSizer) (backtest.BacktestMetrics, error) {
	engine, err := backtest.NewEngine(r.cfg.Backtest, r.logger, nil)
	if err != nil {
		return backtest.BacktestMetrics{}, err
	}
	var source backtest.SignalSource
	if newSource != nil {
		source = newSource(symbol)
	}
	runID := fmt.Sprintf("%s-w%d-%s", symbol, window, phase)
	res, err := engine.Run(ctx, runID, symbol, bars, source, sizer)
	if err != nil {
		return backtest.BacktestMetrics{}, fmt.Errorf("window %d %s backtest: %w", window, phase, err)
	}
	return res.Metrics, nil
}

// performanceRatio 计算主指标的验证/训练比并判定退化。
// 训练指标 <= 0 时比值无意义：取 0 并直接判退化。
func (r *Runner) performanceRatio(train, validate backtest.BacktestMetrics) (decimal.Decimal, bool) {
	trainVal := MetricValue(train, r.cfg.PrimaryMetric)
	validateVal := MetricValue(validate, r.cfg.PrimaryMetric)

	if !trainVal.IsPositive() {
		return decimal.Zero, true
	}
	ratio := validateVal.Div(trainVal).Round(4)
	return ratio, ratio.LessThan(r.cfg.DegradationThreshold)
}

func (r *Runner) aggregate(result *SymbolResult) {
	result.WindowCount = len(result.Windows)
	if result.WindowCount == 0 {
		return
	}

	winRate := decimal.Zero
	profitFactor := decimal.Zero
	sharpe := decimal.Zero
	drawdown := decimal.Zero
	healthy := 0
	for _, w := range result.Windows {
		winRate = winRate.Add(w.ValidateMetrics.WinRate)
		profitFactor = profitFactor.Add(w.ValidateMetrics.ProfitFactor)
		sharpe = sharpe.Add(w.ValidateMetrics.SharpeRatio)
		drawdown = drawdown.Add(w.ValidateMetrics.MaxDrawdown)
		if !w.Degraded {
			healthy++
		}
	}

	n := decimal.NewFromInt(int64(result.WindowCount))
	result.AvgValidateWinRate = winRate.Div(n).Round(4)
	result.AvgValidateProfitFactor = profitFactor.Div(n).Round(4)
	result.AvgValidateSharpe = sharpe.Div(n).Round(4)
	result.AvgValidateMaxDrawdown = drawdown.Div(n).Round(4)
	result.StabilityScore = decimal.NewFromInt(int64(healthy)).Div(n).Round(4)
}
