package domain

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	backtest "github.com/wyfcoding/backtesting/internal/backtest/domain"
)

// SuiteResult 多 symbol 套件结果：逐 symbol 汇总加基线对比
type SuiteResult struct {
	Results []*SymbolResult `json:"results"`
	// 逐 symbol 的基线对比，缺基线的 symbol 不出现在这里
	Comparisons map[string][]BaselineComparison `json:"comparisons,omitempty"`
	// 任一指标回归的 symbol 列表
	RegressedSymbols []string  `json:"regressed_symbols,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Suite 多 symbol 前推验证套件。symbol 级仿真互相独立，按配置并行度并发执行。
type Suite struct {
	runner    *Runner
	baselines BaselineRepository
	logger    *slog.Logger
}

// NewSuite 创建套件。baselines 可为 nil，此时跳过全部基线对比。
func NewSuite(runner *Runner, baselines BaselineRepository, logger *slog.Logger) *Suite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Suite{runner: runner, baselines: baselines, logger: logger}
}

// Run 对多组行情并行执行前推验证并做基线对比。
// 单个 symbol 失败使整个套件失败；基线缺失只记日志。
func (s *Suite) Run(ctx context.Context, barsBySymbol map[string][]backtest.Bar, newSource SourceFactory, sizer backtest.PositionSizer) (*SuiteResult, error) {
	result := &SuiteResult{
		Comparisons: make(map[string][]BaselineComparison),
		StartedAt:   time.Now().UTC(),
	}

	symbols := make([]string, 0, len(barsBySymbol))
	for sym := range barsBySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.runner.cfg.MaxParallelSymbols)

	for _, symbol := range symbols {
		bars := barsBySymbol[symbol]
		g.Go(func() error {
			r, err := s.runner.RunSymbol(gctx, symbol, bars, newSource, sizer)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Results = append(result.Results, r)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 结果顺序与并发调度无关
	sort.Slice(result.Results, func(i, j int) bool {
		return result.Results[i].Symbol < result.Results[j].Symbol
	})

	s.compareAll(ctx, result)
	result.FinishedAt = time.Now().UTC()
	return result, nil
}

func (s *Suite) compareAll(ctx context.Context, result *SuiteResult) {
	if s.baselines == nil {
		return
	}
	for _, r := range result.Results {
		if r.WindowCount == 0 {
			continue
		}
		baseline, err := s.baselines.Get(ctx, r.Symbol)
		if err != nil {
			if errors.Is(err, ErrBaselineNotFound) {
				// 缺基线不是错误：记一条日志继续
				s.logger.Info("no stored baseline, skipping comparison", "symbol", r.Symbol)
				continue
			}
			s.logger.Error("failed to load baseline", "symbol", r.Symbol, "error", err)
			continue
		}

		comparisons := Compare(baseline, r, s.runner.cfg.TolerancePct)
		result.Comparisons[r.Symbol] = comparisons
		for _, c := range comparisons {
			if c.Regressed {
				result.RegressedSymbols = append(result.RegressedSymbols, r.Symbol)
				s.logger.Warn("baseline regression detected",
					"symbol", c.Symbol,
					"metric", c.Metric,
					"baseline", c.BaselineValue.String(),
					"current", c.CurrentValue.String(),
					"change_pct", c.ChangePct.String())
				break
			}
		}
	}
}
