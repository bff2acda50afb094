package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/wyfcoding/backtesting/internal/backtest/domain"
)

var _ domain.ResultRepository = (*ResultRepository)(nil)

// ResultRepository 回测结果仓储的 MySQL 实现
type ResultRepository struct {
	db *gorm.DB
}

// NewResultRepository 创建仓储
func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// AutoMigrate 建表
func (r *ResultRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&BacktestResultModel{}, &TradeModel{}, &EquityPointModel{})
}

// SaveResult 落库一次完整的回测结果：主表一行加明细批量写入，同一事务
func (r *ResultRepository) SaveResult(ctx context.Context, result *domain.Result) error {
	model, err := toModel(result)
	if err != nil {
		return err
	}

	trades := make([]TradeModel, 0, len(result.Trades))
	for _, t := range result.Trades {
		trades = append(trades, TradeModel{
			RunID:      result.RunID,
			Symbol:     t.Symbol,
			Side:       string(t.Side),
			Quantity:   t.Quantity,
			EntryPrice: t.EntryPrice,
			EntryTime:  t.EntryTime,
			ExitPrice:  t.ExitPrice,
			ExitTime:   t.ExitTime,
			ExitReason: t.ExitReason,
			GrossPnL:   t.GrossPnL,
			NetPnL:     t.NetPnL,
			Commission: t.Commission,
			Slippage:   t.Slippage,
			RiskAmount: t.RiskAmount,
			RMultiple:  t.RMultiple,
		})
	}
	points := make([]EquityPointModel, 0, len(result.EquityCurve))
	for _, p := range result.EquityCurve {
		points = append(points, EquityPointModel{
			RunID:          result.RunID,
			Timestamp:      p.Timestamp,
			PortfolioValue: p.PortfolioValue,
			Cash:           p.Cash,
			PositionsValue: p.PositionsValue,
			DailyReturn:    p.DailyReturn,
		})
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("saving backtest result %s: %w", result.RunID, err)
		}
		if len(trades) > 0 {
			if err := tx.CreateInBatches(trades, 200).Error; err != nil {
				return fmt.Errorf("saving trades for %s: %w", result.RunID, err)
			}
		}
		if len(points) > 0 {
			if err := tx.CreateInBatches(points, 500).Error; err != nil {
				return fmt.Errorf("saving equity curve for %s: %w", result.RunID, err)
			}
		}
		return nil
	})
}

// GetResult 按 run_id 取完整结果，含交易明细与权益曲线
func (r *ResultRepository) GetResult(ctx context.Context, runID string) (*domain.Result, error) {
	var model BacktestResultModel
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrResultNotFound
		}
		return nil, err
	}

	result, err := fromModel(&model)
	if err != nil {
		return nil, err
	}

	var trades []TradeModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).Order("exit_time asc").Find(&trades).Error; err != nil {
		return nil, err
	}
	for _, t := range trades {
		result.Trades = append(result.Trades, domain.Trade{
			Symbol:     t.Symbol,
			Side:       domain.PositionSide(t.Side),
			Quantity:   t.Quantity,
			EntryPrice: t.EntryPrice,
			EntryTime:  t.EntryTime,
			ExitPrice:  t.ExitPrice,
			ExitTime:   t.ExitTime,
			ExitReason: t.ExitReason,
			GrossPnL:   t.GrossPnL,
			NetPnL:     t.NetPnL,
			Commission: t.Commission,
			Slippage:   t.Slippage,
			RiskAmount: t.RiskAmount,
			RMultiple:  t.RMultiple,
		})
	}

	var points []EquityPointModel
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).Order("timestamp asc").Find(&points).Error; err != nil {
		return nil, err
	}
	for _, p := range points {
		result.EquityCurve = append(result.EquityCurve, domain.EquityCurvePoint{
			Timestamp:      p.Timestamp,
			PortfolioValue: p.PortfolioValue,
			Cash:           p.Cash,
			PositionsValue: p.PositionsValue,
			DailyReturn:    p.DailyReturn,
		})
	}
	return result, nil
}

// ListResults 按 symbol 分页查询结果摘要（不带明细），symbol 为空查全部
func (r *ResultRepository) ListResults(ctx context.Context, symbol string, limit, offset int) ([]*domain.Result, int64, error) {
	query := r.db.WithContext(ctx).Model(&BacktestResultModel{})
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []BacktestResultModel
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	results := make([]*domain.Result, 0, len(models))
	for i := range models {
		result, err := fromModel(&models[i])
		if err != nil {
			return nil, 0, err
		}
		results = append(results, result)
	}
	return results, total, nil
}

func toModel(result *domain.Result) (*BacktestResultModel, error) {
	configJSON, err := json.Marshal(result.Config)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	skippedJSON, err := json.Marshal(result.SkippedBars)
	if err != nil {
		return nil, fmt.Errorf("marshaling skipped bars: %w", err)
	}

	return &BacktestResultModel{
		RunID:       result.RunID,
		Symbol:      result.Symbol,
		ConfigJSON:  string(configJSON),
		SkippedJSON: string(skippedJSON),
		BarsTotal:   result.BarsTotal,
		Cancelled:   result.Cancelled,

		TotalTrades:         result.Metrics.TotalTrades,
		WinningTrades:       result.Metrics.WinningTrades,
		LosingTrades:        result.Metrics.LosingTrades,
		WinRate:             result.Metrics.WinRate,
		AvgRMultiple:        result.Metrics.AvgRMultiple,
		ProfitFactor:        result.Metrics.ProfitFactor,
		TotalReturn:         result.Metrics.TotalReturn,
		CAGR:                result.Metrics.CAGR,
		SharpeRatio:         result.Metrics.SharpeRatio,
		MaxDrawdown:         result.Metrics.MaxDrawdown,
		MaxDrawdownDuration: result.Metrics.MaxDrawdownDuration,

		TotalCommission: result.CostSummary.TotalCommission,
		TotalSlippage:   result.CostSummary.TotalSlippage,
		GrossAvgR:       result.CostSummary.GrossAvgR,
		NetAvgR:         result.CostSummary.NetAvgR,

		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}, nil
}

func fromModel(model *BacktestResultModel) (*domain.Result, error) {
	result := &domain.Result{
		RunID:     model.RunID,
		Symbol:    model.Symbol,
		BarsTotal: model.BarsTotal,
		Cancelled: model.Cancelled,
		Metrics: domain.BacktestMetrics{
			TotalTrades:         model.TotalTrades,
			WinningTrades:       model.WinningTrades,
			LosingTrades:        model.LosingTrades,
			WinRate:             model.WinRate,
			AvgRMultiple:        model.AvgRMultiple,
			ProfitFactor:        model.ProfitFactor,
			TotalReturn:         model.TotalReturn,
			CAGR:                model.CAGR,
			SharpeRatio:         model.SharpeRatio,
			MaxDrawdown:         model.MaxDrawdown,
			MaxDrawdownDuration: model.MaxDrawdownDuration,
		},
		CostSummary: domain.CostSummary{
			TotalCommission: model.TotalCommission,
			TotalSlippage:   model.TotalSlippage,
			GrossAvgR:       model.GrossAvgR,
			NetAvgR:         model.NetAvgR,
		},
		StartedAt:  model.StartedAt,
		FinishedAt: model.FinishedAt,
	}
	if model.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(model.ConfigJSON), &result.Config); err != nil {
			return nil, fmt.Errorf("unmarshaling config for %s: %w", model.RunID, err)
		}
	}
	if model.SkippedJSON != "" {
		if err := json.Unmarshal([]byte(model.SkippedJSON), &result.SkippedBars); err != nil {
			return nil, fmt.Errorf("unmarshaling skipped bars for %s: %w", model.RunID, err)
		}
	}
	return result, nil
}
