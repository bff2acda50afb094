package domain

import (
	"context"
	"errors"
	"time"
)

// ErrResultNotFound 指定 runID 的结果不存在
var ErrResultNotFound = errors.New("backtest result not found")

// BarRepository 行情数据仓储接口
type BarRepository interface {
	// GetBars 按时间升序返回 [start, end) 区间内的行情
	GetBars(ctx context.Context, symbol string, timeframe string, start, end time.Time) ([]Bar, error)
	// Symbols 返回数据源中可用的全部标的
	Symbols(ctx context.Context) ([]string, error)
}

// ResultRepository 回测结果仓储接口
type ResultRepository interface {
	SaveResult(ctx context.Context, result *Result) error
	GetResult(ctx context.Context, runID string) (*Result, error)
	ListResults(ctx context.Context, symbol string, limit, offset int) ([]*Result, int64, error)
}
