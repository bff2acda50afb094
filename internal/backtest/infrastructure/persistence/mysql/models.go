// Package mysql 回测结果的 MySQL 持久化。
// 金额一律 decimal(32,18) 列，经由 shopspring/decimal 读写，保证精度无损。
package mysql

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestResultModel 回测结果主表，一行对应一次完成的回测
type BacktestResultModel struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	RunID    string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Symbol   string `gorm:"type:varchar(32);index;not null"`
	// 引擎配置快照，JSON 序列化
	ConfigJSON string `gorm:"type:json"`
	// 数据质量统计，JSON 序列化
	SkippedJSON string `gorm:"type:json"`
	BarsTotal   int    `gorm:"not null;default:0"`
	Cancelled   bool   `gorm:"not null;default:false"`

	TotalTrades         int             `gorm:"not null;default:0"`
	WinningTrades       int             `gorm:"not null;default:0"`
	LosingTrades        int             `gorm:"not null;default:0"`
	WinRate             decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0"`
	AvgRMultiple        decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0"`
	ProfitFactor        decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0"`
	TotalReturn         decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0"`
	CAGR                decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0"`
	SharpeRatio         decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0"`
	MaxDrawdown         decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0"`
	MaxDrawdownDuration int             `gorm:"not null;default:0"`

	TotalCommission decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0"`
	TotalSlippage   decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0"`
	GrossAvgR       decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0"`
	NetAvgR         decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0"`

	StartedAt  time.Time `gorm:"not null"`
	FinishedAt time.Time `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName 指定表名
func (BacktestResultModel) TableName() string {
	return "backtest_results"
}

// TradeModel 往返交易明细表
type TradeModel struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	RunID      string          `gorm:"type:varchar(64);index;not null"`
	Symbol     string          `gorm:"type:varchar(32);not null"`
	Side       string          `gorm:"type:varchar(8);not null"`
	Quantity   decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	EntryPrice decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	EntryTime  time.Time       `gorm:"not null"`
	ExitPrice  decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	ExitTime   time.Time       `gorm:"not null"`
	ExitReason string          `gorm:"type:varchar(32);not null"`
	GrossPnL   decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	NetPnL     decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	Commission decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	Slippage   decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	RiskAmount decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	RMultiple  decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	CreatedAt  time.Time
}

// TableName 指定表名
func (TradeModel) TableName() string {
	return "backtest_trades"
}

// EquityPointModel 权益曲线明细表
type EquityPointModel struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement"`
	RunID          string          `gorm:"type:varchar(64);index;not null"`
	Timestamp      time.Time       `gorm:"not null"`
	PortfolioValue decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	Cash           decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	PositionsValue decimal.Decimal `gorm:"type:decimal(32,18);not null"`
	DailyReturn    decimal.Decimal `gorm:"type:decimal(32,18);not null"`
}

// TableName 指定表名
func (EquityPointModel) TableName() string {
	return "backtest_equity_points"
}
