// Package parquet 基于 Parquet 文件的行情仓储。
// 行情按 <dataDir>/<market>/<timeframe>/<SYMBOL>/<YYYY>.parquet 组织，
// 价格与成交量以精确十进制字符串落盘，杜绝二进制浮点漂移。
package parquet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/backtesting/internal/backtest/domain"
)

var _ domain.BarRepository = (*BarRepository)(nil)

// BarRepository Parquet 行情仓储
type BarRepository struct {
	dataDir string
	market  string
}

// NewBarRepository 创建仓储，根目录与市场目录由配置给定
func NewBarRepository(dataDir, market string) *BarRepository {
	return &BarRepository{dataDir: dataDir, market: market}
}

// barRecord Parquet 落盘结构
type barRecord struct {
	Symbol    string `parquet:"symbol"`
	Timeframe string `parquet:"timeframe"`
	Timestamp int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      string `parquet:"open"`
	High      string `parquet:"high"`
	Low       string `parquet:"low"`
	Close     string `parquet:"close"`
	Volume    string `parquet:"volume"`
}

// GetBars 读取 [start, end) 区间内的行情，按时间升序返回
func (r *BarRepository) GetBars(_ context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		path := r.barPath(symbol, timeframe, year)
		records, err := parquet.ReadFile[barRecord](path)
		if err != nil {
			// 某年份没有数据文件是正常情况
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading bars from %s: %w", path, err)
		}

		for _, rec := range records {
			ts := time.UnixMilli(rec.Timestamp).UTC()
			if ts.Before(start) || !ts.Before(end) {
				continue
			}
			bar, err := rec.toBar(ts)
			if err != nil {
				return nil, fmt.Errorf("decoding bar %s@%s: %w", symbol, ts, err)
			}
			bars = append(bars, bar)
		}
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// Symbols 列出数据目录下存在行情的全部标的
func (r *BarRepository) Symbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.dataDir, r.market))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	set := make(map[string]bool)
	for _, tf := range entries {
		if !tf.IsDir() {
			continue
		}
		syms, err := os.ReadDir(filepath.Join(r.dataDir, r.market, tf.Name()))
		if err != nil {
			continue
		}
		for _, s := range syms {
			if s.IsDir() {
				set[s.Name()] = true
			}
		}
	}

	symbols := make([]string, 0, len(set))
	for s := range set {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// WriteBars 按 symbol+年份分组写入并与既有数据去重合并，数据装载工具使用
func (r *BarRepository) WriteBars(_ context.Context, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol    string
		timeframe string
		year      int
	}
	groups := make(map[key][]barRecord)
	for _, b := range bars {
		k := key{symbol: b.Symbol, timeframe: b.Timeframe, year: b.Timestamp.Year()}
		groups[k] = append(groups[k], toRecord(b))
	}

	for k, incoming := range groups {
		path := r.barPath(k.symbol, k.timeframe, k.year)
		existing, _ := parquet.ReadFile[barRecord](path)
		merged := mergeRecords(existing, incoming)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := parquet.WriteFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

func (r *BarRepository) barPath(symbol, timeframe string, year int) string {
	return filepath.Join(r.dataDir, r.market, timeframe, strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

func (rec barRecord) toBar(ts time.Time) (domain.Bar, error) {
	bar := domain.Bar{
		Symbol:    rec.Symbol,
		Timeframe: rec.Timeframe,
		Timestamp: ts,
	}
	var err error
	if bar.Open, err = decimal.NewFromString(rec.Open); err != nil {
		return domain.Bar{}, err
	}
	if bar.High, err = decimal.NewFromString(rec.High); err != nil {
		return domain.Bar{}, err
	}
	if bar.Low, err = decimal.NewFromString(rec.Low); err != nil {
		return domain.Bar{}, err
	}
	if bar.Close, err = decimal.NewFromString(rec.Close); err != nil {
		return domain.Bar{}, err
	}
	if bar.Volume, err = decimal.NewFromString(rec.Volume); err != nil {
		return domain.Bar{}, err
	}
	return bar, nil
}

func toRecord(b domain.Bar) barRecord {
	return barRecord{
		Symbol:    b.Symbol,
		Timeframe: b.Timeframe,
		Timestamp: b.Timestamp.UnixMilli(),
		Open:      b.Open.String(),
		High:      b.High.String(),
		Low:       b.Low.String(),
		Close:     b.Close.String(),
		Volume:    b.Volume.String(),
	}
}

// mergeRecords 按 (symbol, timestamp) 去重，新数据覆盖旧数据，结果按时间排序
func mergeRecords(existing, incoming []barRecord) []barRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]barRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
