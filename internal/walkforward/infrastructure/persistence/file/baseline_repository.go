// Package file 基线的文件存储：每个 symbol 一个 JSON 文件。
// 基线是人工审定的参照物，用平面文件便于进版本库、做代码评审。
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/wyfcoding/backtesting/internal/walkforward/domain"
)

var _ domain.BaselineRepository = (*BaselineRepository)(nil)

// BaselineRepository JSON 文件基线仓储
type BaselineRepository struct {
	dir string
	mu  sync.Mutex
}

// NewBaselineRepository 创建仓储并确保目录存在
func NewBaselineRepository(dir string) (*BaselineRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating baseline dir %s: %w", dir, err)
	}
	return &BaselineRepository{dir: dir}, nil
}

// Get 读取 symbol 的基线，缺失返回 domain.ErrBaselineNotFound
func (r *BaselineRepository) Get(_ context.Context, symbol string) (*domain.Baseline, error) {
	data, err := os.ReadFile(r.path(symbol))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrBaselineNotFound
		}
		return nil, err
	}
	var baseline domain.Baseline
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, fmt.Errorf("decoding baseline for %s: %w", symbol, err)
	}
	return &baseline, nil
}

// Save 原子写入基线：先落临时文件再改名，避免写一半的基线被读到
func (r *BaselineRepository) Save(_ context.Context, baseline *domain.Baseline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(baseline, "", "  ")
	if err != nil {
		return err
	}

	target := r.path(baseline.Symbol)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// List 返回目录下全部基线，按 symbol 排序
func (r *BaselineRepository) List(ctx context.Context) ([]*domain.Baseline, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}

	var baselines []*domain.Baseline
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		symbol := strings.TrimSuffix(e.Name(), ".json")
		b, err := r.Get(ctx, symbol)
		if err != nil {
			return nil, err
		}
		baselines = append(baselines, b)
	}
	sort.Slice(baselines, func(i, j int) bool {
		return baselines[i].Symbol < baselines[j].Symbol
	})
	return baselines, nil
}

func (r *BaselineRepository) path(symbol string) string {
	return filepath.Join(r.dir, strings.ToUpper(symbol)+".json")
}
