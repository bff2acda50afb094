package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	backtest "github.com/wyfcoding/backtesting/internal/backtest/domain"
	"github.com/wyfcoding/backtesting/internal/walkforward/domain"
	"github.com/wyfcoding/backtesting/pkg/metrics"
)

// 前推验证生命周期事件类型
const (
	EventSuiteCompleted     = "walkforward.completed"
	EventSuiteFailed        = "walkforward.failed"
	EventBaselineRegression = "walkforward.baseline_regression"
)

// ErrSuiteNotFound 指定的验证套件任务不存在
var ErrSuiteNotFound = errors.New("walk-forward suite not found")

// SuiteStatus 套件任务生命周期状态
type SuiteStatus string

const (
	SuitePending   SuiteStatus = "PENDING"
	SuiteRunning   SuiteStatus = "RUNNING"
	SuiteCompleted SuiteStatus = "COMPLETED"
	SuiteFailed    SuiteStatus = "FAILED"
)

// RunSuiteCommand 运行前推验证套件命令。Symbols 为空时对数据源全部标的执行。
type RunSuiteCommand struct {
	Symbols   []string
	Timeframe string
	Start     time.Time
	End       time.Time
	Config    domain.Config
}

// SuiteInfo 套件任务注册表记录
type SuiteInfo struct {
	SuiteID   string      `json:"suite_id"`
	Symbols   []string    `json:"symbols"`
	Status    SuiteStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// WalkForwardService 前推验证应用服务：套件编排、报告缓存与基线管理
type WalkForwardService struct {
	bars      backtest.BarRepository
	baselines domain.BaselineRepository
	publisher backtest.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	newSource domain.SourceFactory
	sizer     backtest.PositionSizer

	mu      sync.RWMutex
	suites  map[string]*SuiteInfo
	reports map[string]*domain.SuiteResult
	cancels map[string]context.CancelFunc
}

func NewWalkForwardService(
	bars backtest.BarRepository,
	baselines domain.BaselineRepository,
	publisher backtest.EventPublisher,
	m *metrics.Metrics,
	newSource domain.SourceFactory,
	sizer backtest.PositionSizer,
	logger *slog.Logger,
) *WalkForwardService {
	if publisher == nil {
		publisher = backtest.NoopPublisher{}
	}
	if sizer == nil {
		sizer = backtest.RiskPerTradeSizer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WalkForwardService{
		bars:      bars,
		baselines: baselines,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		newSource: newSource,
		sizer:     sizer,
		suites:    make(map[string]*SuiteInfo),
		reports:   make(map[string]*domain.SuiteResult),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// StartSuite 启动一次异步前推验证套件，立即返回套件 ID
func (s *WalkForwardService) StartSuite(ctx context.Context, cmd RunSuiteCommand) (string, error) {
	if err := cmd.Config.Validate(); err != nil {
		return "", err
	}
	if !cmd.End.After(cmd.Start) {
		return "", fmt.Errorf("%w: end %s must be after start %s", domain.ErrInvalidWindowConfig, cmd.End, cmd.Start)
	}

	symbols := cmd.Symbols
	if len(symbols) == 0 {
		var err error
		symbols, err = s.bars.Symbols(ctx)
		if err != nil {
			return "", fmt.Errorf("list symbols: %w", err)
		}
		if len(symbols) == 0 {
			return "", errors.New("no symbols available in bar repository")
		}
	}
	sort.Strings(symbols)

	suiteID := "WF-" + uuid.NewString()
	now := time.Now()
	info := &SuiteInfo{
		SuiteID:   suiteID,
		Symbols:   symbols,
		Status:    SuitePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.suites[suiteID] = info
	s.cancels[suiteID] = cancel
	s.mu.Unlock()

	s.logger.Info("walk-forward suite accepted", "suite_id", suiteID,
		"symbols", len(symbols), "start", cmd.Start, "end", cmd.End)

	go s.execute(runCtx, suiteID, symbols, cmd)
	return suiteID, nil
}

func (s *WalkForwardService) execute(ctx context.Context, suiteID string, symbols []string, cmd RunSuiteCommand) {
	defer func() {
		s.mu.Lock()
		delete(s.cancels, suiteID)
		s.mu.Unlock()
	}()

	s.setStatus(suiteID, SuiteRunning, "")
	result, err := s.run(ctx, suiteID, symbols, cmd)
	if err != nil {
		s.logger.Error("walk-forward suite failed", "suite_id", suiteID, "error", err)
		s.setStatus(suiteID, SuiteFailed, err.Error())
		s.publishEvent(ctx, EventSuiteFailed, suiteID, "", err.Error())
		return
	}

	s.mu.Lock()
	s.reports[suiteID] = result
	s.mu.Unlock()
	s.setStatus(suiteID, SuiteCompleted, "")

	if s.metrics != nil {
		for _, r := range result.Results {
			s.metrics.WalkForwardWindows.Add(float64(r.WindowCount))
		}
		s.metrics.BaselineRegressions.Add(float64(len(result.RegressedSymbols)))
	}

	s.publishEvent(ctx, EventSuiteCompleted, suiteID, "", "")
	for _, symbol := range result.RegressedSymbols {
		s.publishEvent(ctx, EventBaselineRegression, suiteID, symbol, "")
	}
	s.logger.Info("walk-forward suite finished", "suite_id", suiteID,
		"symbols", len(result.Results), "regressed", len(result.RegressedSymbols),
		"duration", result.FinishedAt.Sub(result.StartedAt))
}

func (s *WalkForwardService) run(ctx context.Context, suiteID string, symbols []string, cmd RunSuiteCommand) (*domain.SuiteResult, error) {
	barsBySymbol := make(map[string][]backtest.Bar, len(symbols))
	for _, symbol := range symbols {
		bars, err := s.bars.GetBars(ctx, symbol, cmd.Timeframe, cmd.Start, cmd.End)
		if err != nil {
			return nil, fmt.Errorf("load bars for %s: %w", symbol, err)
		}
		barsBySymbol[symbol] = bars
	}

	runner, err := domain.NewRunner(cmd.Config, s.logger.With("suite_id", suiteID))
	if err != nil {
		return nil, err
	}
	suite := domain.NewSuite(runner, s.baselines, s.logger.With("suite_id", suiteID))
	return suite.Run(ctx, barsBySymbol, s.newSource, s.sizer)
}

// CancelSuite 请求取消运行中的套件
func (s *WalkForwardService) CancelSuite(suiteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancels[suiteID]
	if !ok {
		if _, exists := s.suites[suiteID]; exists {
			return fmt.Errorf("suite %s is not running", suiteID)
		}
		return fmt.Errorf("%w: %s", ErrSuiteNotFound, suiteID)
	}
	cancel()
	s.logger.Info("walk-forward suite cancellation requested", "suite_id", suiteID)
	return nil
}

// GetSuite 查询套件任务状态
func (s *WalkForwardService) GetSuite(suiteID string) (*SuiteInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.suites[suiteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSuiteNotFound, suiteID)
	}
	cp := *info
	return &cp, nil
}

// ListSuites 按创建时间倒序返回全部套件任务
func (s *WalkForwardService) ListSuites() []*SuiteInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SuiteInfo, 0, len(s.suites))
	for _, info := range s.suites {
		cp := *info
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// GetReport 查询已完成套件的完整报告
func (s *WalkForwardService) GetReport(suiteID string) (*domain.SuiteResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[suiteID]
	if !ok {
		if _, exists := s.suites[suiteID]; exists {
			return nil, fmt.Errorf("suite %s has no report yet", suiteID)
		}
		return nil, fmt.Errorf("%w: %s", ErrSuiteNotFound, suiteID)
	}
	return report, nil
}

// SaveBaseline 把指定套件中某 symbol 的本轮汇总显式另存为新基线。
// 这是基线唯一的写入路径，常规套件运行绝不自动更新基线。
func (s *WalkForwardService) SaveBaseline(ctx context.Context, suiteID, symbol, version string) (*domain.Baseline, error) {
	if s.baselines == nil {
		return nil, errors.New("baseline store is not configured")
	}
	report, err := s.GetReport(suiteID)
	if err != nil {
		return nil, err
	}

	var symbolResult *domain.SymbolResult
	for _, r := range report.Results {
		if r.Symbol == symbol {
			symbolResult = r
			break
		}
	}
	if symbolResult == nil {
		return nil, fmt.Errorf("suite %s has no result for symbol %s", suiteID, symbol)
	}
	if symbolResult.WindowCount == 0 {
		return nil, fmt.Errorf("symbol %s produced no windows, refusing to save an empty baseline", symbol)
	}

	if version == "" {
		version = "v-" + uuid.NewString()[:8]
	}
	baseline := domain.BaselineFromResult(symbolResult, version)
	if err := s.baselines.Save(ctx, baseline); err != nil {
		return nil, fmt.Errorf("save baseline for %s: %w", symbol, err)
	}
	s.logger.Info("baseline saved", "suite_id", suiteID, "symbol", symbol, "version", version)
	return baseline, nil
}

// ListBaselines 返回全部已存基线
func (s *WalkForwardService) ListBaselines(ctx context.Context) ([]*domain.Baseline, error) {
	if s.baselines == nil {
		return nil, nil
	}
	return s.baselines.List(ctx)
}

func (s *WalkForwardService) setStatus(suiteID string, status SuiteStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.suites[suiteID]
	if !ok {
		return
	}
	info.Status = status
	info.Error = errMsg
	info.UpdatedAt = time.Now()
}

func (s *WalkForwardService) publishEvent(ctx context.Context, eventType, suiteID, symbol, errMsg string) {
	event := backtest.BacktestEvent{
		EventType: eventType,
		RunID:     suiteID,
		Symbol:    symbol,
		Timestamp: time.Now(),
		Error:     errMsg,
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error("publish walk-forward event failed", "event_type", eventType,
			"suite_id", suiteID, "error", err)
	}
}
