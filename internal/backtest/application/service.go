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

	"github.com/wyfcoding/backtesting/internal/backtest/domain"
	"github.com/wyfcoding/backtesting/pkg/metrics"
)

// ErrRunNotFound 指定的回测任务不存在
var ErrRunNotFound = errors.New("backtest run not found")

// RunStatus 回测任务生命周期状态
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	StatusCancelled RunStatus = "CANCELLED"
)

// RunBacktestCommand 运行回测命令
type RunBacktestCommand struct {
	Symbol    string
	Timeframe string
	Start     time.Time
	End       time.Time
	Config    domain.Config
}

// RunInfo 任务注册表中的一条任务记录
type RunInfo struct {
	RunID     string          `json:"run_id"`
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Status    RunStatus       `json:"status"`
	Progress  domain.Progress `json:"progress"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SignalSourceFactory 为一次回测构造全新的信号源。
// 信号源可能持有内部状态，因此每次 Run 必须新建，绝不跨 Run 复用。
type SignalSourceFactory func(symbol string) domain.SignalSource

// BarWriter 行情写入接口，供数据导入操作使用
type BarWriter interface {
	WriteBars(ctx context.Context, bars []domain.Bar) error
}

// BacktestService 回测应用服务：异步任务编排、状态注册表与生命周期事件
type BacktestService struct {
	bars      domain.BarRepository
	results   domain.ResultRepository
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	newSource SignalSourceFactory
	sizer     domain.PositionSizer

	mu      sync.RWMutex
	runs    map[string]*RunInfo
	cancels map[string]context.CancelFunc
}

func NewBacktestService(
	bars domain.BarRepository,
	results domain.ResultRepository,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	newSource SignalSourceFactory,
	sizer domain.PositionSizer,
	logger *slog.Logger,
) *BacktestService {
	if publisher == nil {
		publisher = domain.NoopPublisher{}
	}
	if sizer == nil {
		sizer = domain.RiskPerTradeSizer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BacktestService{
		bars:      bars,
		results:   results,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		newSource: newSource,
		sizer:     sizer,
		runs:      make(map[string]*RunInfo),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// StartBacktest 启动一次异步回测，立即返回任务 ID。
// 配置校验在启动前同步完成，非法配置直接拒绝，不产生任务。
func (s *BacktestService) StartBacktest(ctx context.Context, cmd RunBacktestCommand) (string, error) {
	if err := cmd.Config.Validate(); err != nil {
		return "", err
	}
	if cmd.Symbol == "" {
		return "", fmt.Errorf("%w: symbol is required", domain.ErrInvalidConfig)
	}
	if !cmd.End.After(cmd.Start) {
		return "", fmt.Errorf("%w: end %s must be after start %s", domain.ErrInvalidConfig, cmd.End, cmd.Start)
	}

	runID := "BT-" + uuid.NewString()
	now := time.Now()
	info := &RunInfo{
		RunID:     runID,
		Symbol:    cmd.Symbol,
		Timeframe: cmd.Timeframe,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.runs[runID] = info
	s.cancels[runID] = cancel
	s.mu.Unlock()

	s.logger.Info("backtest run accepted", "run_id", runID, "symbol", cmd.Symbol,
		"start", cmd.Start, "end", cmd.End)

	go s.execute(runCtx, runID, cmd)
	return runID, nil
}

func (s *BacktestService) execute(ctx context.Context, runID string, cmd RunBacktestCommand) {
	defer func() {
		s.mu.Lock()
		delete(s.cancels, runID)
		s.mu.Unlock()
	}()

	s.setStatus(runID, StatusRunning, "")
	if s.metrics != nil {
		s.metrics.BacktestsStarted.Inc()
	}
	s.publish(ctx, domain.BacktestEvent{
		EventType: domain.EventBacktestStarted,
		RunID:     runID,
		Symbol:    cmd.Symbol,
		Timestamp: time.Now(),
	})

	started := time.Now()
	result, err := s.run(ctx, runID, cmd)
	if err != nil {
		s.logger.Error("backtest run failed", "run_id", runID, "error", err)
		if s.metrics != nil {
			s.metrics.BacktestsFailed.Inc()
		}
		s.setStatus(runID, StatusFailed, err.Error())
		s.publish(ctx, domain.BacktestEvent{
			EventType: domain.EventBacktestFailed,
			RunID:     runID,
			Symbol:    cmd.Symbol,
			Timestamp: time.Now(),
			Error:     err.Error(),
		})
		return
	}

	if s.metrics != nil {
		s.metrics.BacktestsCompleted.Inc()
		s.metrics.BacktestDuration.Observe(time.Since(started).Seconds())
		s.metrics.BarsProcessed.Add(float64(len(result.EquityCurve)))
		for _, n := range result.SkippedBars {
			s.metrics.BarsSkipped.Add(float64(n))
		}
		s.metrics.OrdersFilled.Add(float64(result.OrdersFilled))
		s.metrics.OrdersRejected.Add(float64(result.OrdersCancelled))
	}

	status := StatusCompleted
	if result.Cancelled {
		status = StatusCancelled
	}
	s.setStatus(runID, status, "")
	s.publish(ctx, domain.BacktestEvent{
		EventType: domain.EventBacktestCompleted,
		RunID:     runID,
		Symbol:    cmd.Symbol,
		Timestamp: time.Now(),
		Metrics:   &result.Metrics,
	})
	s.logger.Info("backtest run finished", "run_id", runID, "status", status,
		"trades", result.Metrics.TotalTrades, "total_return_pct", result.Metrics.TotalReturn,
		"duration", time.Since(started))
}

// run 加载行情、执行引擎并持久化结果。取消产生的部分结果同样持久化。
func (s *BacktestService) run(ctx context.Context, runID string, cmd RunBacktestCommand) (*domain.Result, error) {
	bars, err := s.bars.GetBars(ctx, cmd.Symbol, cmd.Timeframe, cmd.Start, cmd.End)
	if err != nil {
		return nil, fmt.Errorf("load bars for %s: %w", cmd.Symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s %s in [%s, %s)", cmd.Symbol, cmd.Timeframe,
			cmd.Start.Format(time.DateOnly), cmd.End.Format(time.DateOnly))
	}

	engine, err := domain.NewEngine(cmd.Config, s.logger.With("run_id", runID), s.notifierFor(runID))
	if err != nil {
		return nil, err
	}
	result, err := engine.Run(ctx, runID, cmd.Symbol, bars, s.newSource(cmd.Symbol), s.sizer)
	if err != nil {
		return nil, err
	}

	if s.results != nil {
		if err := s.results.SaveResult(context.WithoutCancel(ctx), result); err != nil {
			return nil, fmt.Errorf("save result %s: %w", runID, err)
		}
	}
	return result, nil
}

// CancelBacktest 请求取消运行中的任务。取消是协作式的：
// 引擎在下一根 bar 边界停下，部分结果照常保存。
func (s *BacktestService) CancelBacktest(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancels[runID]
	if !ok {
		if _, exists := s.runs[runID]; exists {
			return fmt.Errorf("run %s is not running", runID)
		}
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	cancel()
	s.logger.Info("backtest cancellation requested", "run_id", runID)
	return nil
}

// GetRun 查询任务状态
func (s *BacktestService) GetRun(runID string) (*RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	cp := *info
	return &cp, nil
}

// ListRuns 按创建时间倒序返回全部任务
func (s *BacktestService) ListRuns() []*RunInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RunInfo, 0, len(s.runs))
	for _, info := range s.runs {
		cp := *info
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// GetResult 查询已持久化的回测结果
func (s *BacktestService) GetResult(ctx context.Context, runID string) (*domain.Result, error) {
	return s.results.GetResult(ctx, runID)
}

// ListResults 分页查询历史结果摘要
func (s *BacktestService) ListResults(ctx context.Context, symbol string, limit, offset int) ([]*domain.Result, int64, error) {
	return s.results.ListResults(ctx, symbol, limit, offset)
}

// Symbols 返回行情数据源中可用的标的
func (s *BacktestService) Symbols(ctx context.Context) ([]string, error) {
	return s.bars.Symbols(ctx)
}

// ImportBars 向行情存储写入一批 bar，仓储不支持写入时返回错误
func (s *BacktestService) ImportBars(ctx context.Context, bars []domain.Bar) error {
	writer, ok := s.bars.(BarWriter)
	if !ok {
		return errors.New("bar repository is read-only")
	}
	if len(bars) == 0 {
		return errors.New("no bars to import")
	}
	return writer.WriteBars(ctx, bars)
}

func (s *BacktestService) setStatus(runID string, status RunStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.runs[runID]
	if !ok {
		return
	}
	info.Status = status
	info.Error = errMsg
	info.UpdatedAt = time.Now()
}

func (s *BacktestService) publish(ctx context.Context, event domain.BacktestEvent) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error("publish backtest event failed", "event_type", event.EventType,
			"run_id", event.RunID, "error", err)
	}
}

func (s *BacktestService) notifierFor(runID string) domain.ProgressNotifier {
	return &registryNotifier{svc: s, runID: runID}
}

// registryNotifier 把引擎进度写回任务注册表
type registryNotifier struct {
	svc   *BacktestService
	runID string
}

func (n *registryNotifier) Notify(p domain.Progress) {
	n.svc.mu.Lock()
	defer n.svc.mu.Unlock()
	if info, ok := n.svc.runs[n.runID]; ok {
		info.Progress = p
		info.UpdatedAt = time.Now()
	}
}
