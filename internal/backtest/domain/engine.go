package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Signal 外部信号源产出的候选入场。引擎不关心信号由何种形态学产生。
type Signal struct {
	Symbol string          `json:"symbol"`
	Side   OrderSide       `json:"side"`
	// 建议仓位提示，可为零，由仓位计算器最终定量
	SizeHint decimal.Decimal `json:"size_hint"`
	// 初始止损价，用于固定该仓位的风险额度
	StopPrice decimal.Decimal `json:"stop_price"`
}

// SignalSource 信号源。index 指向当前 bar，history 为截至当前 bar 的全部已接受行情。
type SignalSource interface {
	OnBar(index int, history []Bar) []Signal
}

// PositionSizer 仓位计算器：按账户权益、单笔风险比例与止损距离给出整数数量
type PositionSizer interface {
	Quantity(equity decimal.Decimal, riskPerTradePct decimal.Decimal, stopDistance decimal.Decimal) int64
}

// RiskPerTradeSizer 默认仓位计算器：数量 = 权益×风险比例 / 止损距离，向下取整
type RiskPerTradeSizer struct{}

// Quantity 实现 PositionSizer
func (RiskPerTradeSizer) Quantity(equity decimal.Decimal, riskPerTradePct decimal.Decimal, stopDistance decimal.Decimal) int64 {
	if !equity.IsPositive() || !stopDistance.IsPositive() {
		return 0
	}
	riskBudget := equity.Mul(riskPerTradePct).Div(decimal.NewFromInt(100))
	return riskBudget.Div(stopDistance).IntPart()
}

// Progress 进度通知
type Progress struct {
	BarsProcessed   int     `json:"bars_processed"`
	TotalBars       int     `json:"total_bars"`
	PercentComplete float64 `json:"percent_complete"`
}

// ProgressNotifier 进度通知接口。通知相对仿真正确性是 fire-and-forget：
// 慢通知或通知失败绝不阻塞、不破坏 bar 循环。
type ProgressNotifier interface {
	Notify(p Progress)
}

// NoopNotifier 默认空实现
type NoopNotifier struct{}

// Notify 实现 ProgressNotifier
func (NoopNotifier) Notify(Progress) {}

// CostSummary 成本汇总：总佣金、总滑点，以及毛/净 R 乘数退化
type CostSummary struct {
	TotalCommission decimal.Decimal `json:"total_commission"`
	TotalSlippage   decimal.Decimal `json:"total_slippage"`
	GrossAvgR       decimal.Decimal `json:"gross_avg_r"`
	NetAvgR         decimal.Decimal `json:"net_avg_r"`
	RDegradation    decimal.Decimal `json:"r_degradation"`
}

// Result 一次回测的完整产出
type Result struct {
	RunID       string             `json:"run_id"`
	Symbol      string             `json:"symbol"`
	Config      Config             `json:"config"`
	Trades      []Trade            `json:"trades"`
	EquityCurve []EquityCurvePoint `json:"equity_curve"`
	Metrics     BacktestMetrics    `json:"metrics"`
	CostSummary CostSummary        `json:"cost_summary"`
	// 数据质量统计：按原因计数的被跳过 bar
	SkippedBars map[string]int `json:"skipped_bars,omitempty"`
	BarsTotal   int            `json:"bars_total"`
	// 订单统计
	OrdersFilled    int `json:"orders_filled"`
	OrdersCancelled int `json:"orders_cancelled"`
	// 协作式取消产生的部分结果
	Cancelled  bool      `json:"cancelled"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Engine 回测编排器：驱动 bar 循环，串联信号源、订单模拟、离场评估与权益记账。
// 单 symbol、单线程、严格按时间推进；一次 Run 对应一个 Engine 实例。
type Engine struct {
	config   Config
	cost     CostModel
	sim      *OrderSimulator
	pf       *Portfolio
	exits    *ExitEngine
	notifier ProgressNotifier
	logger   *slog.Logger

	// 平仓单已提交、等待成交的仓位，避免重复下平仓单
	pendingExits map[string]bool
	// 成交额均值滚动窗口
	volumeWindow []decimal.Decimal
	volumeSum    decimal.Decimal
}

// NewEngine 创建引擎。配置校验失败立即返回错误，不做任何仿真工作。
func NewEngine(cfg Config, logger *slog.Logger, notifier ProgressNotifier) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	cost := NewCostModel(cfg.Cost)
	return &Engine{
		config:       cfg,
		cost:         cost,
		sim:          NewOrderSimulator(cost),
		pf:           NewPortfolio(cfg.InitialCapital),
		exits:        NewExitEngine(cfg.StopLossPct, cfg.TakeProfitPct, cfg.TrailingStopPct),
		notifier:     notifier,
		logger:       logger,
		pendingExits: make(map[string]bool),
	}, nil
}

// Run 执行回测。bars 必须按时间升序；乱序或质量不合格的 bar 被跳过并记录原因。
// ctx 取消是协作式的：每根 bar 检查一次，完成当前 bar 的状态迁移后停止，
// 返回已累积的交易与权益曲线。
func (e *Engine) Run(ctx context.Context, runID string, symbol string, bars []Bar, source SignalSource, sizer PositionSizer) (*Result, error) {
	result := &Result{
		RunID:       runID,
		Symbol:      symbol,
		Config:      e.config,
		SkippedBars: make(map[string]int),
		BarsTotal:   len(bars),
		StartedAt:   time.Now(),
	}

	accepted := make([]Bar, 0, len(bars))
	var lastTimestamp time.Time
	lastNotify := time.Now()
	processed := 0

	for _, bar := range bars {
		if ctx.Err() != nil {
			result.Cancelled = true
			e.logger.Info("backtest cancelled", "run_id", runID, "bars_processed", processed)
			break
		}

		if err := bar.Validate(); err != nil {
			e.logger.Warn("skipping bad bar", "run_id", runID, "timestamp", bar.Timestamp, "reason", err.Error())
			result.SkippedBars["invalid"]++
			continue
		}
		if !lastTimestamp.IsZero() && !bar.Timestamp.After(lastTimestamp) {
			e.logger.Warn("skipping out-of-order bar", "run_id", runID, "timestamp", bar.Timestamp)
			result.SkippedBars["out_of_order"]++
			continue
		}
		lastTimestamp = bar.Timestamp
		accepted = append(accepted, bar)
		e.pushVolume(bar.DollarVolume())

		// (a)+(b) 信号与下单
		e.processSignals(len(accepted)-1, accepted, source, sizer, bar)

		// (c) 离场评估与盯市
		e.processExits(bar)

		// (d) 用当前 bar 撮合此前挂出的订单
		e.processFills(bar, result)

		// (e) 权益曲线
		e.appendEquityPoint(result, bar)

		processed++
		lastNotify = e.maybeNotify(processed, len(bars), lastNotify)
	}

	// 收尾：撤掉所有未成交订单，按最后收盘价了结持仓
	for _, cancelled := range e.sim.CancelAll() {
		result.OrdersCancelled++
		e.logger.Debug("cancelled pending order", "run_id", runID, "order_id", cancelled.OrderID)
	}
	if len(accepted) > 0 {
		e.liquidate(accepted[len(accepted)-1], result)
	}

	result.Trades = e.pf.Trades()
	result.Metrics = CalculateMetrics(result.EquityCurve, result.Trades, e.config.InitialCapital, e.config.RiskFreeRate)
	result.CostSummary = summarizeCosts(result.Trades)
	result.FinishedAt = time.Now()

	e.safeNotify(Progress{
		BarsProcessed:   processed,
		TotalBars:       len(bars),
		PercentComplete: percent(processed, len(bars)),
	})

	return result, nil
}

func (e *Engine) processSignals(index int, history []Bar, source SignalSource, sizer PositionSizer, bar Bar) {
	if source == nil {
		return
	}
	for _, sig := range source.OnBar(index, history) {
		if sig.Side != OrderSideBuy && sig.Side != OrderSideSell {
			continue
		}
		// 持有反向仓位时忽略入场信号：离场由 ExitEngine 独占负责
		if pos := e.pf.Position(sig.Symbol); pos != nil && orderOpposesPosition(sig.Side, pos.Side) {
			e.logger.Debug("ignoring signal against open position", "symbol", sig.Symbol, "side", sig.Side)
			continue
		}

		stopDistance := bar.Close.Sub(sig.StopPrice).Abs()
		qty := sizer.Quantity(e.pf.Equity(), e.config.RiskPerTradePct, stopDistance)
		if qty <= 0 {
			continue
		}

		order, err := e.sim.Submit(sig.Symbol, OrderTypeMarket, sig.Side, decimal.NewFromInt(qty), bar, nil)
		if err != nil {
			e.logger.Warn("order submission rejected", "symbol", sig.Symbol, "error", err)
			continue
		}
		if sig.StopPrice.IsPositive() {
			stop := sig.StopPrice
			order.StopPrice = &stop
		}
	}
}

func (e *Engine) processExits(bar Bar) {
	pos := e.pf.Position(bar.Symbol)
	if pos != nil && !e.pendingExits[bar.Symbol] {
		if sig := e.exits.Evaluate(pos, bar); sig != nil {
			side := OrderSideSell
			if pos.Side == PositionSideShort {
				side = OrderSideBuy
			}
			order, err := e.sim.Submit(sig.Symbol, OrderTypeMarket, side, pos.Quantity, bar, nil)
			if err != nil {
				e.logger.Warn("exit order submission rejected", "symbol", sig.Symbol, "error", err)
			} else {
				order.ExitReason = sig.Reason
				e.pendingExits[bar.Symbol] = true
			}
		}
	}
	e.pf.MarkToMarket(bar)
}

func (e *Engine) processFills(bar Bar, result *Result) {
	avg := e.avgDollarVolume()
	for _, order := range e.sim.FillPending(bar, avg) {
		trade, err := e.pf.ApplyFill(order)
		if err != nil {
			e.logger.Error("failed to apply fill", "order_id", order.OrderID, "error", err)
			continue
		}
		result.OrdersFilled++
		if order.IsExit() {
			delete(e.pendingExits, order.Symbol)
		}
		if trade != nil {
			e.logger.Debug("trade closed",
				"symbol", trade.Symbol,
				"reason", trade.ExitReason,
				"net_pnl", trade.NetPnL.String(),
				"r_multiple", trade.RMultiple.String())
		}
	}
}

func (e *Engine) appendEquityPoint(result *Result, bar Bar) {
	value := e.pf.Equity()
	point := EquityCurvePoint{
		Timestamp:      bar.Timestamp,
		PortfolioValue: value,
		Cash:           e.pf.Cash(),
		PositionsValue: e.pf.PositionsValue(),
	}
	if n := len(result.EquityCurve); n > 0 {
		prev := result.EquityCurve[n-1].PortfolioValue
		if prev.IsPositive() {
			point.DailyReturn = value.Sub(prev).Div(prev)
		}
	}
	result.EquityCurve = append(result.EquityCurve, point)
}

// liquidate 数据走完后以最后一根 bar 的收盘价了结全部持仓。
// 这是数据终点的会计了结而非预测性成交：零滑点，佣金照常。
func (e *Engine) liquidate(lastBar Bar, result *Result) {
	for _, pos := range e.pf.OpenPositions() {
		side := OrderSideSell
		if pos.Side == PositionSideShort {
			side = OrderSideBuy
		}
		at := lastBar.Timestamp
		px := lastBar.Close
		order := &Order{
			OrderID:    pos.Symbol + "-eod",
			Symbol:     pos.Symbol,
			Type:       OrderTypeMarket,
			Side:       side,
			Quantity:   pos.Quantity,
			ExitReason: ExitReasonEndOfData,
			CreatedAt:  at,
			Status:     OrderStatusFilled,
			FilledAt:   &at,
			FillPrice:  &px,
			Commission: e.cost.Commission(pos.Quantity),
		}
		if _, err := e.pf.ApplyFill(order); err != nil {
			e.logger.Error("failed to liquidate position", "symbol", pos.Symbol, "error", err)
		}
	}
	// 了结后补一个终值权益点，复用最后 bar 的时间戳会破坏单调性，因此直接覆盖最后一点
	if n := len(result.EquityCurve); n > 0 {
		result.EquityCurve[n-1].PortfolioValue = e.pf.Equity()
		result.EquityCurve[n-1].Cash = e.pf.Cash()
		result.EquityCurve[n-1].PositionsValue = e.pf.PositionsValue()
	}
}

func (e *Engine) pushVolume(dollarVolume decimal.Decimal) {
	e.volumeWindow = append(e.volumeWindow, dollarVolume)
	e.volumeSum = e.volumeSum.Add(dollarVolume)
	if len(e.volumeWindow) > e.config.AvgVolumeWindow {
		e.volumeSum = e.volumeSum.Sub(e.volumeWindow[0])
		e.volumeWindow = e.volumeWindow[1:]
	}
}

func (e *Engine) avgDollarVolume() decimal.Decimal {
	if len(e.volumeWindow) == 0 {
		return decimal.Zero
	}
	return e.volumeSum.Div(decimal.NewFromInt(int64(len(e.volumeWindow))))
}

func (e *Engine) maybeNotify(processed, total int, lastNotify time.Time) time.Time {
	byBars := e.config.ProgressEveryBars > 0 && processed%e.config.ProgressEveryBars == 0
	byTime := e.config.ProgressEverySecs > 0 && time.Since(lastNotify) >= time.Duration(e.config.ProgressEverySecs)*time.Second
	if !byBars && !byTime {
		return lastNotify
	}
	e.safeNotify(Progress{
		BarsProcessed:   processed,
		TotalBars:       total,
		PercentComplete: percent(processed, total),
	})
	return time.Now()
}

// safeNotify 调用进度通知并吞掉任何 panic：通知失败绝不传播进 bar 循环
func (e *Engine) safeNotify(p Progress) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("progress notifier panicked", "panic", r)
		}
	}()
	e.notifier.Notify(p)
}

func percent(processed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(processed) / float64(total) * 100
}

func summarizeCosts(trades []Trade) CostSummary {
	s := CostSummary{
		TotalCommission: decimal.Zero,
		TotalSlippage:   decimal.Zero,
		GrossAvgR:       decimal.Zero,
		NetAvgR:         decimal.Zero,
		RDegradation:    decimal.Zero,
	}
	if len(trades) == 0 {
		return s
	}

	grossR := decimal.Zero
	netR := decimal.Zero
	withRisk := 0
	for _, t := range trades {
		s.TotalCommission = s.TotalCommission.Add(t.Commission)
		s.TotalSlippage = s.TotalSlippage.Add(t.Slippage.Mul(t.Quantity))
		if risk := t.RiskAmount; risk.IsPositive() {
			grossR = grossR.Add(t.GrossPnL.Div(risk))
			netR = netR.Add(t.NetPnL.Div(risk))
			withRisk++
		}
	}
	if withRisk > 0 {
		n := decimal.NewFromInt(int64(withRisk))
		s.GrossAvgR = grossR.Div(n).Round(metricPlaces)
		s.NetAvgR = netR.Div(n).Round(metricPlaces)
		s.RDegradation = s.GrossAvgR.Sub(s.NetAvgR).Round(metricPlaces)
	}
	return s
}
