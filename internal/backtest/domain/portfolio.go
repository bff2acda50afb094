package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide 持仓方向
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Position 持仓。由 Portfolio 独占持有：首次成交创建，逐 bar 与加仓时更新，清仓移除。
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	EntryTime     time.Time       `json:"entry_time"`
	UpdatedAt     time.Time       `json:"updated_at"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Commission    decimal.Decimal `json:"commission"`
	// 初始止损价（入场时的值，追踪止损不改写它）
	StopPrice decimal.Decimal `json:"stop_price"`
	// 风险额度 = |入场价-初始止损| × 数量，入场时固定，不随价格变动重算。
	// 语义是已承诺的风险资本，而非实时浮动风险。
	RiskAmount decimal.Decimal `json:"risk_amount"`
	// 入场以来的最高/最低收盘价，追踪止损用
	HighestClose decimal.Decimal `json:"highest_close"`
	LowestClose  decimal.Decimal `json:"lowest_close"`

	slippage      decimal.Decimal
	realizedGross decimal.Decimal
	closedQty     decimal.Decimal
	lastExit      *Order
}

// MarketValue 按现价计算的持仓市值
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// Trade 一次完整的往返交易。持仓数量归零时生成，之后不可变。
type Trade struct {
	Symbol     string          `json:"symbol"`
	Side       PositionSide    `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	ExitTime   time.Time       `json:"exit_time"`
	ExitReason string          `json:"exit_reason"`
	// 毛利润（不含费用）
	GrossPnL decimal.Decimal `json:"gross_pnl"`
	// 净利润（扣除佣金；滑点已体现在成交价中）
	NetPnL     decimal.Decimal `json:"net_pnl"`
	Commission decimal.Decimal `json:"commission"`
	Slippage   decimal.Decimal `json:"slippage"`
	// 入场时固定的风险额度
	RiskAmount decimal.Decimal `json:"risk_amount"`
	// R 乘数 = 净利润 / 入场时固定的风险额度，风险额度为零时取 0
	RMultiple decimal.Decimal `json:"r_multiple"`
}

// Portfolio 资金与持仓状态，现金和持仓表的唯一拥有者
type Portfolio struct {
	cash      decimal.Decimal
	positions map[string]*Position
	trades    []Trade
}

// NewPortfolio 创建组合状态
func NewPortfolio(initialCapital decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:      initialCapital,
		positions: make(map[string]*Position),
	}
}

// Cash 当前现金
func (pf *Portfolio) Cash() decimal.Decimal {
	return pf.cash
}

// Position 按 symbol 取持仓，不存在返回 nil
func (pf *Portfolio) Position(symbol string) *Position {
	return pf.positions[symbol]
}

// OpenPositions 所有在持仓位
func (pf *Portfolio) OpenPositions() []*Position {
	out := make([]*Position, 0, len(pf.positions))
	for _, p := range pf.positions {
		out = append(out, p)
	}
	return out
}

// Trades 已完成的往返交易
func (pf *Portfolio) Trades() []Trade {
	return pf.trades
}

// ApplyFill 应用一笔成交。入场借记现金（成交额+佣金），建仓或加仓；
// 平仓结算已实现盈亏并贷记现金，数量归零时生成 Trade 记录。
func (pf *Portfolio) ApplyFill(order *Order) (*Trade, error) {
	if order.Status != OrderStatusFilled || order.FillPrice == nil || order.FilledAt == nil {
		return nil, fmt.Errorf("cannot apply unfilled order %s", order.OrderID)
	}

	pos := pf.positions[order.Symbol]
	if pos != nil && orderOpposesPosition(order.Side, pos.Side) {
		return pf.applyExit(pos, order)
	}
	return nil, pf.applyEntry(pos, order)
}

func orderOpposesPosition(side OrderSide, posSide PositionSide) bool {
	return (side == OrderSideSell && posSide == PositionSideLong) ||
		(side == OrderSideBuy && posSide == PositionSideShort)
}

func (pf *Portfolio) applyEntry(pos *Position, order *Order) error {
	fill := *order.FillPrice
	cost := fill.Mul(order.Quantity).Add(order.Commission)
	pf.cash = pf.cash.Sub(cost)

	if pos == nil {
		side := PositionSideLong
		if order.Side == OrderSideSell {
			side = PositionSideShort
		}
		pos = &Position{
			Symbol:        order.Symbol,
			Side:          side,
			Quantity:      order.Quantity,
			AvgEntryPrice: fill,
			CurrentPrice:  fill,
			EntryTime:     *order.FilledAt,
			UpdatedAt:     *order.FilledAt,
			Commission:    order.Commission,
			HighestClose:  fill,
			LowestClose:   fill,
			slippage:      order.Slippage,
		}
		if order.StopPrice != nil {
			pos.StopPrice = *order.StopPrice
			pos.RiskAmount = fill.Sub(*order.StopPrice).Abs().Mul(order.Quantity)
		}
		pf.positions[order.Symbol] = pos
		return nil
	}

	// 加仓：重算均价，风险额度按新增部分累加
	oldValue := pos.AvgEntryPrice.Mul(pos.Quantity)
	addValue := fill.Mul(order.Quantity)
	newQty := pos.Quantity.Add(order.Quantity)
	pos.AvgEntryPrice = oldValue.Add(addValue).Div(newQty)
	pos.Quantity = newQty
	pos.Commission = pos.Commission.Add(order.Commission)
	pos.slippage = pos.slippage.Add(order.Slippage)
	pos.UpdatedAt = *order.FilledAt
	if order.StopPrice != nil {
		pos.RiskAmount = pos.RiskAmount.Add(fill.Sub(*order.StopPrice).Abs().Mul(order.Quantity))
	}
	return nil
}

func (pf *Portfolio) applyExit(pos *Position, order *Order) (*Trade, error) {
	if order.Quantity.GreaterThan(pos.Quantity) {
		return nil, fmt.Errorf("exit quantity %s exceeds position quantity %s for %s",
			order.Quantity, pos.Quantity, pos.Symbol)
	}

	fill := *order.FillPrice

	var gross decimal.Decimal
	if pos.Side == PositionSideLong {
		gross = fill.Sub(pos.AvgEntryPrice).Mul(order.Quantity)
	} else {
		gross = pos.AvgEntryPrice.Sub(fill).Mul(order.Quantity)
	}

	// 贷记：释放的成本基础加已实现盈亏，扣除平仓佣金
	released := pos.AvgEntryPrice.Mul(order.Quantity)
	pf.cash = pf.cash.Add(released).Add(gross).Sub(order.Commission)

	pos.Quantity = pos.Quantity.Sub(order.Quantity)
	pos.Commission = pos.Commission.Add(order.Commission)
	pos.slippage = pos.slippage.Add(order.Slippage)
	pos.realizedGross = pos.realizedGross.Add(gross)
	pos.closedQty = pos.closedQty.Add(order.Quantity)
	pos.UpdatedAt = *order.FilledAt
	pos.lastExit = order

	if pos.Quantity.IsZero() {
		trade := Trade{
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Quantity:   pos.closedQty,
			EntryPrice: pos.AvgEntryPrice,
			EntryTime:  pos.EntryTime,
			ExitPrice:  fill,
			ExitTime:   *order.FilledAt,
			ExitReason: order.ExitReason,
			GrossPnL:   pos.realizedGross,
			NetPnL:     pos.realizedGross.Sub(pos.Commission),
			Commission: pos.Commission,
			Slippage:   pos.slippage,
			RiskAmount: pos.RiskAmount,
		}
		if pos.RiskAmount.IsPositive() {
			trade.RMultiple = trade.NetPnL.Div(pos.RiskAmount)
		}
		delete(pf.positions, pos.Symbol)
		pf.trades = append(pf.trades, trade)
		return &pf.trades[len(pf.trades)-1], nil
	}
	return nil, nil
}

// MarkToMarket 用当根 bar 的收盘价更新对应 symbol 的持仓市价与浮动盈亏，
// 只触碰 symbol 匹配的持仓。
func (pf *Portfolio) MarkToMarket(bar Bar) {
	pos, ok := pf.positions[bar.Symbol]
	if !ok {
		return
	}
	pos.CurrentPrice = bar.Close
	pos.UpdatedAt = bar.Timestamp
	if pos.Side == PositionSideLong {
		pos.UnrealizedPnL = bar.Close.Sub(pos.AvgEntryPrice).Mul(pos.Quantity)
	} else {
		pos.UnrealizedPnL = pos.AvgEntryPrice.Sub(bar.Close).Mul(pos.Quantity)
	}
	if bar.Close.GreaterThan(pos.HighestClose) {
		pos.HighestClose = bar.Close
	}
	if bar.Close.LessThan(pos.LowestClose) {
		pos.LowestClose = bar.Close
	}
}

// PositionsValue 持仓市值合计
func (pf *Portfolio) PositionsValue() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range pf.positions {
		total = total.Add(pos.MarketValue())
	}
	return total
}

// Equity 组合权益 = 现金 + Σ(数量 × 现价)
func (pf *Portfolio) Equity() decimal.Decimal {
	return pf.cash.Add(pf.PositionsValue())
}

// Heat 组合热度：全部在持风险额度占权益的百分比
func (pf *Portfolio) Heat() decimal.Decimal {
	equity := pf.Equity()
	if !equity.IsPositive() {
		return decimal.Zero
	}
	risk := decimal.Zero
	for _, pos := range pf.positions {
		risk = risk.Add(pos.RiskAmount)
	}
	return risk.Div(equity).Mul(decimal.NewFromInt(100))
}
