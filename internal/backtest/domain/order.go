package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderSide 买卖方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus 订单状态机：PENDING -> FILLED | REJECTED，终态不再变更
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

// Order 回测中的模拟订单。由引擎创建，仅由订单模拟器修改状态。
type Order struct {
	OrderID    string           `json:"order_id"`
	Symbol     string           `json:"symbol"`
	Type       OrderType        `json:"type"`
	Side       OrderSide        `json:"side"`
	Quantity   decimal.Decimal  `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	// 初始止损价。入场单携带，用于固定持仓的风险额度
	StopPrice *decimal.Decimal `json:"stop_price,omitempty"`
	// 平仓单标记及原因（stop_loss / take_profit / trailing_stop / end_of_data）
	ExitReason string `json:"exit_reason,omitempty"`

	CreatedAt  time.Time        `json:"created_at"`
	Status     OrderStatus      `json:"status"`
	FilledAt   *time.Time       `json:"filled_at,omitempty"`
	FillPrice  *decimal.Decimal `json:"fill_price,omitempty"`
	Slippage   decimal.Decimal  `json:"slippage"`
	Commission decimal.Decimal  `json:"commission"`
}

// IsExit 是否为平仓单
func (o *Order) IsExit() bool {
	return o.ExitReason != ""
}

// OrderSimulator 订单模拟器：排队待成交订单，用后续 bar 撮合，保证不偷看未来。
// 在观察第 N 根 bar 时提交的订单，最早只能用第 N+1 根 bar 成交。
type OrderSimulator struct {
	cost    CostModel
	pending []*Order
	seq     int
}

// NewOrderSimulator 创建订单模拟器
func NewOrderSimulator(cost CostModel) *OrderSimulator {
	return &OrderSimulator{cost: cost}
}

// Submit 提交订单，状态 PENDING，时间戳取当前 bar。
// 该订单不可能在当前 bar 成交。
func (s *OrderSimulator) Submit(symbol string, typ OrderType, side OrderSide, quantity decimal.Decimal, currentBar Bar, limitPrice *decimal.Decimal) (*Order, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("order quantity must be positive, got %s", quantity)
	}
	if typ == OrderTypeLimit && (limitPrice == nil || !limitPrice.IsPositive()) {
		return nil, fmt.Errorf("limit order requires a positive limit price")
	}

	s.seq++
	order := &Order{
		OrderID:    fmt.Sprintf("%s-%d-%d", symbol, currentBar.Timestamp.Unix(), s.seq),
		Symbol:     symbol,
		Type:       typ,
		Side:       side,
		Quantity:   quantity,
		LimitPrice: limitPrice,
		CreatedAt:  currentBar.Timestamp,
		Status:     OrderStatusPending,
	}
	s.pending = append(s.pending, order)
	return order, nil
}

// PendingCount 当前待成交订单数
func (s *OrderSimulator) PendingCount() int {
	return len(s.pending)
}

// FillPending 用下一根 bar 撮合所有待成交订单，返回本根成交的订单。
// 市价单以 next.Open ± 滑点无条件成交；限价单只有触价才以限价成交，且无滑点。
// 未触价的限价单继续挂着，直到成交或被 CancelAll。
func (s *OrderSimulator) FillPending(nextBar Bar, avgDollarVolume decimal.Decimal) []*Order {
	var filled []*Order
	remaining := s.pending[:0]

	for _, order := range s.pending {
		// 不偷看未来：成交 bar 必须严格晚于下单 bar
		if !nextBar.Timestamp.After(order.CreatedAt) {
			remaining = append(remaining, order)
			continue
		}

		switch order.Type {
		case OrderTypeMarket:
			slip := s.cost.Slippage(nextBar, order.Quantity, avgDollarVolume)
			var fillPrice decimal.Decimal
			if order.Side == OrderSideBuy {
				fillPrice = nextBar.Open.Add(slip)
			} else {
				fillPrice = nextBar.Open.Sub(slip)
			}
			s.fill(order, nextBar.Timestamp, fillPrice, slip)
			filled = append(filled, order)

		case OrderTypeLimit:
			limit := *order.LimitPrice
			touched := (order.Side == OrderSideBuy && nextBar.Low.LessThanOrEqual(limit)) ||
				(order.Side == OrderSideSell && nextBar.High.GreaterThanOrEqual(limit))
			if touched {
				// 限价单零滑点，成交价恰为限价
				s.fill(order, nextBar.Timestamp, limit, decimal.Zero)
				filled = append(filled, order)
			} else {
				remaining = append(remaining, order)
			}
		}
	}

	s.pending = remaining
	return filled
}

func (s *OrderSimulator) fill(order *Order, at time.Time, price decimal.Decimal, slip decimal.Decimal) {
	ts := at
	px := price
	order.Status = OrderStatusFilled
	order.FilledAt = &ts
	order.FillPrice = &px
	order.Slippage = slip
	order.Commission = s.cost.Commission(order.Quantity)
}

// CancelAll 将所有待成交订单标记为 REJECTED，用于引擎停机或取消
func (s *OrderSimulator) CancelAll() []*Order {
	cancelled := s.pending
	for _, order := range cancelled {
		order.Status = OrderStatusRejected
	}
	s.pending = nil
	return cancelled
}
