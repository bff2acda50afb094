package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CostParams 滑点与佣金参数。全部按配置传入，阈值不按品种硬编码。
type CostParams struct {
	// 流动性充足（成交额均值 >= LiquidVolumeThreshold）时的基础滑点率
	LiquidBaseRate decimal.Decimal `json:"liquid_base_rate"`
	// 流动性不足时的基础滑点率
	IlliquidBaseRate decimal.Decimal `json:"illiquid_base_rate"`
	// 流动性判定阈值（美元成交额均值）
	LiquidVolumeThreshold decimal.Decimal `json:"liquid_volume_threshold"`
	// 市场冲击起征比例：订单量 / bar 成交量超过该值才产生冲击
	ImpactThreshold decimal.Decimal `json:"impact_threshold"`
	// 冲击阶梯宽度：超出部分每满一个阶梯加一档
	ImpactStep decimal.Decimal `json:"impact_step"`
	// 每档附加滑点率
	ImpactRatePerStep decimal.Decimal `json:"impact_rate_per_step"`
	// 零成交量 bar 的附加惩罚率，叠加在 IlliquidBaseRate 之上
	ZeroVolumePenaltyRate decimal.Decimal `json:"zero_volume_penalty_rate"`
	// 每股佣金，0 合法（免佣）
	CommissionPerShare decimal.Decimal `json:"commission_per_share"`
}

// DefaultCostParams 返回默认成本参数：流动 0.02%、非流动 0.05%、
// 阈值 $1M、冲击每 10 个百分点加 0.01%、零量惩罚 0.05%、佣金 $0.005/股。
func DefaultCostParams() CostParams {
	return CostParams{
		LiquidBaseRate:        decimal.RequireFromString("0.0002"),
		IlliquidBaseRate:      decimal.RequireFromString("0.0005"),
		LiquidVolumeThreshold: decimal.New(1000000, 0),
		ImpactThreshold:       decimal.RequireFromString("0.10"),
		ImpactStep:            decimal.RequireFromString("0.10"),
		ImpactRatePerStep:     decimal.RequireFromString("0.0001"),
		ZeroVolumePenaltyRate: decimal.RequireFromString("0.0005"),
		CommissionPerShare:    decimal.RequireFromString("0.005"),
	}
}

// Validate 校验成本参数
func (p CostParams) Validate() error {
	if p.LiquidBaseRate.IsNegative() || p.IlliquidBaseRate.IsNegative() {
		return fmt.Errorf("%w: slippage base rates must be non-negative", ErrInvalidConfig)
	}
	if !p.LiquidVolumeThreshold.IsPositive() {
		return fmt.Errorf("%w: liquid volume threshold must be positive", ErrInvalidConfig)
	}
	if !p.ImpactStep.IsPositive() {
		return fmt.Errorf("%w: impact step must be positive", ErrInvalidConfig)
	}
	if p.ImpactThreshold.IsNegative() || p.ImpactRatePerStep.IsNegative() {
		return fmt.Errorf("%w: impact parameters must be non-negative", ErrInvalidConfig)
	}
	if p.ZeroVolumePenaltyRate.IsNegative() {
		return fmt.Errorf("%w: zero volume penalty must be non-negative", ErrInvalidConfig)
	}
	if p.CommissionPerShare.IsNegative() {
		return fmt.Errorf("%w: commission per share must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// CostModel 无状态的成交成本模型
type CostModel struct {
	params CostParams
}

// NewCostModel 创建成本模型
func NewCostModel(params CostParams) CostModel {
	return CostModel{params: params}
}

// SlippageRate 计算滑点率：基础档位按流动性分层，再叠加市场冲击阶梯。
// 冲击按整数阶梯累加（对超出部分做向下取整的整除），不做连续缩放。
func (m CostModel) SlippageRate(bar Bar, quantity decimal.Decimal, avgDollarVolume decimal.Decimal) decimal.Decimal {
	// 零成交量 bar：按非流动基础率加固定惩罚，绝不做除法
	if bar.Volume.IsZero() {
		return m.params.IlliquidBaseRate.Add(m.params.ZeroVolumePenaltyRate)
	}

	rate := m.params.LiquidBaseRate
	if avgDollarVolume.LessThan(m.params.LiquidVolumeThreshold) {
		rate = m.params.IlliquidBaseRate
	}

	ratio := quantity.Div(bar.Volume)
	if ratio.GreaterThan(m.params.ImpactThreshold) {
		excess := ratio.Sub(m.params.ImpactThreshold)
		steps := excess.Div(m.params.ImpactStep).Floor()
		rate = rate.Add(m.params.ImpactRatePerStep.Mul(steps))
	}

	return rate
}

// Slippage 计算以价格表示的滑点额。BUY 抬高成交价，SELL 压低成交价，方向由调用方套用。
func (m CostModel) Slippage(bar Bar, quantity decimal.Decimal, avgDollarVolume decimal.Decimal) decimal.Decimal {
	return bar.Open.Mul(m.SlippageRate(bar, quantity, avgDollarVolume))
}

// Commission 按每股费率线性计算佣金
func (m CostModel) Commission(quantity decimal.Decimal) decimal.Decimal {
	return quantity.Mul(m.params.CommissionPerShare)
}
