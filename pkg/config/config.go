// Package config 提供 TOML 配置加载、环境变量覆盖与 schema 校验
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 服务配置结构
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// 历史行情数据配置
	Data DataConfig `mapstructure:"data"`
	// 回测引擎默认配置
	Backtest BacktestConfig `mapstructure:"backtest"`
	// 成本模型默认配置
	Cost CostConfig `mapstructure:"cost"`
	// 滚动验证配置
	WalkForward WalkForwardConfig `mapstructure:"walkforward"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	// 监听地址
	Host string `mapstructure:"host"`
	// 监听端口
	Port int `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：目前仅支持 mysql
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
}

// KafkaConfig Kafka 配置，Brokers 为空时事件发布降级为空实现
type KafkaConfig struct {
	// Broker 地址列表
	Brokers []string `mapstructure:"brokers"`
	// 事件主题
	Topic string `mapstructure:"topic"`
	// 最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
	// 重试退避（毫秒）
	RetryBackoff int `mapstructure:"retry_backoff"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `mapstructure:"enabled"`
	// Prometheus 监听端口
	Port int `mapstructure:"port"`
	// 指标路径
	Path string `mapstructure:"path"`
}

// DataConfig 历史行情数据配置
type DataConfig struct {
	// Parquet 数据根目录
	ParquetDir string `mapstructure:"parquet_dir"`
	// 市场目录名（us, cn 等）
	Market string `mapstructure:"market"`
}

// BacktestConfig 回测引擎默认参数，金额与比率使用十进制字符串避免二进制浮点漂移
type BacktestConfig struct {
	// 默认初始资金
	InitialCapital string `mapstructure:"initial_capital"`
	// 默认止损比例 (0,1]
	StopLossPct string `mapstructure:"stop_loss_pct"`
	// 默认止盈比例 (0,1]
	TakeProfitPct string `mapstructure:"take_profit_pct"`
	// 追踪止损比例，"0" 表示关闭
	TrailingStopPct string `mapstructure:"trailing_stop_pct"`
	// 单笔风险占比（百分数，如 "1" 表示 1%）
	RiskPerTradePct string `mapstructure:"risk_per_trade_pct"`
	// 成交量均值窗口（bar 数）
	AvgVolumeWindow int `mapstructure:"avg_volume_window"`
	// 进度通知间隔（bar 数）
	ProgressEveryBars int `mapstructure:"progress_every_bars"`
	// 进度通知间隔（秒）
	ProgressEverySecs int `mapstructure:"progress_every_secs"`
}

// CostConfig 滑点与佣金默认参数
type CostConfig struct {
	// 流动性充足时的基础滑点率
	LiquidBaseRate string `mapstructure:"liquid_base_rate"`
	// 流动性不足时的基础滑点率
	IlliquidBaseRate string `mapstructure:"illiquid_base_rate"`
	// 流动性判定阈值（成交额均值，美元）
	LiquidVolumeThreshold string `mapstructure:"liquid_volume_threshold"`
	// 市场冲击起征比例（订单量/当根成交量）
	ImpactThreshold string `mapstructure:"impact_threshold"`
	// 冲击阶梯宽度
	ImpactStep string `mapstructure:"impact_step"`
	// 每阶梯附加滑点率
	ImpactRatePerStep string `mapstructure:"impact_rate_per_step"`
	// 零成交量 bar 的附加惩罚率
	ZeroVolumePenaltyRate string `mapstructure:"zero_volume_penalty_rate"`
	// 每股佣金
	CommissionPerShare string `mapstructure:"commission_per_share"`
}

// WalkForwardConfig 滚动验证默认参数
type WalkForwardConfig struct {
	// 训练窗口（月）
	TrainMonths int `mapstructure:"train_months"`
	// 验证窗口（月）
	ValidateMonths int `mapstructure:"validate_months"`
	// 主指标：sharpe_ratio, profit_factor, win_rate
	PrimaryMetric string `mapstructure:"primary_metric"`
	// 验证/训练 比值低于该阈值判定退化
	DegradationThreshold string `mapstructure:"degradation_threshold"`
	// 基线对比容差（百分数）
	TolerancePct string `mapstructure:"tolerance_pct"`
	// 基线 JSON 存储目录
	BaselineDir string `mapstructure:"baseline_dir"`
	// 并发回测的最大 symbol 数
	MaxParallelSymbols int `mapstructure:"max_parallel_symbols"`
}

// Load 从 TOML 文件加载配置，支持环境变量覆盖与默认值
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// 配置文件缺失时全部走默认值与环境变量
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.WalkForward.TrainMonths <= 0 || c.WalkForward.ValidateMonths <= 0 {
		return fmt.Errorf("walkforward windows must be positive: train=%d validate=%d",
			c.WalkForward.TrainMonths, c.WalkForward.ValidateMonths)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "backtest")
	v.SetDefault("version", "0.1.0")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)

	v.SetDefault("kafka.topic", "backtest.events")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/backtest.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("data.parquet_dir", "data")
	v.SetDefault("data.market", "us")

	v.SetDefault("backtest.initial_capital", "100000")
	v.SetDefault("backtest.stop_loss_pct", "0.05")
	v.SetDefault("backtest.take_profit_pct", "0.10")
	v.SetDefault("backtest.trailing_stop_pct", "0")
	v.SetDefault("backtest.risk_per_trade_pct", "1")
	v.SetDefault("backtest.avg_volume_window", 20)
	v.SetDefault("backtest.progress_every_bars", 500)
	v.SetDefault("backtest.progress_every_secs", 5)

	v.SetDefault("cost.liquid_base_rate", "0.0002")
	v.SetDefault("cost.illiquid_base_rate", "0.0005")
	v.SetDefault("cost.liquid_volume_threshold", "1000000")
	v.SetDefault("cost.impact_threshold", "0.10")
	v.SetDefault("cost.impact_step", "0.10")
	v.SetDefault("cost.impact_rate_per_step", "0.0001")
	v.SetDefault("cost.zero_volume_penalty_rate", "0.0005")
	v.SetDefault("cost.commission_per_share", "0.005")

	v.SetDefault("walkforward.train_months", 12)
	v.SetDefault("walkforward.validate_months", 3)
	v.SetDefault("walkforward.primary_metric", "sharpe_ratio")
	v.SetDefault("walkforward.degradation_threshold", "0.5")
	v.SetDefault("walkforward.tolerance_pct", "10")
	v.SetDefault("walkforward.baseline_dir", "baselines")
	v.SetDefault("walkforward.max_parallel_symbols", 4)
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
