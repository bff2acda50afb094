package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	btapp "github.com/wyfcoding/backtesting/internal/backtest/application"
	btdomain "github.com/wyfcoding/backtesting/internal/backtest/domain"
	"github.com/wyfcoding/backtesting/internal/backtest/infrastructure/messaging"
	"github.com/wyfcoding/backtesting/internal/backtest/infrastructure/persistence/mysql"
	"github.com/wyfcoding/backtesting/internal/backtest/infrastructure/persistence/parquet"
	bthttp "github.com/wyfcoding/backtesting/internal/backtest/interfaces/http"
	wfapp "github.com/wyfcoding/backtesting/internal/walkforward/application"
	wfdomain "github.com/wyfcoding/backtesting/internal/walkforward/domain"
	"github.com/wyfcoding/backtesting/internal/walkforward/infrastructure/persistence/file"
	wfhttp "github.com/wyfcoding/backtesting/internal/walkforward/interfaces/http"
	"github.com/wyfcoding/backtesting/pkg/config"
	"github.com/wyfcoding/backtesting/pkg/db"
	"github.com/wyfcoding/backtesting/pkg/logger"
	"github.com/wyfcoding/backtesting/pkg/metrics"
	"github.com/wyfcoding/backtesting/pkg/mq"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("service bootstrap failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.Get()
	log.Info("starting service", "name", cfg.ServiceName, "version", cfg.Version, "env", cfg.Environment)

	btCfg, err := buildBacktestConfig(cfg)
	if err != nil {
		return err
	}
	wfCfg, err := buildWalkForwardConfig(cfg, btCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 数据库
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer database.Close()

	resultRepo := mysql.NewResultRepository(database.DB)
	if err := resultRepo.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate tables: %w", err)
	}

	// 行情与基线存储
	barRepo := parquet.NewBarRepository(cfg.Data.ParquetDir, cfg.Data.Market)
	baselineRepo, err := file.NewBaselineRepository(cfg.WalkForward.BaselineDir)
	if err != nil {
		return fmt.Errorf("init baseline store: %w", err)
	}

	// Kafka，未配置 broker 时降级为空实现
	var publisher btdomain.EventPublisher = btdomain.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		defer producer.Close()
		publisher = messaging.NewKafkaEventPublisher(producer, log)
		log.Info("kafka event publisher enabled", "topic", cfg.Kafka.Topic)
	} else {
		log.Info("kafka brokers not configured, events disabled")
	}

	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	newSource := func(symbol string) btdomain.SignalSource {
		return btdomain.NewCrossoverSource(20, 50, btCfg.StopLossPct)
	}
	sizer := btdomain.RiskPerTradeSizer{}

	btService := btapp.NewBacktestService(barRepo, resultRepo, publisher, m, newSource, sizer, log)
	wfService := wfapp.NewWalkForwardService(barRepo, baselineRepo, publisher, m, newSource, sizer, log)

	router := newRouter(cfg, m)
	bthttp.NewBacktestHandler(btService, btCfg).RegisterRoutes(router)
	wfhttp.NewWalkForwardHandler(wfService, wfCfg).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("service stopped")
	return nil
}

func newRouter(cfg *config.Config, m *metrics.Metrics) *gin.Engine {
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.Observe(time.Since(start).Seconds())
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// buildBacktestConfig 把配置文件中的十进制字符串解析为引擎配置
func buildBacktestConfig(cfg *config.Config) (btdomain.Config, error) {
	out := btdomain.Config{
		AvgVolumeWindow:   cfg.Backtest.AvgVolumeWindow,
		ProgressEveryBars: cfg.Backtest.ProgressEveryBars,
		ProgressEverySecs: cfg.Backtest.ProgressEverySecs,
	}
	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"backtest.initial_capital", cfg.Backtest.InitialCapital, &out.InitialCapital},
		{"backtest.stop_loss_pct", cfg.Backtest.StopLossPct, &out.StopLossPct},
		{"backtest.take_profit_pct", cfg.Backtest.TakeProfitPct, &out.TakeProfitPct},
		{"backtest.trailing_stop_pct", cfg.Backtest.TrailingStopPct, &out.TrailingStopPct},
		{"backtest.risk_per_trade_pct", cfg.Backtest.RiskPerTradePct, &out.RiskPerTradePct},
		{"cost.liquid_base_rate", cfg.Cost.LiquidBaseRate, &out.Cost.LiquidBaseRate},
		{"cost.illiquid_base_rate", cfg.Cost.IlliquidBaseRate, &out.Cost.IlliquidBaseRate},
		{"cost.liquid_volume_threshold", cfg.Cost.LiquidVolumeThreshold, &out.Cost.LiquidVolumeThreshold},
		{"cost.impact_threshold", cfg.Cost.ImpactThreshold, &out.Cost.ImpactThreshold},
		{"cost.impact_step", cfg.Cost.ImpactStep, &out.Cost.ImpactStep},
		{"cost.impact_rate_per_step", cfg.Cost.ImpactRatePerStep, &out.Cost.ImpactRatePerStep},
		{"cost.zero_volume_penalty_rate", cfg.Cost.ZeroVolumePenaltyRate, &out.Cost.ZeroVolumePenaltyRate},
		{"cost.commission_per_share", cfg.Cost.CommissionPerShare, &out.Cost.CommissionPerShare},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return out, fmt.Errorf("parse %s %q: %w", f.name, f.value, err)
		}
		*f.dst = d
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// buildWalkForwardConfig 解析前推验证配置，嵌套的引擎配置复用回测默认值
func buildWalkForwardConfig(cfg *config.Config, btCfg btdomain.Config) (wfdomain.Config, error) {
	threshold, err := decimal.NewFromString(cfg.WalkForward.DegradationThreshold)
	if err != nil {
		return wfdomain.Config{}, fmt.Errorf("parse walkforward.degradation_threshold %q: %w", cfg.WalkForward.DegradationThreshold, err)
	}
	tolerance, err := decimal.NewFromString(cfg.WalkForward.TolerancePct)
	if err != nil {
		return wfdomain.Config{}, fmt.Errorf("parse walkforward.tolerance_pct %q: %w", cfg.WalkForward.TolerancePct, err)
	}
	out := wfdomain.Config{
		TrainMonths:          cfg.WalkForward.TrainMonths,
		ValidateMonths:       cfg.WalkForward.ValidateMonths,
		PrimaryMetric:        cfg.WalkForward.PrimaryMetric,
		DegradationThreshold: threshold,
		TolerancePct:         tolerance,
		MaxParallelSymbols:   cfg.WalkForward.MaxParallelSymbols,
		Backtest:             btCfg,
	}
	if err := out.Validate(); err != nil {
		return wfdomain.Config{}, err
	}
	return out, nil
}
