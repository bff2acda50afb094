// Package metrics 提供 Prometheus helper，包含 HTTP 与回测业务指标
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wyfcoding/backtesting/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 数据库查询耗时
	DBQueryDuration prometheus.Histogram

	// 回测业务指标
	BacktestsStarted   prometheus.Counter
	BacktestsCompleted prometheus.Counter
	BacktestsFailed    prometheus.Counter
	BacktestDuration   prometheus.Histogram
	BarsProcessed      prometheus.Counter
	BarsSkipped        prometheus.Counter
	OrdersFilled       prometheus.Counter
	OrdersRejected     prometheus.Counter

	// 滚动验证指标
	WalkForwardWindows  prometheus.Counter
	BaselineRegressions prometheus.Counter

	registry *prometheus.Registry
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		DBQueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		BacktestsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "backtests_started_total",
			Help:      "Total backtest runs started",
		}),
		BacktestsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "backtests_completed_total",
			Help:      "Total backtest runs completed",
		}),
		BacktestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "backtests_failed_total",
			Help:      "Total backtest runs failed",
		}),
		BacktestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "backtest_duration_seconds",
			Help:      "Backtest run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		BarsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "bars_processed_total",
			Help:      "Total bars replayed through the engine",
		}),
		BarsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "bars_skipped_total",
			Help:      "Total bars rejected by data quality checks",
		}),
		OrdersFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "orders_filled_total",
			Help:      "Total simulated order fills",
		}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "orders_rejected_total",
			Help:      "Total simulated orders cancelled or rejected",
		}),
		WalkForwardWindows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "walkforward_windows_total",
			Help:      "Total walk-forward windows evaluated",
		}),
		BaselineRegressions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "baseline_regressions_total",
			Help:      "Total baseline metric regressions detected",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBQueryDuration,
		m.BacktestsStarted,
		m.BacktestsCompleted,
		m.BacktestsFailed,
		m.BacktestDuration,
		m.BarsProcessed,
		m.BarsSkipped,
		m.OrdersFilled,
		m.OrdersRejected,
		m.WalkForwardWindows,
		m.BaselineRegressions,
	)

	return m
}

// Handler 返回 Prometheus 指标的 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在独立端口暴露指标，阻塞直到 ctx 取消
func (m *Metrics) Serve(ctx context.Context, port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info(ctx, "metrics server listening", "port", port, "path", path)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
