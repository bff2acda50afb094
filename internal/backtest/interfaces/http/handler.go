package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/backtesting/internal/backtest/application"
	"github.com/wyfcoding/backtesting/internal/backtest/domain"
	"github.com/wyfcoding/backtesting/pkg/response"
)

// BacktestHandler 回测 REST 接口
type BacktestHandler struct {
	app *application.BacktestService
	// 请求省略参数时合并的默认引擎配置
	defaults domain.Config
}

func NewBacktestHandler(app *application.BacktestService, defaults domain.Config) *BacktestHandler {
	return &BacktestHandler{app: app, defaults: defaults}
}

// RegisterRoutes 绑定路由
func (h *BacktestHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/backtest")
	{
		api.POST("/runs", h.StartBacktest)
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/:id", h.GetRun)
		api.POST("/runs/:id/cancel", h.CancelBacktest)
		api.GET("/results", h.ListResults)
		api.GET("/results/:id", h.GetResult)
		api.GET("/symbols", h.Symbols)
		api.POST("/bars", h.ImportBars)
	}
}

// RunBacktestRequest 启动回测请求。金额与比率为十进制字符串，
// 省略的字段落到服务配置的默认值。
type RunBacktestRequest struct {
	Symbol          string `json:"symbol" binding:"required"`
	Timeframe       string `json:"timeframe"`
	Start           string `json:"start" binding:"required"`
	End             string `json:"end" binding:"required"`
	InitialCapital  string `json:"initial_capital"`
	StopLossPct     string `json:"stop_loss_pct"`
	TakeProfitPct   string `json:"take_profit_pct"`
	TrailingStopPct string `json:"trailing_stop_pct"`
	RiskPerTradePct string `json:"risk_per_trade_pct"`
}

// StartBacktest 启动异步回测，返回任务 ID
func (h *BacktestHandler) StartBacktest(c *gin.Context) {
	var req RunBacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	start, err := parseTime(req.Start)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, fmt.Sprintf("invalid start: %v", err), nil)
		return
	}
	end, err := parseTime(req.End)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, fmt.Sprintf("invalid end: %v", err), nil)
		return
	}

	cfg := h.defaults
	if err := applyOverrides(&cfg, req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = "daily"
	}

	runID, err := h.app.StartBacktest(c.Request.Context(), application.RunBacktestCommand{
		Symbol:    req.Symbol,
		Timeframe: timeframe,
		Start:     start,
		End:       end,
		Config:    cfg,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		response.ErrorWithStatus(c, status, err.Error(), nil)
		return
	}
	response.Success(c, gin.H{"run_id": runID, "status": application.StatusPending})
}

// GetRun 查询任务状态与进度
func (h *BacktestHandler) GetRun(c *gin.Context) {
	info, err := h.app.GetRun(c.Param("id"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	response.Success(c, info)
}

// ListRuns 列出全部任务
func (h *BacktestHandler) ListRuns(c *gin.Context) {
	response.Success(c, h.app.ListRuns())
}

// CancelBacktest 请求取消任务
func (h *BacktestHandler) CancelBacktest(c *gin.Context) {
	runID := c.Param("id")
	if err := h.app.CancelBacktest(runID); err != nil {
		status := http.StatusConflict
		if errors.Is(err, application.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		response.ErrorWithStatus(c, status, err.Error(), nil)
		return
	}
	response.Success(c, gin.H{"run_id": runID, "status": "cancelling"})
}

// GetResult 查询已完成回测的完整结果
func (h *BacktestHandler) GetResult(c *gin.Context) {
	result, err := h.app.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrResultNotFound) {
			status = http.StatusNotFound
		}
		response.ErrorWithStatus(c, status, err.Error(), nil)
		return
	}
	response.Success(c, result)
}

// ListResults 分页查询历史结果
func (h *BacktestHandler) ListResults(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)
	results, total, err := h.app.ListResults(c.Request.Context(), c.Query("symbol"), limit, offset)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	response.Success(c, gin.H{"results": results, "total": total, "limit": limit, "offset": offset})
}

// Symbols 列出数据源中可用的标的
func (h *BacktestHandler) Symbols(c *gin.Context) {
	symbols, err := h.app.Symbols(c.Request.Context())
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	response.Success(c, gin.H{"symbols": symbols})
}

// ImportBarsRequest 行情导入请求
type ImportBarsRequest struct {
	Bars []domain.Bar `json:"bars" binding:"required"`
}

// ImportBars 向行情存储写入一批 bar
func (h *BacktestHandler) ImportBars(c *gin.Context) {
	var req ImportBarsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.app.ImportBars(c.Request.Context(), req.Bars); err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	response.Success(c, gin.H{"imported": len(req.Bars)})
}

// applyOverrides 把请求中非空的十进制字符串覆盖到配置上
func applyOverrides(cfg *domain.Config, req RunBacktestRequest) error {
	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"initial_capital", req.InitialCapital, &cfg.InitialCapital},
		{"stop_loss_pct", req.StopLossPct, &cfg.StopLossPct},
		{"take_profit_pct", req.TakeProfitPct, &cfg.TakeProfitPct},
		{"trailing_stop_pct", req.TrailingStopPct, &cfg.TrailingStopPct},
		{"risk_per_trade_pct", req.RiskPerTradePct, &cfg.RiskPerTradePct},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// parseTime 接受 RFC3339 或日期字符串
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
