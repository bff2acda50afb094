package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/backtesting/internal/walkforward/application"
	"github.com/wyfcoding/backtesting/internal/walkforward/domain"
	"github.com/wyfcoding/backtesting/pkg/response"
)

// WalkForwardHandler 前推验证 REST 接口
type WalkForwardHandler struct {
	app *application.WalkForwardService
	// 请求省略参数时合并的默认套件配置
	defaults domain.Config
}

func NewWalkForwardHandler(app *application.WalkForwardService, defaults domain.Config) *WalkForwardHandler {
	return &WalkForwardHandler{app: app, defaults: defaults}
}

// RegisterRoutes 绑定路由
func (h *WalkForwardHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/walkforward")
	{
		api.POST("/suites", h.StartSuite)
		api.GET("/suites", h.ListSuites)
		api.GET("/suites/:id", h.GetSuite)
		api.GET("/suites/:id/report", h.GetReport)
		api.POST("/suites/:id/cancel", h.CancelSuite)
		api.POST("/suites/:id/baselines", h.SaveBaseline)
		api.GET("/baselines", h.ListBaselines)
	}
}

// RunSuiteRequest 启动套件请求。symbols 为空时覆盖数据源全部标的。
type RunSuiteRequest struct {
	Symbols        []string `json:"symbols"`
	Timeframe      string   `json:"timeframe"`
	Start          string   `json:"start" binding:"required"`
	End            string   `json:"end" binding:"required"`
	TrainMonths    int      `json:"train_months"`
	ValidateMonths int      `json:"validate_months"`
	PrimaryMetric  string   `json:"primary_metric"`
}

// StartSuite 启动异步前推验证套件，返回套件 ID
func (h *WalkForwardHandler) StartSuite(c *gin.Context) {
	var req RunSuiteRequest
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
	if req.TrainMonths > 0 {
		cfg.TrainMonths = req.TrainMonths
	}
	if req.ValidateMonths > 0 {
		cfg.ValidateMonths = req.ValidateMonths
	}
	if req.PrimaryMetric != "" {
		cfg.PrimaryMetric = req.PrimaryMetric
	}

	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = "daily"
	}

	suiteID, err := h.app.StartSuite(c.Request.Context(), application.RunSuiteCommand{
		Symbols:   req.Symbols,
		Timeframe: timeframe,
		Start:     start,
		End:       end,
		Config:    cfg,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidWindowConfig) {
			status = http.StatusBadRequest
		}
		response.ErrorWithStatus(c, status, err.Error(), nil)
		return
	}
	response.Success(c, gin.H{"suite_id": suiteID, "status": application.SuitePending})
}

// GetSuite 查询套件任务状态
func (h *WalkForwardHandler) GetSuite(c *gin.Context) {
	info, err := h.app.GetSuite(c.Param("id"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	response.Success(c, info)
}

// ListSuites 列出全部套件任务
func (h *WalkForwardHandler) ListSuites(c *gin.Context) {
	response.Success(c, h.app.ListSuites())
}

// GetReport 查询已完成套件的完整报告
func (h *WalkForwardHandler) GetReport(c *gin.Context) {
	report, err := h.app.GetReport(c.Param("id"))
	if err != nil {
		status := http.StatusConflict
		if errors.Is(err, application.ErrSuiteNotFound) {
			status = http.StatusNotFound
		}
		response.ErrorWithStatus(c, status, err.Error(), nil)
		return
	}
	response.Success(c, report)
}

// CancelSuite 请求取消套件
func (h *WalkForwardHandler) CancelSuite(c *gin.Context) {
	suiteID := c.Param("id")
	if err := h.app.CancelSuite(suiteID); err != nil {
		status := http.StatusConflict
		if errors.Is(err, application.ErrSuiteNotFound) {
			status = http.StatusNotFound
		}
		response.ErrorWithStatus(c, status, err.Error(), nil)
		return
	}
	response.Success(c, gin.H{"suite_id": suiteID, "status": "cancelling"})
}

// SaveBaselineRequest 另存基线请求
type SaveBaselineRequest struct {
	Symbol  string `json:"symbol" binding:"required"`
	Version string `json:"version"`
}

// SaveBaseline 把套件中某 symbol 的汇总另存为新基线
func (h *WalkForwardHandler) SaveBaseline(c *gin.Context) {
	var req SaveBaselineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	baseline, err := h.app.SaveBaseline(c.Request.Context(), c.Param("id"), req.Symbol, req.Version)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, application.ErrSuiteNotFound) {
			status = http.StatusNotFound
		}
		response.ErrorWithStatus(c, status, err.Error(), nil)
		return
	}
	response.Success(c, baseline)
}

// ListBaselines 列出全部已存基线
func (h *WalkForwardHandler) ListBaselines(c *gin.Context) {
	baselines, err := h.app.ListBaselines(c.Request.Context())
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	response.Success(c, gin.H{"baselines": baselines})
}

// parseTime 接受 RFC3339 或日期字符串
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
