package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthCheck 可插拔的依赖检查（数据库、Redis、MongoDB）
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// funcCheck adapts a ping function.
type funcCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcCheck) Name() string                    { return c.name }
func (c funcCheck) Check(ctx context.Context) error { return c.fn(ctx) }

// NewCheck 用 ping 函数构造检查
func NewCheck(name string, ping func(ctx context.Context) error) HealthCheck {
	return funcCheck{name: name, fn: ping}
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy | unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // pass | fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// BuildInfo 由 -ldflags 注入的版本信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	timeout time.Duration
	mu      sync.RWMutex
	checks  []HealthCheck
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{logger: logger, timeout: 5 * time.Second}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleHealth 存活探针（/health、/healthz），不检查依赖
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleReady runs every registered check in parallel; any failure
// answers 503.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := h.Run(r.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// Run executes the checks; also used by "hrmflow health".
func (h *HealthHandler) Run(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)
			res := CheckResult{Status: "pass", Latency: time.Since(start).String()}
			if err != nil {
				res.Status = "fail"
				res.Message = err.Error()
				h.logger.Warn("health check failed", zap.String("check", check.Name()), zap.Error(err))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{Status: "healthy", Timestamp: time.Now(), Checks: make(map[string]CheckResult, len(checks))}
	for i, check := range checks {
		status.Checks[check.Name()] = results[i]
		if results[i].Status != "pass" {
			status.Status = "unhealthy"
		}
	}
	return status
}

// HandleVersion 返回构建信息
func (h *HealthHandler) HandleVersion(info BuildInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}
