package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/engine"
	"github.com/BaSui01/hrmflow/pattern"
	"github.com/BaSui01/hrmflow/types"
)

// =============================================================================
// 🧠 HRM 查询 Handler
// =============================================================================

// Executor is the engine surface used by the HTTP API.
type Executor interface {
	Execute(ctx context.Context, query string) (*engine.Result, error)
	ExecuteBatch(ctx context.Context, queries []string) ([]engine.BatchItem, error)
	Analyze(query string) (pattern.Analysis, error)
	Status(ctx context.Context) (engine.Status, error)
}

// QueryRequest POST /api/v1/query 与 /api/v1/analyze 的请求体
type QueryRequest struct {
	Query string `json:"query"`
}

// BatchRequest POST /api/v1/query/batch 的请求体
type BatchRequest struct {
	Queries []string `json:"queries"`
}

// BatchResponse 批量执行结果
type BatchResponse struct {
	Items     []engine.BatchItem `json:"items"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
}

// QueryHandler 处理执行、批量、分析与状态请求
type QueryHandler struct {
	engine Executor
	logger *zap.Logger
}

// NewQueryHandler 创建查询处理器
func NewQueryHandler(e Executor, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{engine: e, logger: logger.With(zap.String("handler", "query"))}
}

// HandleQuery runs the full pipeline. Invalid queries answer 400; a failed
// execution still answers 200 with success=false in the result.
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	result, err := h.engine.Execute(r.Context(), req.Query)
	if err != nil {
		h.writeExecError(w, err)
		return
	}
	WriteSuccess(w, result)
}

// HandleBatch 批量执行
func (h *QueryHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	items, err := h.engine.ExecuteBatch(r.Context(), req.Queries)
	if err != nil {
		h.writeExecError(w, err)
		return
	}

	resp := BatchResponse{Items: items}
	for _, it := range items {
		if it.Error == "" && it.Result != nil && it.Result.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	WriteSuccess(w, resp)
}

// HandleAnalyze 只做复杂度评估与模式选择
func (h *QueryHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	analysis, err := h.engine.Analyze(req.Query)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, analysis)
}

// HandleStatus 返回引擎状态
func (h *QueryHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		WriteErr(w, types.NewStorageError("status", err), h.logger)
		return
	}
	WriteSuccess(w, status)
}

func (h *QueryHandler) writeExecError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, types.NewError(types.ErrTimeout, "execution timed out").WithCause(err), h.logger)
	case errors.Is(err, context.Canceled):
		// 客户端已断开，无需写响应体
		h.logger.Debug("request cancelled by client")
	default:
		WriteErr(w, err, h.logger)
	}
}
