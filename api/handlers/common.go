package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/types"
)

// MaxBodyBytes 请求体上限
const MaxBodyBytes = 1 << 20

// =============================================================================
// 📦 统一响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: data, Timestamp: time.Now()})
}

// WriteError 写入 types.Error；5xx 记为 error 日志，4xx 记为 debug
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = statusForCode(err.Code)
	}
	if logger != nil {
		level := logger.Debug
		if status >= http.StatusInternalServerError {
			level = logger.Error
		}
		level("API error",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Error(err.Cause),
		)
	}
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: string(err.Code), Message: err.Message, Retryable: err.Retryable},
		Timestamp: time.Now(),
	})
}

// WriteErr writes any error, unwrapping a *types.Error when present.
func WriteErr(w http.ResponseWriter, err error, logger *zap.Logger) {
	if apiErr, ok := types.AsError(err); ok {
		WriteError(w, apiErr, logger)
		return
	}
	WriteError(w, types.NewError(types.ErrInternalError, "internal error").WithCause(err), logger)
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

func statusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest, types.ErrInvalidQuery:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrNotFound, types.ErrToolNotFound:
		return http.StatusNotFound
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrTimeout, types.ErrToolTimeout:
		return http.StatusGatewayTimeout
	case types.ErrUnavailable, types.ErrCircuitOpen:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError, types.ErrToolExecution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求解析
// =============================================================================

// DecodeJSONBody decodes a JSON body of at most MaxBodyBytes, rejecting
// unknown fields. On failure the error response is already written.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, err, logger)
		return err
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
		switch {
		case errors.As(err, &maxErr):
			apiErr = types.NewError(types.ErrInvalidRequest, "request body too large").
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		case errors.Is(err, io.EOF):
			apiErr = types.NewError(types.ErrInvalidRequest, "request body is empty")
		}
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}

// ValidateContentType 要求 application/json
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	switch r.Header.Get("Content-Type") {
	case "application/json", "application/json; charset=utf-8":
		return true
	}
	WriteError(w, types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").
		WithHTTPStatus(http.StatusUnsupportedMediaType), logger)
	return false
}

// QueryInt parses a positive integer query parameter, falling back to def
// and clamping to max.
func QueryInt(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// =============================================================================
// 📊 响应包装器
// =============================================================================

// ResponseWriter 捕获状态码与写出字节数
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	Written      bool
	BytesWritten int64
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader 只记录第一次调用
func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.Written {
		return
	}
	rw.StatusCode = code
	rw.Written = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write 统计写出字节
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack forwards to the underlying writer for WebSocket upgrades.
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.Written = true
	rw.StatusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Flush implements http.Flusher.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
