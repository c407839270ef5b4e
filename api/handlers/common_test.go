package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/types"
)

// =============================================================================
// 🧪 响应辅助函数测试
// =============================================================================

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, []int{1, 2, 3})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, "[1,2,3]", w.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"key": "value"})

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    *types.Error
		status int
	}{
		{"invalid query", types.NewInvalidQueryError("query cannot be empty"), http.StatusBadRequest},
		{"not found", types.NewError(types.ErrNotFound, "entry not found"), http.StatusNotFound},
		{"rate limited", types.NewError(types.ErrRateLimited, "slow down"), http.StatusTooManyRequests},
		{"explicit status", types.NewError(types.ErrInvalidRequest, "too big").WithHTTPStatus(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge},
		{"internal", types.NewError(types.ErrInternalError, "boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.status, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
		})
	}
}

func TestWriteErr_PlainError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErr(w, errors.New("disk on fire"), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "disk")
}

func TestWriteErr_Wrapped(t *testing.T) {
	w := httptest.NewRecorder()
	err := errors.Join(types.NewError(types.ErrTimeout, "deadline"))
	WriteErr(w, err, zap.NewNop())
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusForCode(types.ErrCircuitOpen))
	assert.Equal(t, http.StatusBadGateway, statusForCode(types.ErrToolExecution))
	assert.Equal(t, http.StatusInternalServerError, statusForCode(types.ErrStorage))
}

// =============================================================================
// 🧪 请求解析测试
// =============================================================================

type decodeTarget struct {
	Name string `json:"name"`
}

func TestDecodeJSONBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		status  int
	}{
		{"valid", `{"name":"small"}`, false, http.StatusOK},
		{"empty", ``, true, http.StatusBadRequest},
		{"malformed", `{"name":`, true, http.StatusBadRequest},
		{"unknown field", `{"name":"x","extra":1}`, true, http.StatusBadRequest},
		{"too large", `{"name":"` + strings.Repeat("x", 2<<20) + `"}`, true, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst decodeTarget
			err := DecodeJSONBody(w, r, &dst, zap.NewNop())
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, "small", dst.Name)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestValidateContentType(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Content-Type", "application/json")
	assert.True(t, ValidateContentType(httptest.NewRecorder(), r, nil))

	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	assert.False(t, ValidateContentType(w, r, nil))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=25&bad=x&neg=-3&big=5000", nil)
	assert.Equal(t, 25, QueryInt(r, "limit", 10, 100))
	assert.Equal(t, 10, QueryInt(r, "bad", 10, 100))
	assert.Equal(t, 10, QueryInt(r, "neg", 10, 100))
	assert.Equal(t, 100, QueryInt(r, "big", 10, 100))
	assert.Equal(t, 10, QueryInt(r, "missing", 10, 100))
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusTeapot)
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.Equal(t, int64(5), rw.BytesWritten)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	_, _, err = rw.Hijack()
	assert.Error(t, err, "recorder cannot hijack")
}
