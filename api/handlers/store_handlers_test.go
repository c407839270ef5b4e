package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/history"
	"github.com/BaSui01/hrmflow/knowledge"
	"github.com/BaSui01/hrmflow/types"
)

func TestHandleRecent(t *testing.T) {
	store := history.NewMemoryStore(10)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(context.Background(), history.Record{
			RunID: fmt.Sprintf("run-%d", i), Query: "q", Tier: types.TierSimple, Success: true,
		}))
	}
	h := NewHistoryHandler(store, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleRecent(w, httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=2", nil))

	require.Equal(t, http.StatusOK, w.Code)
	records := decodeResponse(t, w).Data.([]any)
	require.Len(t, records, 2)
	assert.Equal(t, "run-4", records[0].(map[string]any)["run_id"])
	assert.Equal(t, "run-3", records[1].(map[string]any)["run_id"])
}

func TestHandleRecent_EmptyIsArray(t *testing.T) {
	h := NewHistoryHandler(history.NewMemoryStore(10), zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleRecent(w, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func newKnowledgeHandler(t *testing.T) *KnowledgeHandler {
	t.Helper()
	store := knowledge.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Remember(ctx, knowledge.Entry{Key: "k1", MemoryType: "insight", Content: "redis cache latency spikes"}))
	require.NoError(t, store.Remember(ctx, knowledge.Entry{Key: "k2", MemoryType: "insight", Content: "postgres vacuum schedule"}))
	return NewKnowledgeHandler(store, zap.NewNop())
}

func TestHandleRecall(t *testing.T) {
	h := newKnowledgeHandler(t)

	w := httptest.NewRecorder()
	h.HandleRecall(w, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge?query=redis+latency", nil))

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeResponse(t, w).Data.(map[string]any)
	assert.Equal(t, "redis latency", data["query"])
	assert.EqualValues(t, 2, data["total_entries"])
	matches := data["matches"].([]any)
	require.Len(t, matches, 1)
	assert.Equal(t, "k1", matches[0].(map[string]any)["key"])
}

func TestHandleRecall_RequiresQuery(t *testing.T) {
	h := newKnowledgeHandler(t)

	w := httptest.NewRecorder()
	h.HandleRecall(w, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRecall_NoMatchesIsArray(t *testing.T) {
	h := newKnowledgeHandler(t)

	w := httptest.NewRecorder()
	h.HandleRecall(w, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge?query=kubernetes", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"matches":[]`)
}

func TestHandleGet(t *testing.T) {
	h := newKnowledgeHandler(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/knowledge/{key}", h.HandleGet)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/k2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeResponse(t, w).Data.(map[string]any)
	assert.Equal(t, "postgres vacuum schedule", data["content"])

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrNotFound), decodeResponse(t, w).Error.Code)
}
