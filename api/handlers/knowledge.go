package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/knowledge"
	"github.com/BaSui01/hrmflow/types"
)

// KnowledgeHandler 知识库查询
type KnowledgeHandler struct {
	store  knowledge.Store
	logger *zap.Logger
}

// NewKnowledgeHandler 创建知识库处理器
func NewKnowledgeHandler(store knowledge.Store, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{store: store, logger: logger.With(zap.String("handler", "knowledge"))}
}

// RecallResponse GET /api/v1/knowledge 的响应
type RecallResponse struct {
	Query   string            `json:"query"`
	Matches []knowledge.Match `json:"matches"`
	Total   int64             `json:"total_entries"`
}

// HandleRecall ranks entries against ?query= and returns at most ?limit=.
func (h *KnowledgeHandler) HandleRecall(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("query")
	if q == "" {
		WriteError(w, types.NewInvalidQueryError("query parameter is required"), h.logger)
		return
	}
	limit := QueryInt(r, "limit", knowledge.DefaultRecallLimit, 100)

	matches, err := h.store.Recall(r.Context(), q, limit)
	if err != nil {
		WriteErr(w, types.NewStorageError("knowledge recall", err), h.logger)
		return
	}
	total, err := h.store.Count(r.Context())
	if err != nil {
		WriteErr(w, types.NewStorageError("knowledge count", err), h.logger)
		return
	}
	if matches == nil {
		matches = []knowledge.Match{}
	}
	WriteSuccess(w, RecallResponse{Query: q, Matches: matches, Total: total})
}

// HandleGet serves GET /api/v1/knowledge/{key}.
func (h *KnowledgeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	entry, err := h.store.Get(r.Context(), key)
	if errors.Is(err, knowledge.ErrNotFound) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "knowledge entry not found", h.logger)
		return
	}
	if err != nil {
		WriteErr(w, types.NewStorageError("knowledge get", err), h.logger)
		return
	}
	WriteSuccess(w, entry)
}
