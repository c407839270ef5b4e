package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/history"
	"github.com/BaSui01/hrmflow/types"
)

// HistoryHandler serves GET /api/v1/history.
type HistoryHandler struct {
	store  history.Store
	logger *zap.Logger
}

// NewHistoryHandler 创建历史记录处理器
func NewHistoryHandler(store history.Store, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{store: store, logger: logger.With(zap.String("handler", "history"))}
}

// HandleRecent returns the newest ?limit= records (default 20, max 500).
func (h *HistoryHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := QueryInt(r, "limit", 20, 500)
	records, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		WriteErr(w, types.NewStorageError("history recent", err), h.logger)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	WriteSuccess(w, records)
}
