package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/tubeman/internal/model"
)

// ReconcilerInterface はメンテナンスハンドラーが必要とする修復エンジンのインターフェース。
type ReconcilerInterface interface {
	Run(ctx context.Context, onlyIfDuplicatesLikely bool) (model.ReconcileReport, error)
}

// MaintenanceHandler はストア修復のHTTPハンドラー。
type MaintenanceHandler struct {
	reconciler ReconcilerInterface
}

// NewMaintenanceHandler はMaintenanceHandlerを生成する。
func NewMaintenanceHandler(reconciler ReconcilerInterface) *MaintenanceHandler {
	return &MaintenanceHandler{
		reconciler: reconciler,
	}
}

// reconcileReportResponse は修復パスの結果レスポンス。
type reconcileReportResponse struct {
	SubscriptionsRemoved int `json:"subscriptions_removed"`
	VideosRemoved        int `json:"videos_removed"`
	QueueEntriesRemoved  int `json:"queue_entries_removed"`
	InboxEntriesRemoved  int `json:"inbox_entries_removed"`
}

// Reconcile は重複除去・修復パスを1回実行する。
// ?probe=true を指定すると軽量プローブで重複の兆候がない場合にスキップする。
// POST /api/maintenance/reconcile
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	onlyIfLikely := r.URL.Query().Get("probe") == "true"

	report, err := h.reconciler.Run(r.Context(), onlyIfLikely)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reconcileReportResponse{
		SubscriptionsRemoved: report.SubscriptionsRemoved,
		VideosRemoved:        report.VideosRemoved,
		QueueEntriesRemoved:  report.QueueEntriesRemoved,
		InboxEntriesRemoved:  report.InboxEntriesRemoved,
	})
}
