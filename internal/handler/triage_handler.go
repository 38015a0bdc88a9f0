package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tubeman/internal/model"
)

// TriageServiceInterface は視聴キュー・受信箱ハンドラーが必要とするサービスインターフェース。
type TriageServiceInterface interface {
	ListQueue(ctx context.Context) ([]*model.QueueEntry, error)
	AddToQueue(ctx context.Context, videoID string, position int) (*model.QueueEntry, error)
	MoveQueueEntry(ctx context.Context, entryID string, newIndex int) error
	RemoveFromQueue(ctx context.Context, entryID string) error
	ListInbox(ctx context.Context) ([]*model.InboxEntry, error)
	AddToInbox(ctx context.Context, videoID string, date *time.Time) (*model.InboxEntry, error)
	ClearFromInbox(ctx context.Context, entryID string) error
}

// TriageHandler は視聴キューと受信箱のHTTPハンドラー。
type TriageHandler struct {
	service TriageServiceInterface
}

// NewTriageHandler はTriageHandlerを生成する。
func NewTriageHandler(service TriageServiceInterface) *TriageHandler {
	return &TriageHandler{
		service: service,
	}
}

// queueEntryResponse は視聴キューエントリのAPIレスポンス。
type queueEntryResponse struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"video_id"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
}

// inboxEntryResponse は受信箱エントリのAPIレスポンス。
type inboxEntryResponse struct {
	ID        string     `json:"id"`
	VideoID   string     `json:"video_id"`
	Date      *time.Time `json:"date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ListQueue は視聴キューをorder昇順で取得する。
// GET /api/queue
func (h *TriageHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListQueue(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]queueEntryResponse, len(entries))
	for i, entry := range entries {
		results[i] = queueEntryResponse{
			ID:        entry.ID,
			VideoID:   entry.VideoID,
			Order:     entry.Order,
			CreatedAt: entry.CreatedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// addToQueueRequest はキュー追加リクエストのボディ。
// positionが範囲外の場合は末尾に追加される。
type addToQueueRequest struct {
	VideoID  string `json:"video_id"`
	Position int    `json:"position"`
}

// AddToQueue は動画を視聴キューの指定位置に追加する。
// 同じ動画のエントリが既に存在する場合は移動として扱う。
// POST /api/queue
func (h *TriageHandler) AddToQueue(w http.ResponseWriter, r *http.Request) {
	var req addToQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	entry, err := h.service.AddToQueue(r.Context(), req.VideoID, req.Position)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(queueEntryResponse{
		ID:        entry.ID,
		VideoID:   entry.VideoID,
		Order:     entry.Order,
		CreatedAt: entry.CreatedAt,
	})
}

// moveQueueEntryRequest はキューエントリ移動リクエストのボディ。
type moveQueueEntryRequest struct {
	Position int `json:"position"`
}

// MoveQueueEntry はキューエントリを指定位置に移動する。
// PATCH /api/queue/{entryId}
func (h *TriageHandler) MoveQueueEntry(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryId")

	var req moveQueueEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := h.service.MoveQueueEntry(r.Context(), entryID, req.Position); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveFromQueue はキューエントリを削除し、残りを再採番する。
// DELETE /api/queue/{entryId}
func (h *TriageHandler) RemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryId")

	if err := h.service.RemoveFromQueue(r.Context(), entryID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListInbox は受信箱をdate降順で取得する。
// GET /api/inbox
func (h *TriageHandler) ListInbox(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListInbox(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]inboxEntryResponse, len(entries))
	for i, entry := range entries {
		results[i] = inboxEntryResponse{
			ID:        entry.ID,
			VideoID:   entry.VideoID,
			Date:      entry.Date,
			CreatedAt: entry.CreatedAt,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// addToInboxRequest は受信箱追加リクエストのボディ。
// dateを省略した場合は動画の公開日時が使用される。
type addToInboxRequest struct {
	VideoID string     `json:"video_id"`
	Date    *time.Time `json:"date,omitempty"`
}

// AddToInbox は動画を受信箱に追加する。既に存在する場合は既存エントリを返す。
// POST /api/inbox
func (h *TriageHandler) AddToInbox(w http.ResponseWriter, r *http.Request) {
	var req addToInboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	entry, err := h.service.AddToInbox(r.Context(), req.VideoID, req.Date)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(inboxEntryResponse{
		ID:        entry.ID,
		VideoID:   entry.VideoID,
		Date:      entry.Date,
		CreatedAt: entry.CreatedAt,
	})
}

// ClearFromInbox は受信箱エントリを削除し、動画にクリア日時を記録する。
// DELETE /api/inbox/{entryId}
func (h *TriageHandler) ClearFromInbox(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryId")

	if err := h.service.ClearFromInbox(r.Context(), entryID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
