package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tubeman/internal/model"
	"github.com/hitoshi/tubeman/internal/subscription"
)

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// AddSubscriptions は複数の購読入力を並列処理し、入力1件ごとの結果を返す。
	AddSubscriptions(ctx context.Context, inputs []model.SubscriptionInput) ([]model.SubscriptionState, error)
	// SubscribeTo は単一チャンネルを購読する。existingIDが指定された場合は再購読。
	SubscribeTo(ctx context.Context, channelID, existingID string) error
	// IsSubscribed はチャンネルの購読状態を返し、あればメタデータを補完する。
	IsSubscribed(ctx context.Context, channelID string, info *model.ChannelInfo) (bool, error)
	// Unsubscribe は購読をアーカイブし、履歴のない所有動画を削除する。
	Unsubscribe(ctx context.Context, channelID string) error
	// ListFeedURLs は購読中チャンネルのタイトルとフィードURLの一覧を返す。
	ListFeedURLs(ctx context.Context, includeArchived bool) ([]subscription.FeedURL, error)
}

// SubscriptionHandler は購読管理のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
	}
}

// channelInfoRequest は購読入力として与えるチャンネルメタデータ。
type channelInfoRequest struct {
	ChannelID    string `json:"channel_id"`
	FeedURL      string `json:"feed_url"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
	UserName     string `json:"user_name"`
}

// subscriptionInputRequest はバッチ購読追加の入力1件。
type subscriptionInputRequest struct {
	URL     string              `json:"url"`
	Channel *channelInfoRequest `json:"channel,omitempty"`
}

// addSubscriptionsRequest はバッチ購読追加リクエストのボディ。
type addSubscriptionsRequest struct {
	Subscriptions []subscriptionInputRequest `json:"subscriptions"`
}

// subscriptionStateResponse は入力1件ごとの結果レスポンス。
type subscriptionStateResponse struct {
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	UserName     string `json:"user_name,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	Success      bool   `json:"success"`
	AlreadyAdded bool   `json:"already_added"`
	Error        string `json:"error,omitempty"`
}

// AddSubscriptions は複数チャンネルの一括購読追加を行う。
// 入力1件ごとの成功・既追加・失敗を返す。
// POST /api/subscriptions
func (h *SubscriptionHandler) AddSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req addSubscriptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}
	if len(req.Subscriptions) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "EMPTY_BATCH",
			Message:  "購読入力が指定されていません。",
			Category: "validation",
			Action:   "1件以上の購読入力を指定してください。",
		})
		return
	}

	inputs := make([]model.SubscriptionInput, len(req.Subscriptions))
	for i, in := range req.Subscriptions {
		inputs[i] = model.SubscriptionInput{URL: in.URL}
		if in.Channel != nil {
			inputs[i].Channel = &model.ChannelInfo{
				ChannelID:    in.Channel.ChannelID,
				FeedURL:      in.Channel.FeedURL,
				Title:        in.Channel.Title,
				ThumbnailURL: in.Channel.ThumbnailURL,
				UserName:     in.Channel.UserName,
			}
		}
	}

	states, err := h.service.AddSubscriptions(r.Context(), inputs)
	if err != nil {
		// コミット失敗はバッチ全体のエラー。件別結果は返さない
		handleServiceError(w, err)
		return
	}

	results := make([]subscriptionStateResponse, len(states))
	for i, state := range states {
		results[i] = subscriptionStateResponse{
			URL:          state.URL,
			Title:        state.Title,
			UserName:     state.UserName,
			ChannelID:    state.ChannelID,
			Success:      state.Success,
			AlreadyAdded: state.AlreadyAdded,
			Error:        state.Error,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]subscriptionStateResponse{"results": results})
}

// subscribeRequest は単一購読リクエストのボディ。
type subscribeRequest struct {
	ChannelID  string `json:"channel_id"`
	ExistingID string `json:"existing_id,omitempty"`
}

// Subscribe は単一チャンネルを購読する。
// existing_idが指定された場合はアーカイブ済み購読の再有効化（ネットワーク不要）。
// POST /api/subscriptions/subscribe
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if err := h.service.SubscribeTo(r.Context(), req.ChannelID, req.ExistingID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// subscriptionStatusResponse は購読状態確認のレスポンス。
type subscriptionStatusResponse struct {
	Subscribed bool `json:"subscribed"`
}

// Status はチャンネルの購読状態を確認する。
// クエリにメタデータが含まれる場合、既存購読の欠落フィールドを補完する。
// GET /api/subscriptions/status?channel_id=...
func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channelID := q.Get("channel_id")
	if channelID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewNoIdentityProvidedError())
		return
	}

	var info *model.ChannelInfo
	if q.Get("title") != "" || q.Get("thumbnail_url") != "" || q.Get("user_name") != "" {
		info = &model.ChannelInfo{
			ChannelID:    channelID,
			Title:        q.Get("title"),
			ThumbnailURL: q.Get("thumbnail_url"),
			UserName:     q.Get("user_name"),
		}
	}

	subscribed, err := h.service.IsSubscribed(r.Context(), channelID, info)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subscriptionStatusResponse{Subscribed: subscribed})
}

// Unsubscribe は購読を解除する。
// 購読はアーカイブされ、視聴履歴のない所有動画だけが削除される。
// DELETE /api/subscriptions/{channelId}
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")

	if err := h.service.Unsubscribe(r.Context(), channelID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// feedURLResponse は購読フィードURL一覧の1件。
type feedURLResponse struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// ListFeedURLs は購読中チャンネルのフィードURL一覧を取得する。
// GET /api/feeds?include_archived=true
func (h *SubscriptionHandler) ListFeedURLs(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"

	feeds, err := h.service.ListFeedURLs(r.Context(), includeArchived)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]feedURLResponse, len(feeds))
	for i, f := range feeds {
		results[i] = feedURLResponse{Title: f.Title, Link: f.Link}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}
