package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/tubeman/internal/metrics"
	"github.com/hitoshi/tubeman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// サービス
	SubscriptionService SubscriptionServiceInterface
	TriageService       TriageServiceInterface
	Reconciler          ReconcilerInterface

	// Prometheusスクレイプ用。nilの場合は/metricsを公開しない
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// /healthz と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	subHandler := NewSubscriptionHandler(deps.SubscriptionService)
	triageHandler := NewTriageHandler(deps.TriageService)
	maintenanceHandler := NewMaintenanceHandler(deps.Reconciler)

	// --- 運用エンドポイント（レート制限の外） ---

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- APIルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 購読管理
		r.Route("/api/subscriptions", func(r chi.Router) {
			// POST /api/subscriptions - バッチ購読追加（登録専用レート制限を追加）
			r.With(deps.RateLimiter.SubscribeMiddleware()).Post("/", subHandler.AddSubscriptions)
			r.With(deps.RateLimiter.SubscribeMiddleware()).Post("/subscribe", subHandler.Subscribe)

			r.Get("/status", subHandler.Status)
			r.Delete("/{channelId}", subHandler.Unsubscribe)
		})

		// フィードURL一覧
		r.Get("/api/feeds", subHandler.ListFeedURLs)

		// 視聴キュー
		r.Route("/api/queue", func(r chi.Router) {
			r.Get("/", triageHandler.ListQueue)
			r.Post("/", triageHandler.AddToQueue)

			r.Route("/{entryId}", func(r chi.Router) {
				r.Patch("/", triageHandler.MoveQueueEntry)
				r.Delete("/", triageHandler.RemoveFromQueue)
			})
		})

		// 受信箱
		r.Route("/api/inbox", func(r chi.Router) {
			r.Get("/", triageHandler.ListInbox)
			r.Post("/", triageHandler.AddToInbox)
			r.Delete("/{entryId}", triageHandler.ClearFromInbox)
		})

		// メンテナンス
		r.Post("/api/maintenance/reconcile", maintenanceHandler.Reconcile)
	})

	return r
}
