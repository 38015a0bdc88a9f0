package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/tubeman/internal/config"
	"github.com/hitoshi/tubeman/internal/crawler"
	"github.com/hitoshi/tubeman/internal/database"
	"github.com/hitoshi/tubeman/internal/handler"
	"github.com/hitoshi/tubeman/internal/logger"
	"github.com/hitoshi/tubeman/internal/metrics"
	"github.com/hitoshi/tubeman/internal/middleware"
	"github.com/hitoshi/tubeman/internal/repository"
	"github.com/hitoshi/tubeman/internal/security"
	"github.com/hitoshi/tubeman/internal/subscription"
	"github.com/hitoshi/tubeman/internal/triage"
	"github.com/hitoshi/tubeman/internal/video"
	"github.com/hitoshi/tubeman/internal/worker/reconcile"
	"github.com/hitoshi/tubeman/internal/worker/refresh"
	"github.com/hitoshi/tubeman/internal/youtube"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandReconcile:
		return runReconcile(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// deps はDB接続から組み立てた依存関係一式。
// serveとworkerで共通のワイヤリングをまとめる。
type deps struct {
	subRepo   *repository.PostgresSubscriptionRepo
	videoRepo *repository.PostgresVideoRepo
	queueRepo *repository.PostgresQueueRepo
	inboxRepo *repository.PostgresInboxRepo

	feedCrawler *crawler.Crawler
	upsertSvc   *video.UpsertService
	reconciler  *reconcile.Engine
}

// buildDeps はリポジトリとドメインサービスをワイヤリングする。
func buildDeps(cfg *config.Config, db *sql.DB) *deps {
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	videoRepo := repository.NewPostgresVideoRepo(db)
	queueRepo := repository.NewPostgresQueueRepo(db)
	inboxRepo := repository.NewPostgresInboxRepo(db)

	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewDescriptionSanitizer()

	feedCrawler := crawler.NewCrawler(
		ssrfGuard, sanitizer, slog.Default(),
		cfg.FetchRatePerSecond, cfg.FetchTimeout, cfg.FetchMaxSize,
	)

	upsertSvc := video.NewUpsertService(videoRepo, inboxRepo)

	reconciler := reconcile.NewEngine(subRepo, videoRepo, queueRepo, inboxRepo, slog.Default())
	if cfg.ReconcileProbeLimit > 0 {
		reconciler.ProbeLimit = cfg.ReconcileProbeLimit
	}

	return &deps{
		subRepo:     subRepo,
		videoRepo:   videoRepo,
		queueRepo:   queueRepo,
		inboxRepo:   inboxRepo,
		feedCrawler: feedCrawler,
		upsertSvc:   upsertSvc,
		reconciler:  reconciler,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	d := buildDeps(cfg, db)

	// 購読解決用のYouTubeディレクトリクライアント
	ssrfGuard := security.NewSSRFGuard()
	directory := youtube.NewDirectoryClient(
		ssrfGuard, cfg.FetchRatePerSecond, cfg.FetchTimeout, cfg.FetchMaxSize,
	)

	subService := subscription.NewService(
		d.subRepo, d.videoRepo, d.queueRepo, d.inboxRepo,
		d.feedCrawler, directory, slog.Default(), cfg.FetchMaxConcurrent,
	)
	triageService := triage.NewService(d.videoRepo, d.queueRepo, d.inboxRepo)

	// レート制限はreq/min単位の設定値をreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitSubscribe > 0 {
		rateLimiterCfg.SubscribeRate = rate.Limit(float64(cfg.RateLimitSubscribe) / 60.0)
		rateLimiterCfg.SubscribeBurst = cfg.RateLimitSubscribe
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	registry := prometheus.NewRegistry()
	metrics.NewCollector(registry)

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin:   cfg.CORSAllowedOrigin,
		RateLimiter:         rateLimiter,
		Logger:              slog.Default(),
		SubscriptionService: subService,
		TriageService:       triageService,
		Reconciler:          d.reconciler,
		Gatherer:            registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はフィード更新ワーカーモードで起動する。
// DB接続を開き、更新スケジューラを起動する。更新サイクルの最後に
// 軽量プローブ付きの修復パスを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	d := buildDeps(cfg, db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	scheduler := refresh.NewScheduler(
		d.subRepo, d.feedCrawler, d.upsertSvc, d.reconciler,
		collector, slog.Default(), cfg.FetchMaxConcurrent,
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// ワーカーのメトリクスを公開するHTTPサーバーをバックグラウンドで起動
	metricsServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: metrics.Handler(registry),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	slog.Info("worker starting",
		slog.Duration("refresh_interval", cfg.RefreshInterval),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
	)

	// 更新スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.RefreshInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runReconcile は重複除去・修復パスを1回だけ実行して終了する。
// 運用時の手動メンテナンス用サブコマンド。プローブは行わず常に全表走査する。
func runReconcile(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	d := buildDeps(cfg, db)

	report, err := d.reconciler.Run(context.Background(), false)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	slog.Info("reconcile completed",
		slog.Int("subscriptions_removed", report.SubscriptionsRemoved),
		slog.Int("videos_removed", report.VideosRemoved),
		slog.Int("queue_entries_removed", report.QueueEntriesRemoved),
		slog.Int("inbox_entries_removed", report.InboxEntriesRemoved),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
