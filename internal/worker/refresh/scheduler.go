// Package refresh は購読フィードのバックグラウンド更新処理を提供する。
// ティッカー駆動のスケジューラが全アクティブ購読のフィードを並列フェッチし、
// 動画をアップサートした後、軽量プローブ付きの修復パスを実行する。
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/tubeman/internal/crawler"
	"github.com/hitoshi/tubeman/internal/metrics"
	"github.com/hitoshi/tubeman/internal/model"
	"github.com/hitoshi/tubeman/internal/repository"
)

// FeedLoader はチャンネルフィードの取得インターフェース。
type FeedLoader interface {
	LoadChannelFeed(ctx context.Context, feedURL string) (*crawler.ChannelFeed, error)
}

// VideoUpserter は取得済み動画の保存インターフェース。
type VideoUpserter interface {
	// UpsertVideos は動画群をアップサートし、新規挿入数と最新公開日時を返す。
	UpsertVideos(ctx context.Context, subscriptionID string, videos []model.SendableVideo) (int, *time.Time, error)
}

// Reconciler は重複除去・修復パスの実行インターフェース。
type Reconciler interface {
	Run(ctx context.Context, onlyIfDuplicatesLikely bool) (model.ReconcileReport, error)
}

// Scheduler は購読フィード更新のスケジューリングと並列制御を行う。
// ティッカーで更新サイクルを起動し、semaphoreパターンで
// 最大並列数を制御しながらフェッチを実行する。
type Scheduler struct {
	subRepo        repository.SubscriptionRepository
	loader         FeedLoader
	upserter       VideoUpserter
	reconciler     Reconciler
	collector      metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	subRepo repository.SubscriptionRepository,
	loader FeedLoader,
	upserter VideoUpserter,
	reconciler Reconciler,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		subRepo:        subRepo,
		loader:         loader,
		upserter:       upserter,
		reconciler:     reconciler,
		collector:      collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("更新スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("更新サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("更新スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("更新サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はアクティブな全購読のフィードを並列で更新し、
// 最後に軽量プローブ付きの修復パスを1回実行する。
// 個々の購読の失敗はログに記録してサイクルを継続する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	subs, err := s.subRepo.List(ctx, false)
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		s.logger.Info("更新対象の購読はありません")
		return s.runReconcile(ctx)
	}

	s.logger.Info("更新サイクルを開始します",
		slog.Int("subscription_count", len(subs)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, sub := range subs {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(sub *model.Subscription) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.refreshSubscription(ctx, sub); err != nil {
				s.logger.Error("購読の更新に失敗しました",
					slog.String("subscription_id", sub.ID),
					slog.String("channel_id", sub.YoutubeChannelID),
					slog.String("error", err.Error()),
				)
			}
		}(sub)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("更新サイクルが完了しました",
		slog.Int("subscription_count", len(subs)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return s.runReconcile(ctx)
}

// refreshSubscription は1購読のフィードをフェッチして動画をアップサートし、
// 最新動画日時が進んでいれば購読に記録する。
func (s *Scheduler) refreshSubscription(ctx context.Context, sub *model.Subscription) error {
	fetchStart := time.Now()

	feed, err := s.loader.LoadChannelFeed(ctx, sub.Link)
	s.collector.RecordFetchLatency(time.Since(fetchStart))
	if err != nil {
		s.collector.RecordFetchFailure(sub.YoutubeChannelID, "fetch_error")
		return err
	}
	s.collector.RecordFetchSuccess(sub.YoutubeChannelID)

	inserted, latest, err := s.upserter.UpsertVideos(ctx, sub.ID, feed.Videos)
	if err != nil {
		return err
	}
	s.collector.RecordVideosUpserted(inserted)

	if latest != nil && (sub.MostRecentVideoDate == nil || latest.After(*sub.MostRecentVideoDate)) {
		sub.MostRecentVideoDate = latest
		if err := s.subRepo.Update(ctx, sub); err != nil {
			return err
		}
	}

	return nil
}

// runReconcile は軽量プローブ付きの修復パスを実行し、結果をメトリクスに記録する。
func (s *Scheduler) runReconcile(ctx context.Context) error {
	report, err := s.reconciler.Run(ctx, true)
	if err != nil {
		return err
	}
	s.collector.RecordReconcileRun()
	s.collector.RecordReconcileRemoved("subscription", report.SubscriptionsRemoved)
	s.collector.RecordReconcileRemoved("video", report.VideosRemoved)
	s.collector.RecordReconcileRemoved("queue_entry", report.QueueEntriesRemoved)
	s.collector.RecordReconcileRemoved("inbox_entry", report.InboxEntriesRemoved)
	return nil
}
