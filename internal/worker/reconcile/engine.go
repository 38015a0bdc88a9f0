// Package reconcile は重複検出と修復のバッチ処理を提供する。
// ストア全体を走査して同一性キーごとに重複をグループ化し、決定的な順位付けで
// 残す1件を選んで残りを依存レコードごと削除する。冪等であり、
// 連続実行の2回目は空のレポートを返す。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/tubeman/internal/model"
	"github.com/hitoshi/tubeman/internal/repository"
)

// defaultProbeLimit は重複プローブで調べるキュー先頭件数のデフォルト値。
// コスト上限のヒューリスティックであり正確性には関与しない。
const defaultProbeLimit = 15

// Engine は重複検出・修復エンジン。
// 各ステップは前ステップの削除結果を再取得してから重複グループを計算する。
type Engine struct {
	subRepo    repository.SubscriptionRepository
	videoRepo  repository.VideoRepository
	queueRepo  repository.QueueRepository
	inboxRepo  repository.InboxRepository
	logger     *slog.Logger
	ProbeLimit int // 重複プローブで調べるキュー先頭件数（デフォルト: 15）
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(
	subRepo repository.SubscriptionRepository,
	videoRepo repository.VideoRepository,
	queueRepo repository.QueueRepository,
	inboxRepo repository.InboxRepository,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		subRepo:    subRepo,
		videoRepo:  videoRepo,
		queueRepo:  queueRepo,
		inboxRepo:  inboxRepo,
		logger:     logger,
		ProbeLimit: defaultProbeLimit,
	}
}

// Run は修復パスを1回実行し、削除件数のレポートを返す。
// onlyIfDuplicatesLikelyがtrueの場合、キュー先頭と受信箱の軽量プローブで
// 重複の兆候がなければ全表走査をスキップして空のレポートを返す。
//
// ステップ順序:
//  1. 軽量重複プローブ（フラグ制御）
//  2. 購読の重複除去（所有動画・エントリをCASCADE削除）
//  3. 動画の重複除去
//  4. 孤児・重複エントリの除去
//  5. 受信箱dateの補完
func (e *Engine) Run(ctx context.Context, onlyIfDuplicatesLikely bool) (model.ReconcileReport, error) {
	start := time.Now()
	report := model.ReconcileReport{}

	if onlyIfDuplicatesLikely {
		likely, err := e.duplicatesLikely(ctx)
		if err != nil {
			// 修復パスはベストエフォート。走査の失敗は「何もすることがない」と同義に扱う
			e.logger.Warn("重複プローブに失敗しました", slog.String("error", err.Error()))
			return report, nil
		}
		if !likely {
			e.logger.Info("重複の兆候なし。修復パスをスキップします")
			return report, nil
		}
	}

	if err := e.dedupSubscriptions(ctx, &report); err != nil {
		e.logger.Error("購読の重複除去に失敗しました", slog.String("error", err.Error()))
		return report, err
	}
	if err := e.dedupVideos(ctx, &report); err != nil {
		e.logger.Error("動画の重複除去に失敗しました", slog.String("error", err.Error()))
		return report, err
	}
	if err := e.repairEntries(ctx, &report); err != nil {
		e.logger.Error("エントリの修復に失敗しました", slog.String("error", err.Error()))
		return report, err
	}
	if err := e.backfillInboxDates(ctx); err != nil {
		e.logger.Error("受信箱dateの補完に失敗しました", slog.String("error", err.Error()))
		return report, err
	}

	e.logger.Info("修復パスが完了しました",
		slog.Int("subscriptions_removed", report.SubscriptionsRemoved),
		slog.Int("videos_removed", report.VideosRemoved),
		slog.Int("queue_entries_removed", report.QueueEntriesRemoved),
		slog.Int("inbox_entries_removed", report.InboxEntriesRemoved),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return report, nil
}

// duplicatesLikely はキュー先頭ProbeLimit件と受信箱全体を調べ、
// 同一動画への参照の繰り返しがあるかを返す。
func (e *Engine) duplicatesLikely(ctx context.Context) (bool, error) {
	limit := e.ProbeLimit
	if limit <= 0 {
		limit = defaultProbeLimit
	}

	queueEntries, err := e.queueRepo.ListOrdered(ctx, limit)
	if err != nil {
		return false, fmt.Errorf("キュー先頭の取得に失敗: %w", err)
	}
	seen := make(map[string]bool, len(queueEntries))
	for _, entry := range queueEntries {
		if seen[entry.VideoID] {
			return true, nil
		}
		seen[entry.VideoID] = true
	}

	inboxEntries, err := e.inboxRepo.ListAll(ctx)
	if err != nil {
		return false, fmt.Errorf("受信箱の取得に失敗: %w", err)
	}
	seen = make(map[string]bool, len(inboxEntries))
	for _, entry := range inboxEntries {
		if seen[entry.VideoID] {
			return true, nil
		}
		seen[entry.VideoID] = true
	}

	return false, nil
}

// subscriptionCandidate は購読の順位付けに必要な情報をまとめたもの。
type subscriptionCandidate struct {
	sub        *model.Subscription
	videoCount int
}

// compareSubscriptions は順位付けの多段キー比較。aがbより上位なら負を返す。
// キー順: (1)所有動画数が多い (2)subscribed_dateが新しい (3)非アーカイブ
// すべて同値の場合はIDで安定化する。
func compareSubscriptions(a, b subscriptionCandidate) int {
	if a.videoCount != b.videoCount {
		if a.videoCount > b.videoCount {
			return -1
		}
		return 1
	}
	aDate, bDate := timeOrZero(a.sub.SubscribedDate), timeOrZero(b.sub.SubscribedDate)
	if !aDate.Equal(bDate) {
		if aDate.After(bDate) {
			return -1
		}
		return 1
	}
	if a.sub.IsArchived != b.sub.IsArchived {
		if !a.sub.IsArchived {
			return -1
		}
		return 1
	}
	if a.sub.ID < b.sub.ID {
		return -1
	}
	return 1
}

// dedupSubscriptions は(channelId, playlistId)で購読をグループ化し、
// 各グループの最上位1件を残して残りを削除する。
// 削除購読の所有動画とそのエントリはCASCADE削除されるため、件数を
// スナップショットから算出してレポートに加算する。
func (e *Engine) dedupSubscriptions(ctx context.Context, report *model.ReconcileReport) error {
	subs, err := e.subRepo.List(ctx, true)
	if err != nil {
		return fmt.Errorf("購読一覧の取得に失敗: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	videos, err := e.videoRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("動画一覧の取得に失敗: %w", err)
	}
	videosBySub := make(map[string][]*model.Video)
	for _, video := range videos {
		if video.SubscriptionID != "" {
			videosBySub[video.SubscriptionID] = append(videosBySub[video.SubscriptionID], video)
		}
	}

	groups := make(map[string][]subscriptionCandidate)
	for _, sub := range subs {
		key := sub.IdentityKey()
		groups[key] = append(groups[key], subscriptionCandidate{
			sub:        sub,
			videoCount: len(videosBySub[sub.ID]),
		})
	}

	queueByVideo, inboxByVideo, err := e.entryIndexes(ctx)
	if err != nil {
		return err
	}

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return compareSubscriptions(group[i], group[j]) < 0
		})

		// group[0]が残す1件。残りを所有動画ごと削除する
		for _, loser := range group[1:] {
			owned := videosBySub[loser.sub.ID]
			for _, video := range owned {
				report.QueueEntriesRemoved += len(queueByVideo[video.ID])
				report.InboxEntriesRemoved += len(inboxByVideo[video.ID])
			}
			report.VideosRemoved += len(owned)
			report.SubscriptionsRemoved++

			if err := e.subRepo.Delete(ctx, loser.sub.ID); err != nil {
				return fmt.Errorf("重複購読の削除に失敗: %w", err)
			}
			e.logger.Info("重複購読を削除しました",
				slog.String("subscription_id", loser.sub.ID),
				slog.String("channel_id", loser.sub.YoutubeChannelID),
				slog.Int("cascaded_videos", len(owned)),
			)
		}
	}

	return nil
}

// videoCandidate は動画の順位付けに必要な情報をまとめたもの。
type videoCandidate struct {
	video    *model.Video
	hasQueue bool
	hasInbox bool
}

// compareVideos は順位付けの多段キー比較。aがbより上位なら負を返す。
// キー順: (1)購読に所属 (2)未視聴 (3)cleared_dateなし (4)elapsed_secondsが大きい
// (5)キューエントリあり (6)受信箱エントリあり。同値はIDで安定化する。
func compareVideos(a, b videoCandidate) int {
	boolKeys := []struct{ a, b bool }{
		{a.video.SubscriptionID != "", b.video.SubscriptionID != ""},
		{!a.video.Watched, !b.video.Watched},
		{a.video.ClearedDate == nil, b.video.ClearedDate == nil},
	}
	for _, k := range boolKeys {
		if k.a != k.b {
			if k.a {
				return -1
			}
			return 1
		}
	}
	if a.video.ElapsedSeconds != b.video.ElapsedSeconds {
		if a.video.ElapsedSeconds > b.video.ElapsedSeconds {
			return -1
		}
		return 1
	}
	boolKeys = []struct{ a, b bool }{
		{a.hasQueue, b.hasQueue},
		{a.hasInbox, b.hasInbox},
	}
	for _, k := range boolKeys {
		if k.a != k.b {
			if k.a {
				return -1
			}
			return 1
		}
	}
	if a.video.ID < b.video.ID {
		return -1
	}
	return 1
}

// dedupVideos は(url, 所属購読のplaylistId)で動画をグループ化し、
// 各グループの最上位1件を残して残りをエントリごと削除する。
func (e *Engine) dedupVideos(ctx context.Context, report *model.ReconcileReport) error {
	videos, err := e.videoRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("動画一覧の取得に失敗: %w", err)
	}
	if len(videos) == 0 {
		return nil
	}

	subs, err := e.subRepo.List(ctx, true)
	if err != nil {
		return fmt.Errorf("購読一覧の取得に失敗: %w", err)
	}
	playlistBySub := make(map[string]string, len(subs))
	for _, sub := range subs {
		playlistBySub[sub.ID] = sub.YoutubePlaylistID
	}

	queueByVideo, inboxByVideo, err := e.entryIndexes(ctx)
	if err != nil {
		return err
	}

	groups := make(map[string][]videoCandidate)
	for _, video := range videos {
		key := video.URL + "|" + playlistBySub[video.SubscriptionID]
		groups[key] = append(groups[key], videoCandidate{
			video:    video,
			hasQueue: len(queueByVideo[video.ID]) > 0,
			hasInbox: len(inboxByVideo[video.ID]) > 0,
		})
	}

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return compareVideos(group[i], group[j]) < 0
		})

		for _, loser := range group[1:] {
			report.VideosRemoved++
			report.QueueEntriesRemoved += len(queueByVideo[loser.video.ID])
			report.InboxEntriesRemoved += len(inboxByVideo[loser.video.ID])

			if err := e.videoRepo.Delete(ctx, loser.video.ID); err != nil {
				return fmt.Errorf("重複動画の削除に失敗: %w", err)
			}
			e.logger.Info("重複動画を削除しました",
				slog.String("video_id", loser.video.ID),
				slog.String("url", loser.video.URL),
			)
		}
	}

	return nil
}

// repairEntries は動画参照の壊れたエントリと同一動画への重複エントリを削除する。
// キューは同一動画につきorder最小の1件、受信箱は最古の1件を残す。
// キューのorder再採番は振り分け層の責務のため、ここでは行わない。
func (e *Engine) repairEntries(ctx context.Context, report *model.ReconcileReport) error {
	videos, err := e.videoRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("動画一覧の取得に失敗: %w", err)
	}
	videoIDs := make(map[string]bool, len(videos))
	for _, video := range videos {
		videoIDs[video.ID] = true
	}

	queueEntries, err := e.queueRepo.ListOrdered(ctx, 0)
	if err != nil {
		return fmt.Errorf("キュー一覧の取得に失敗: %w", err)
	}
	seenQueue := make(map[string]bool)
	for _, entry := range queueEntries {
		orphaned := !videoIDs[entry.VideoID]
		duplicate := seenQueue[entry.VideoID]
		if !orphaned && !duplicate {
			seenQueue[entry.VideoID] = true
			continue
		}
		if err := e.queueRepo.Delete(ctx, entry.ID); err != nil {
			return fmt.Errorf("キューエントリの削除に失敗: %w", err)
		}
		report.QueueEntriesRemoved++
	}

	inboxEntries, err := e.inboxRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("受信箱一覧の取得に失敗: %w", err)
	}
	sort.Slice(inboxEntries, func(i, j int) bool {
		return inboxEntries[i].CreatedAt.Before(inboxEntries[j].CreatedAt)
	})
	seenInbox := make(map[string]bool)
	for _, entry := range inboxEntries {
		orphaned := !videoIDs[entry.VideoID]
		duplicate := seenInbox[entry.VideoID]
		if !orphaned && !duplicate {
			seenInbox[entry.VideoID] = true
			continue
		}
		if err := e.inboxRepo.Delete(ctx, entry.ID); err != nil {
			return fmt.Errorf("受信箱エントリの削除に失敗: %w", err)
		}
		report.InboxEntriesRemoved++
	}

	return nil
}

// backfillInboxDates はdate未設定の受信箱エントリに動画の公開日を記録する。
// 公開日が不明な場合はそのまま残す。
func (e *Engine) backfillInboxDates(ctx context.Context) error {
	entries, err := e.inboxRepo.ListWithoutDate(ctx)
	if err != nil {
		return fmt.Errorf("date未設定エントリの取得に失敗: %w", err)
	}

	for _, entry := range entries {
		video, err := e.videoRepo.FindByID(ctx, entry.VideoID)
		if err != nil {
			return fmt.Errorf("動画の取得に失敗: %w", err)
		}
		if video == nil || video.PublishedDate == nil {
			continue
		}
		if err := e.inboxRepo.UpdateDate(ctx, entry.ID, *video.PublishedDate); err != nil {
			return fmt.Errorf("受信箱dateの補完に失敗: %w", err)
		}
	}

	return nil
}

// entryIndexes はキュー・受信箱エントリを動画IDで引ける索引を作る。
func (e *Engine) entryIndexes(ctx context.Context) (map[string][]*model.QueueEntry, map[string][]*model.InboxEntry, error) {
	queueEntries, err := e.queueRepo.ListOrdered(ctx, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("キュー一覧の取得に失敗: %w", err)
	}
	queueByVideo := make(map[string][]*model.QueueEntry)
	for _, entry := range queueEntries {
		queueByVideo[entry.VideoID] = append(queueByVideo[entry.VideoID], entry)
	}

	inboxEntries, err := e.inboxRepo.ListAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("受信箱一覧の取得に失敗: %w", err)
	}
	inboxByVideo := make(map[string][]*model.InboxEntry)
	for _, entry := range inboxEntries {
		inboxByVideo[entry.VideoID] = append(inboxByVideo[entry.VideoID], entry)
	}

	return queueByVideo, inboxByVideo, nil
}

// timeOrZero はnil時刻をゼロ値に正規化する。
func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
