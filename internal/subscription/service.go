// Package subscription は購読管理のドメインロジックを提供する。
// 購読追加バッチの並列取り込み、再購読、購読解除、フィードURL一覧を担う。
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/tubeman/internal/crawler"
	"github.com/hitoshi/tubeman/internal/model"
	"github.com/hitoshi/tubeman/internal/repository"
	"github.com/hitoshi/tubeman/internal/resolver"
)

// FeedLoader はフィードのフェッチ・パースのインターフェース。
type FeedLoader interface {
	LoadChannelFeed(ctx context.Context, feedURL string) (*crawler.ChannelFeed, error)
}

// Service は購読管理のサービス層。
// 購読追加バッチは入力ごとに並列でフェッチを行うが、並列ユニットは読み取りと
// ネットワークI/Oのみを行い、ストアへの書き込みは全ユニット完了後に
// 単一トランザクションでまとめて実行する。
type Service struct {
	subRepo         repository.SubscriptionRepository
	videoRepo       repository.VideoRepository
	queueRepo       repository.QueueRepository
	inboxRepo       repository.InboxRepository
	loader          FeedLoader
	channelResolver resolver.ChannelIDResolver
	logger          *slog.Logger
	maxConcurrency  int
}

// NewService はServiceの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewService(
	subRepo repository.SubscriptionRepository,
	videoRepo repository.VideoRepository,
	queueRepo repository.QueueRepository,
	inboxRepo repository.InboxRepository,
	loader FeedLoader,
	channelResolver resolver.ChannelIDResolver,
	logger *slog.Logger,
	maxConcurrency int,
) *Service {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Service{
		subRepo:         subRepo,
		videoRepo:       videoRepo,
		queueRepo:       queueRepo,
		inboxRepo:       inboxRepo,
		loader:          loader,
		channelResolver: channelResolver,
		logger:          logger,
		maxConcurrency:  maxConcurrency,
	}
}

// unitResult は並列ユニット1件の成果物。書き込みは含まず値のみを返す。
type unitResult struct {
	state       model.SubscriptionState
	stagedSub   *model.Subscription // 新規挿入候補。nilなら挿入なし
	unarchiveID string              // アーカイブ解除する既存購読のID。空なら解除なし
}

// AddSubscriptions は購読追加バッチを実行し、入力1件ごとの結果を返す。
// 入力ごとに並列でフェッチし、1件の失敗は他の入力に影響しない。
// ステージされた挿入とアーカイブ解除は全ユニット完了後に単一トランザクションで
// コミットする。コミット失敗のみバッチ全体の失敗として返す。
func (s *Service) AddSubscriptions(ctx context.Context, inputs []model.SubscriptionInput) ([]model.SubscriptionState, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	start := time.Now()
	results := make([]unitResult, len(inputs))

	// semaphoreパターンで並列数を制御。ユニットはストアに書き込まない。
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for i, input := range inputs {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, in model.SubscriptionInput) {
			defer wg.Done()
			defer func() { <-sem }()

			results[idx] = s.processInput(ctx, in)
		}(i, input)
	}

	wg.Wait()

	// バッチ内重複の解消: 同一チャンネルが複数入力に現れた場合は最初の1件のみ挿入する
	states := make([]model.SubscriptionState, len(inputs))
	var newSubs []*model.Subscription
	var unarchiveIDs []string
	stagedKeys := make(map[string]bool)
	unarchiveSeen := make(map[string]bool)

	for i, result := range results {
		state := result.state

		if result.stagedSub != nil {
			key := result.stagedSub.IdentityKey()
			if stagedKeys[key] {
				state.AlreadyAdded = true
			} else {
				stagedKeys[key] = true
				newSubs = append(newSubs, result.stagedSub)
			}
		}
		if result.unarchiveID != "" && !unarchiveSeen[result.unarchiveID] {
			unarchiveSeen[result.unarchiveID] = true
			unarchiveIDs = append(unarchiveIDs, result.unarchiveID)
		}

		states[i] = state
	}

	if err := s.subRepo.CommitBatch(ctx, newSubs, unarchiveIDs); err != nil {
		s.logger.Error("購読バッチのコミットに失敗しました",
			slog.Int("staged", len(newSubs)),
			slog.Int("unarchive", len(unarchiveIDs)),
			slog.String("error", err.Error()),
		)
		return states, model.NewStoreCommitError(err.Error())
	}

	s.logger.Info("購読追加バッチが完了しました",
		slog.Int("input_count", len(inputs)),
		slog.Int("inserted", len(newSubs)),
		slog.Int("unarchived", len(unarchiveIDs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return states, nil
}

// processInput は入力1件の解決・重複確認・フェッチを行い、成果物を返す。
// ストアの読み取りとネットワークI/Oのみを行い、書き込みはしない。
func (s *Service) processInput(ctx context.Context, input model.SubscriptionInput) unitResult {
	state := model.SubscriptionState{URL: input.URL}

	// I/Oなしで入力から購読先の同一性を取り出す
	channelID := ""
	userName := ""
	if input.Channel != nil {
		channelID = input.Channel.ChannelID
		userName = input.Channel.UserName
		state.Title = input.Channel.Title
	}
	if userName == "" && input.URL != "" {
		userName = resolver.UserName(input.URL)
	}
	state.ChannelID = channelID
	state.UserName = userName

	// 既存購読の確認。見つかった場合は再フェッチしない
	existing, err := s.subRepo.FindByIdentity(ctx, channelID, userName)
	if err != nil {
		state.Error = fmt.Sprintf("既存購読の確認に失敗しました: %v", err)
		return unitResult{state: state}
	}
	if existing != nil {
		return s.alreadyAddedResult(state, existing)
	}

	// 正規フィードURLの解決
	feedURL, err := s.resolveFeedURL(ctx, input, channelID, userName)
	if err != nil {
		state.Error = err.Error()
		return unitResult{state: state}
	}

	feed, err := s.loader.LoadChannelFeed(ctx, feedURL)
	if err != nil {
		state.Error = model.NewSubscriptionFailedError(err.Error()).Error()
		return unitResult{state: state}
	}

	// フェッチで判明したチャンネルIDで再確認する。
	// 入力にチャンネルIDがなくフィードが開示するケースを拾う。
	if feed.Channel.ChannelID != "" && feed.Channel.ChannelID != channelID {
		state.ChannelID = feed.Channel.ChannelID
		existing, err := s.subRepo.FindByChannelID(ctx, feed.Channel.ChannelID)
		if err != nil {
			state.Error = fmt.Sprintf("既存購読の確認に失敗しました: %v", err)
			return unitResult{state: state}
		}
		if existing != nil {
			return s.alreadyAddedResult(state, existing)
		}
	}

	sub := s.buildSubscription(input, feedURL, feed)
	state.Title = sub.Title
	state.Success = true
	return unitResult{state: state, stagedSub: sub}
}

// alreadyAddedResult は既存購読が見つかった入力の結果を組み立てる。
// アーカイブ済みの場合はアーカイブ解除をステージする。
func (s *Service) alreadyAddedResult(state model.SubscriptionState, existing *model.Subscription) unitResult {
	state.Success = true
	state.AlreadyAdded = true
	state.Title = existing.Title
	state.ChannelID = existing.YoutubeChannelID

	result := unitResult{state: state}
	if existing.IsArchived {
		result.unarchiveID = existing.ID
	}
	return result
}

// resolveFeedURL は入力から正規フィードURLを決定する。
// 優先順位: ChannelInfoのフィードURL > チャンネルIDからの構築 > URLの解決。
func (s *Service) resolveFeedURL(ctx context.Context, input model.SubscriptionInput, channelID, userName string) (string, error) {
	if input.Channel != nil && input.Channel.FeedURL != "" {
		return input.Channel.FeedURL, nil
	}
	if channelID != "" {
		return resolver.FeedURLForChannelID(channelID)
	}
	if input.URL == "" {
		return "", model.NewNoIdentityProvidedError()
	}
	return resolver.ResolveFeedURL(ctx, input.URL, userName, s.channelResolver)
}

// buildSubscription は新規購読レコードを組み立てる。
// 呼び出し元が把握しているメタデータを優先し、不足分をフェッチ結果で補う。
func (s *Service) buildSubscription(input model.SubscriptionInput, feedURL string, feed *crawler.ChannelFeed) *model.Subscription {
	now := time.Now()
	sub := &model.Subscription{
		ID:               uuid.New().String(),
		Title:            feed.Channel.Title,
		Link:             feedURL,
		YoutubeChannelID: feed.Channel.ChannelID,
		ThumbnailURL:     feed.Channel.ThumbnailURL,
		SubscribedDate:   &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if input.Channel != nil {
		if input.Channel.Title != "" {
			sub.Title = input.Channel.Title
		}
		if input.Channel.ChannelID != "" {
			sub.YoutubeChannelID = input.Channel.ChannelID
		}
		if input.Channel.ThumbnailURL != "" {
			sub.ThumbnailURL = input.Channel.ThumbnailURL
		}
		sub.YoutubeUserName = input.Channel.UserName
	}
	if sub.YoutubeUserName == "" && input.URL != "" {
		sub.YoutubeUserName = resolver.UserName(input.URL)
	}

	return sub
}

// SubscribeTo は既知のチャンネルへの購読を行う。
// existingIDが指定された場合はネットワークを介さずアーカイブ解除のみ行う。
func (s *Service) SubscribeTo(ctx context.Context, channelID, existingID string) error {
	if existingID != "" {
		existing, err := s.subRepo.FindByID(ctx, existingID)
		if err != nil {
			return fmt.Errorf("購読の取得に失敗しました: %w", err)
		}
		if existing == nil {
			return model.NewSubscriptionNotFoundError(existingID)
		}
		now := time.Now()
		existing.IsArchived = false
		existing.SubscribedDate = &now
		if err := s.subRepo.Update(ctx, existing); err != nil {
			return fmt.Errorf("購読の更新に失敗しました: %w", err)
		}
		return nil
	}

	if channelID == "" {
		return model.NewNoIdentityProvidedError()
	}

	states, err := s.AddSubscriptions(ctx, []model.SubscriptionInput{
		{Channel: &model.ChannelInfo{ChannelID: channelID}},
	})
	if err != nil {
		return err
	}
	if len(states) == 1 && !states[0].Success {
		return model.NewSubscriptionFailedError(states[0].Error)
	}
	return nil
}

// IsSubscribed はチャンネルが購読中（非アーカイブ）かを返す。
// 購読が見つかった場合、infoから不足メタデータを補完する副作用を持つ。
// アーカイブ状態は変更しない。
func (s *Service) IsSubscribed(ctx context.Context, channelID string, info *model.ChannelInfo) (bool, error) {
	sub, err := s.subRepo.FindByChannelID(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("購読の検索に失敗しました: %w", err)
	}
	if sub == nil {
		return false, nil
	}

	if info != nil {
		changed := false
		if sub.YoutubeUserName == "" && info.UserName != "" {
			sub.YoutubeUserName = info.UserName
			changed = true
		}
		if sub.ThumbnailURL == "" && info.ThumbnailURL != "" {
			sub.ThumbnailURL = info.ThumbnailURL
			changed = true
		}
		if sub.Title == "" && info.Title != "" {
			sub.Title = info.Title
			changed = true
		}
		if changed {
			if err := s.subRepo.Update(ctx, sub); err != nil {
				return false, fmt.Errorf("購読メタデータの補完に失敗しました: %w", err)
			}
		}
	}

	return !sub.IsArchived, nil
}

// Unsubscribe は購読を解除する。
// 購読はハードデリートせずアーカイブし、most_recent_video_dateをクリアする。
// 未視聴かつキュー・受信箱・ブックマークのいずれにも属さない動画は削除し、
// 視聴済みまたは参照中の動画は履歴として保持する。
func (s *Service) Unsubscribe(ctx context.Context, channelID string) error {
	sub, err := s.subRepo.FindByChannelID(ctx, channelID)
	if err != nil {
		return fmt.Errorf("購読の検索に失敗しました: %w", err)
	}
	if sub == nil {
		return model.NewSubscriptionNotFoundError(channelID)
	}

	sub.IsArchived = true
	sub.MostRecentVideoDate = nil
	if err := s.subRepo.Update(ctx, sub); err != nil {
		return fmt.Errorf("購読のアーカイブに失敗しました: %w", err)
	}

	videos, err := s.videoRepo.ListBySubscription(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("購読動画の取得に失敗しました: %w", err)
	}

	purged := 0
	for _, video := range videos {
		keep, err := s.shouldRetainVideo(ctx, video)
		if err != nil {
			return err
		}
		if keep {
			continue
		}
		if err := s.videoRepo.Delete(ctx, video.ID); err != nil {
			return fmt.Errorf("動画の削除に失敗しました: %w", err)
		}
		purged++
	}

	s.logger.Info("購読を解除しました",
		slog.String("subscription_id", sub.ID),
		slog.String("channel_id", channelID),
		slog.Int("purged_videos", purged),
	)
	return nil
}

// shouldRetainVideo は購読解除時に動画を保持すべきかを判定する。
// 視聴済み、ブックマーク済み、キューまたは受信箱に参照がある動画は保持する。
func (s *Service) shouldRetainVideo(ctx context.Context, video *model.Video) (bool, error) {
	if video.Watched || video.BookmarkedDate != nil {
		return true, nil
	}

	queueEntry, err := s.queueRepo.FindByVideoID(ctx, video.ID)
	if err != nil {
		return false, fmt.Errorf("キューエントリの検索に失敗しました: %w", err)
	}
	if queueEntry != nil {
		return true, nil
	}

	inboxEntry, err := s.inboxRepo.FindByVideoID(ctx, video.ID)
	if err != nil {
		return false, fmt.Errorf("受信箱エントリの検索に失敗しました: %w", err)
	}
	return inboxEntry != nil, nil
}

// FeedURL は購読フィードの公開情報を表す。
type FeedURL struct {
	Title string
	Link  string
}

// ListFeedURLs は購読フィードの(タイトル, リンク)一覧を返す。
// includeArchivedがfalseの場合はアーカイブ済み購読を除く。
func (s *Service) ListFeedURLs(ctx context.Context, includeArchived bool) ([]FeedURL, error) {
	subs, err := s.subRepo.List(ctx, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}

	urls := make([]FeedURL, len(subs))
	for i, sub := range subs {
		urls[i] = FeedURL{Title: sub.Title, Link: sub.Link}
	}
	return urls, nil
}
