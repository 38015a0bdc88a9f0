// Package video は動画の取り込みと同一性判定を提供する。
package video

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/tubeman/internal/model"
	"github.com/hitoshi/tubeman/internal/repository"
)

// UpsertService はフィードから取得した動画の同一性判定とUPSERT処理を提供する。
// 2段階の同一性判定ロジックにより、重複登録を防ぎつつ既存動画のメタデータを更新する。
// 視聴状態（watched、elapsed_seconds、cleared_date等）は上書きしない。
type UpsertService struct {
	videoRepo repository.VideoRepository
	inboxRepo repository.InboxRepository
}

// NewUpsertService はUpsertServiceの新しいインスタンスを生成する。
func NewUpsertService(
	videoRepo repository.VideoRepository,
	inboxRepo repository.InboxRepository,
) *UpsertService {
	return &UpsertService{
		videoRepo: videoRepo,
		inboxRepo: inboxRepo,
	}
}

// UpsertVideos はフィードから取得した動画をUPSERTする。
// 2段階の同一性判定ロジック:
//  1. youtubeId - 最優先
//  2. url - 第2優先
//
// 新規動画は受信箱に配置する（dateは公開日）。
// 戻り値は挿入数、バッチ内の最新公開日、エラー。
func (s *UpsertService) UpsertVideos(
	ctx context.Context,
	subscriptionID string,
	videos []model.SendableVideo,
) (inserted int, latestPublished *time.Time, err error) {
	if len(videos) == 0 {
		return 0, nil, nil
	}

	now := time.Now()

	for _, sendable := range videos {
		if sendable.PublishedDate != nil {
			if latestPublished == nil || sendable.PublishedDate.After(*latestPublished) {
				published := *sendable.PublishedDate
				latestPublished = &published
			}
		}

		existing, findErr := s.findExistingVideo(ctx, sendable)
		if findErr != nil {
			slog.Error("動画の同一性判定でエラー",
				"subscription_id", subscriptionID,
				"youtube_id", sendable.YoutubeID,
				"error", findErr,
			)
			return inserted, latestPublished, fmt.Errorf("動画の同一性判定に失敗: %w", findErr)
		}

		if existing != nil {
			if updateErr := s.updateExistingVideo(ctx, existing, subscriptionID, sendable); updateErr != nil {
				slog.Error("動画の更新でエラー",
					"subscription_id", subscriptionID,
					"video_id", existing.ID,
					"error", updateErr,
				)
				return inserted, latestPublished, fmt.Errorf("動画の更新に失敗: %w", updateErr)
			}
			continue
		}

		if createErr := s.createNewVideo(ctx, subscriptionID, sendable, now); createErr != nil {
			slog.Error("動画の挿入でエラー",
				"subscription_id", subscriptionID,
				"youtube_id", sendable.YoutubeID,
				"error", createErr,
			)
			return inserted, latestPublished, fmt.Errorf("動画の挿入に失敗: %w", createErr)
		}
		inserted++
	}

	slog.Info("動画UPSERT完了",
		"subscription_id", subscriptionID,
		"inserted", inserted,
	)

	return inserted, latestPublished, nil
}

// findExistingVideo は2段階の同一性判定で既存動画を検索する。
// 優先順位: youtubeId > url
func (s *UpsertService) findExistingVideo(ctx context.Context, sendable model.SendableVideo) (*model.Video, error) {
	if sendable.YoutubeID != "" {
		video, err := s.videoRepo.FindByYoutubeID(ctx, sendable.YoutubeID)
		if err != nil {
			return nil, err
		}
		if video != nil {
			return video, nil
		}
	}

	if sendable.URL != "" {
		video, err := s.videoRepo.FindByURL(ctx, sendable.URL)
		if err != nil {
			return nil, err
		}
		if video != nil {
			return video, nil
		}
	}

	return nil, nil
}

// updateExistingVideo は既存動画のメタデータを更新する。
// 視聴状態は保持し、空欄のフィールドのみフィード値で補完する。
// 所属購読が未設定の場合のみ紐付けを補う（サイドロード動画の取り込み回収）。
func (s *UpsertService) updateExistingVideo(
	ctx context.Context,
	existing *model.Video,
	subscriptionID string,
	sendable model.SendableVideo,
) error {
	changed := false

	if existing.SubscriptionID == "" && subscriptionID != "" {
		existing.SubscriptionID = subscriptionID
		changed = true
	}
	if sendable.Title != "" && existing.Title != sendable.Title {
		existing.Title = sendable.Title
		changed = true
	}
	if existing.ThumbnailURL == "" && sendable.ThumbnailURL != "" {
		existing.ThumbnailURL = sendable.ThumbnailURL
		changed = true
	}
	if existing.PublishedDate == nil && sendable.PublishedDate != nil {
		existing.PublishedDate = sendable.PublishedDate
		changed = true
	}
	if existing.Duration == nil && sendable.Duration != nil {
		existing.Duration = sendable.Duration
		changed = true
	}
	if existing.VideoDescription == "" && sendable.VideoDescription != "" {
		existing.VideoDescription = sendable.VideoDescription
		changed = true
	}

	if !changed {
		return nil
	}
	return s.videoRepo.Update(ctx, existing)
}

// createNewVideo は新規動画を作成し、受信箱に配置する。
func (s *UpsertService) createNewVideo(
	ctx context.Context,
	subscriptionID string,
	sendable model.SendableVideo,
	now time.Time,
) error {
	video := &model.Video{
		ID:               uuid.New().String(),
		SubscriptionID:   subscriptionID,
		YoutubeID:        sendable.YoutubeID,
		Title:            sendable.Title,
		URL:              sendable.URL,
		ThumbnailURL:     sendable.ThumbnailURL,
		PublishedDate:    sendable.PublishedDate,
		Duration:         sendable.Duration,
		VideoDescription: sendable.VideoDescription,
		IsLikelyYtShort:  sendable.IsLikelyYtShort,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.videoRepo.Create(ctx, video); err != nil {
		return err
	}

	entry := &model.InboxEntry{
		ID:        uuid.New().String(),
		VideoID:   video.ID,
		Date:      sendable.PublishedDate,
		CreatedAt: now,
	}
	return s.inboxRepo.Create(ctx, entry)
}
