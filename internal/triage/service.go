// Package triage は受信箱と視聴キューの振り分け操作を提供する。
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/tubeman/internal/model"
	"github.com/hitoshi/tubeman/internal/repository"
)

// Service は受信箱と視聴キューのサービス層。
// キューのorderはすべての変更操作の直後に0..N-1の密な連番に保たれる。
type Service struct {
	videoRepo repository.VideoRepository
	queueRepo repository.QueueRepository
	inboxRepo repository.InboxRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	videoRepo repository.VideoRepository,
	queueRepo repository.QueueRepository,
	inboxRepo repository.InboxRepository,
) *Service {
	return &Service{
		videoRepo: videoRepo,
		queueRepo: queueRepo,
		inboxRepo: inboxRepo,
	}
}

// ListQueue はorder昇順のキューエントリ一覧を返す。
func (s *Service) ListQueue(ctx context.Context) ([]*model.QueueEntry, error) {
	entries, err := s.queueRepo.ListOrdered(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("キュー一覧の取得に失敗しました: %w", err)
	}
	return entries, nil
}

// ListInbox は受信箱エントリ一覧を返す。
func (s *Service) ListInbox(ctx context.Context) ([]*model.InboxEntry, error) {
	entries, err := s.inboxRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("受信箱一覧の取得に失敗しました: %w", err)
	}
	return entries, nil
}

// AddToQueue は動画をキューのposition位置に挿入する。
// positionが負または末尾を超える場合は末尾に挿入する。
// 動画がすでにキューにある場合は挿入せず指定位置への移動として扱う。
// 受信箱にある場合は受信箱から取り除く（振り分け完了）。
func (s *Service) AddToQueue(ctx context.Context, videoID string, position int) (*model.QueueEntry, error) {
	video, err := s.videoRepo.FindByID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	if video == nil {
		return nil, model.NewVideoNotFoundError(videoID)
	}

	// 高々1キュースロットの不変条件: 既存エントリがあれば移動に切り替える
	existing, err := s.queueRepo.FindByVideoID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("キューエントリの検索に失敗しました: %w", err)
	}
	if existing != nil {
		if err := s.MoveQueueEntry(ctx, existing.ID, position); err != nil {
			return nil, err
		}
		return existing, nil
	}

	entries, err := s.queueRepo.ListOrdered(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("キュー一覧の取得に失敗しました: %w", err)
	}

	now := time.Now()
	entry := &model.QueueEntry{
		ID:        uuid.New().String(),
		VideoID:   videoID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.queueRepo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("キューエントリの作成に失敗しました: %w", err)
	}

	reordered := insertAt(entries, entry, position)
	if err := s.queueRepo.ReplaceOrders(ctx, reordered); err != nil {
		return nil, fmt.Errorf("キュー順序の再採番に失敗しました: %w", err)
	}

	// 受信箱からの振り分け: エントリがあれば取り除く
	if inboxEntry, err := s.inboxRepo.FindByVideoID(ctx, videoID); err != nil {
		return nil, fmt.Errorf("受信箱エントリの検索に失敗しました: %w", err)
	} else if inboxEntry != nil {
		if err := s.inboxRepo.Delete(ctx, inboxEntry.ID); err != nil {
			return nil, fmt.Errorf("受信箱エントリの削除に失敗しました: %w", err)
		}
	}

	slog.Info("キューに追加", "video_id", videoID, "order", entry.Order)
	return entry, nil
}

// MoveQueueEntry はキューエントリを指定indexへ移動し、全体を再採番する。
func (s *Service) MoveQueueEntry(ctx context.Context, entryID string, newIndex int) error {
	entries, err := s.queueRepo.ListOrdered(ctx, 0)
	if err != nil {
		return fmt.Errorf("キュー一覧の取得に失敗しました: %w", err)
	}

	var target *model.QueueEntry
	remaining := make([]*model.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID == entryID {
			target = e
			continue
		}
		remaining = append(remaining, e)
	}
	if target == nil {
		return model.NewQueueEntryNotFoundError(entryID)
	}

	reordered := insertAt(remaining, target, newIndex)
	if err := s.queueRepo.ReplaceOrders(ctx, reordered); err != nil {
		return fmt.Errorf("キュー順序の再採番に失敗しました: %w", err)
	}
	return nil
}

// RemoveFromQueue はキューエントリを削除し、残りを再採番する。
func (s *Service) RemoveFromQueue(ctx context.Context, entryID string) error {
	entries, err := s.queueRepo.ListOrdered(ctx, 0)
	if err != nil {
		return fmt.Errorf("キュー一覧の取得に失敗しました: %w", err)
	}

	found := false
	remaining := make([]*model.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID == entryID {
			found = true
			continue
		}
		remaining = append(remaining, e)
	}
	if !found {
		return model.NewQueueEntryNotFoundError(entryID)
	}

	if err := s.queueRepo.Delete(ctx, entryID); err != nil {
		return fmt.Errorf("キューエントリの削除に失敗しました: %w", err)
	}
	if err := s.queueRepo.ReplaceOrders(ctx, remaining); err != nil {
		return fmt.Errorf("キュー順序の再採番に失敗しました: %w", err)
	}
	return nil
}

// AddToInbox は動画を受信箱に追加する。dateが未指定の場合は動画の公開日を使う。
// すでに受信箱にある場合は何もしない。
func (s *Service) AddToInbox(ctx context.Context, videoID string, date *time.Time) (*model.InboxEntry, error) {
	video, err := s.videoRepo.FindByID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	if video == nil {
		return nil, model.NewVideoNotFoundError(videoID)
	}

	existing, err := s.inboxRepo.FindByVideoID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("受信箱エントリの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	if date == nil {
		date = video.PublishedDate
	}
	entry := &model.InboxEntry{
		ID:        uuid.New().String(),
		VideoID:   videoID,
		Date:      date,
		CreatedAt: time.Now(),
	}
	if err := s.inboxRepo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("受信箱エントリの作成に失敗しました: %w", err)
	}
	return entry, nil
}

// ClearFromInbox は受信箱エントリを削除し、動画にcleared_dateを記録する。
func (s *Service) ClearFromInbox(ctx context.Context, entryID string) error {
	entries, err := s.inboxRepo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("受信箱一覧の取得に失敗しました: %w", err)
	}

	var target *model.InboxEntry
	for _, e := range entries {
		if e.ID == entryID {
			target = e
			break
		}
	}
	if target == nil {
		return model.NewInboxEntryNotFoundError(entryID)
	}

	if err := s.inboxRepo.Delete(ctx, entryID); err != nil {
		return fmt.Errorf("受信箱エントリの削除に失敗しました: %w", err)
	}

	video, err := s.videoRepo.FindByID(ctx, target.VideoID)
	if err != nil {
		return fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	if video != nil {
		now := time.Now()
		video.ClearedDate = &now
		if err := s.videoRepo.Update(ctx, video); err != nil {
			return fmt.Errorf("動画の更新に失敗しました: %w", err)
		}
	}
	return nil
}

// insertAt はエントリをindex位置に挿入したスライスを返す。
// indexが範囲外の場合は末尾に挿入する。
func insertAt(entries []*model.QueueEntry, entry *model.QueueEntry, index int) []*model.QueueEntry {
	if index < 0 || index > len(entries) {
		index = len(entries)
	}
	result := make([]*model.QueueEntry, 0, len(entries)+1)
	result = append(result, entries[:index]...)
	result = append(result, entry)
	result = append(result, entries[index:]...)
	return result
}
