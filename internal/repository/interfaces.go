// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/tubeman/internal/model"
)

// SubscriptionRepository は購読データの永続化インターフェース。
type SubscriptionRepository interface {
	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)

	// FindByChannelID はチャンネルIDで購読を検索する。
	// 重複が存在する場合は最初の1件を返す。見つからない場合はnilを返す。
	FindByChannelID(ctx context.Context, channelID string) (*model.Subscription, error)

	// FindByIdentity はチャンネルIDまたはユーザー名のどちらかに一致する購読を検索する。
	// 空文字の条件は無視される。見つからない場合はnilを返す。
	FindByIdentity(ctx context.Context, channelID, userName string) (*model.Subscription, error)

	// List は購読一覧を返す。includeArchivedがfalseの場合はアーカイブ済みを除く。
	List(ctx context.Context, includeArchived bool) ([]*model.Subscription, error)

	// Create は購読を作成する。
	Create(ctx context.Context, sub *model.Subscription) error

	// CommitBatch は購読追加バッチの結果を単一トランザクションで保存する。
	// newSubsを挿入し、unarchiveIDsのis_archivedを解除する。
	// どちらかが失敗した場合は全体をロールバックする。
	CommitBatch(ctx context.Context, newSubs []*model.Subscription, unarchiveIDs []string) error

	// Update は購読のメタデータとアーカイブ状態を更新する。
	Update(ctx context.Context, sub *model.Subscription) error

	// Delete は指定IDの購読を削除する。
	// 所属するvideosはCASCADE削除され、そのqueue/inboxエントリも連鎖的に削除される。
	Delete(ctx context.Context, id string) error
}

// VideoRepository は動画データの永続化インターフェース。
type VideoRepository interface {
	// FindByID は指定IDの動画を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Video, error)

	// FindByYoutubeID はyoutubeIdで動画を検索する。
	// 同一性判定の最優先手段。見つからない場合はnilを返す。
	FindByYoutubeID(ctx context.Context, youtubeID string) (*model.Video, error)

	// FindByURL はURLで動画を検索する。
	// 同一性判定の第2手段。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Video, error)

	// ListAll は全動画を返す。リコンサイルの全件走査用。
	ListAll(ctx context.Context) ([]*model.Video, error)

	// ListBySubscription は購読に所属する動画一覧を返す。
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*model.Video, error)

	// Create は動画を作成する。
	Create(ctx context.Context, video *model.Video) error

	// Update は動画を上書き更新する。
	Update(ctx context.Context, video *model.Video) error

	// Delete は指定IDの動画を削除する。queue/inboxエントリはCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// QueueRepository は視聴キューエントリの永続化インターフェース。
type QueueRepository interface {
	// ListOrdered はorder昇順でキューエントリを返す。limitが0以下の場合は全件。
	ListOrdered(ctx context.Context, limit int) ([]*model.QueueEntry, error)

	// FindByVideoID は動画IDでキューエントリを検索する。見つからない場合はnilを返す。
	FindByVideoID(ctx context.Context, videoID string) (*model.QueueEntry, error)

	// Create はキューエントリを作成する。
	Create(ctx context.Context, entry *model.QueueEntry) error

	// Delete は指定IDのキューエントリを削除する。
	Delete(ctx context.Context, id string) error

	// ReplaceOrders は全エントリのorderを単一トランザクションで書き換える。
	// 挿入・移動・削除後の再採番（0..N-1の密な連番）に使用する。
	ReplaceOrders(ctx context.Context, entries []*model.QueueEntry) error
}

// InboxRepository は受信箱エントリの永続化インターフェース。
type InboxRepository interface {
	// ListAll は全受信箱エントリを返す。
	ListAll(ctx context.Context) ([]*model.InboxEntry, error)

	// FindByVideoID は動画IDで受信箱エントリを検索する。見つからない場合はnilを返す。
	FindByVideoID(ctx context.Context, videoID string) (*model.InboxEntry, error)

	// ListWithoutDate はdate未設定のエントリを返す。日付補完パス用。
	ListWithoutDate(ctx context.Context) ([]*model.InboxEntry, error)

	// Create は受信箱エントリを作成する。
	Create(ctx context.Context, entry *model.InboxEntry) error

	// Delete は指定IDの受信箱エントリを削除する。
	Delete(ctx context.Context, id string) error

	// UpdateDate はエントリのdateを更新する。
	UpdateDate(ctx context.Context, id string, date time.Time) error
}
