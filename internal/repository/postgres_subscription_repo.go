package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tubeman/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

const subscriptionColumns = `id, title, link, youtube_channel_id, youtube_playlist_id,
	        youtube_user_name, thumbnail_url, is_archived, subscribed_date,
	        most_recent_video_date, custom_speed_setting, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var playlistID, userName, thumbnailURL sql.NullString

	err := row.Scan(
		&sub.ID, &sub.Title, &sub.Link, &sub.YoutubeChannelID, &playlistID,
		&userName, &thumbnailURL, &sub.IsArchived, &sub.SubscribedDate,
		&sub.MostRecentVideoDate, &sub.CustomSpeedSetting, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.YoutubePlaylistID = nullStringValue(playlistID)
	sub.YoutubeUserName = nullStringValue(userName)
	sub.ThumbnailURL = nullStringValue(thumbnailURL)

	return sub, nil
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	return sub, nil
}

// FindByChannelID はチャンネルIDで購読を検索する。
// 重複が存在する場合は作成日時が最も古い1件を返す。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByChannelID(ctx context.Context, channelID string) (*model.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE youtube_channel_id = $1
		 ORDER BY created_at ASC
		 LIMIT 1`,
		channelID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("チャンネルIDによる購読の検索に失敗しました: %w", err)
	}
	return sub, nil
}

// FindByIdentity はチャンネルIDまたはユーザー名に一致する購読を検索する。
// 空文字の条件は一致対象にしない。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByIdentity(ctx context.Context, channelID, userName string) (*model.Subscription, error) {
	if channelID == "" && userName == "" {
		return nil, nil
	}

	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE (youtube_channel_id = $1 AND $1 <> '')
		    OR (youtube_user_name = $2 AND $2 <> '')
		 ORDER BY created_at ASC
		 LIMIT 1`,
		channelID, userName,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の同一性検索に失敗しました: %w", err)
	}
	return sub, nil
}

// List は購読一覧を返す。includeArchivedがfalseの場合はアーカイブ済みを除く。
func (r *PostgresSubscriptionRepo) List(ctx context.Context, includeArchived bool) ([]*model.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if !includeArchived {
		query += ` WHERE is_archived = false`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("購読一覧の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}

	return subs, nil
}

// Create は購読を作成する。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	_, err := r.db.ExecContext(ctx, insertSubscriptionQuery, insertSubscriptionArgs(sub)...)
	if err != nil {
		return fmt.Errorf("購読の作成に失敗しました: %w", err)
	}
	return nil
}

const insertSubscriptionQuery = `INSERT INTO subscriptions (id, title, link, youtube_channel_id, youtube_playlist_id,
	                            youtube_user_name, thumbnail_url, is_archived, subscribed_date,
	                            most_recent_video_date, custom_speed_setting, created_at, updated_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

func insertSubscriptionArgs(sub *model.Subscription) []any {
	return []any{
		sub.ID, sub.Title, sub.Link, sub.YoutubeChannelID, nullString(sub.YoutubePlaylistID),
		nullString(sub.YoutubeUserName), nullString(sub.ThumbnailURL), sub.IsArchived, sub.SubscribedDate,
		sub.MostRecentVideoDate, sub.CustomSpeedSetting, sub.CreatedAt, sub.UpdatedAt,
	}
}

// CommitBatch は購読追加バッチの結果を単一トランザクションで保存する。
// newSubsを挿入し、unarchiveIDsのアーカイブを解除する。失敗時は全体をロールバックする。
func (r *PostgresSubscriptionRepo) CommitBatch(ctx context.Context, newSubs []*model.Subscription, unarchiveIDs []string) error {
	if len(newSubs) == 0 && len(unarchiveIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	for _, sub := range newSubs {
		if _, err := tx.ExecContext(ctx, insertSubscriptionQuery, insertSubscriptionArgs(sub)...); err != nil {
			return fmt.Errorf("購読バッチの挿入に失敗しました: %w", err)
		}
	}

	for _, id := range unarchiveIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE subscriptions SET is_archived = false, subscribed_date = now(), updated_at = now()
			 WHERE id = $1`,
			id,
		); err != nil {
			return fmt.Errorf("購読のアーカイブ解除に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("購読バッチのコミットに失敗しました: %w", err)
	}
	return nil
}

// Update は購読のメタデータとアーカイブ状態を更新する。
func (r *PostgresSubscriptionRepo) Update(ctx context.Context, sub *model.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET
		    title = $2, link = $3, youtube_channel_id = $4, youtube_playlist_id = $5,
		    youtube_user_name = $6, thumbnail_url = $7, is_archived = $8,
		    subscribed_date = $9, most_recent_video_date = $10,
		    custom_speed_setting = $11, updated_at = now()
		 WHERE id = $1`,
		sub.ID, sub.Title, sub.Link, sub.YoutubeChannelID, nullString(sub.YoutubePlaylistID),
		nullString(sub.YoutubeUserName), nullString(sub.ThumbnailURL), sub.IsArchived,
		sub.SubscribedDate, sub.MostRecentVideoDate,
		sub.CustomSpeedSetting,
	)
	if err != nil {
		return fmt.Errorf("購読の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDの購読を削除する。所属する動画とそのエントリはCASCADE削除される。
func (r *PostgresSubscriptionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
