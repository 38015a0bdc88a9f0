package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tubeman/internal/model"
)

// PostgresVideoRepo はPostgreSQLを使用した動画リポジトリ。
type PostgresVideoRepo struct {
	db *sql.DB
}

// NewPostgresVideoRepo はPostgresVideoRepoを生成する。
func NewPostgresVideoRepo(db *sql.DB) *PostgresVideoRepo {
	return &PostgresVideoRepo{db: db}
}

const videoColumns = `id, subscription_id, youtube_id, title, url, thumbnail_url,
	        published_date, duration, elapsed_seconds, watched, video_description,
	        is_yt_short, is_likely_yt_short, bookmarked_date, cleared_date,
	        created_at, updated_at`

func scanVideo(row interface{ Scan(...any) error }) (*model.Video, error) {
	video := &model.Video{}
	var subscriptionID, thumbnailURL, description sql.NullString

	err := row.Scan(
		&video.ID, &subscriptionID, &video.YoutubeID, &video.Title, &video.URL, &thumbnailURL,
		&video.PublishedDate, &video.Duration, &video.ElapsedSeconds, &video.Watched, &description,
		&video.IsYtShort, &video.IsLikelyYtShort, &video.BookmarkedDate, &video.ClearedDate,
		&video.CreatedAt, &video.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	video.SubscriptionID = nullStringValue(subscriptionID)
	video.ThumbnailURL = nullStringValue(thumbnailURL)
	video.VideoDescription = nullStringValue(description)

	return video, nil
}

// FindByID は指定IDの動画を取得する。見つからない場合はnilを返す。
func (r *PostgresVideoRepo) FindByID(ctx context.Context, id string) (*model.Video, error) {
	video, err := scanVideo(r.db.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("動画の取得に失敗しました: %w", err)
	}
	return video, nil
}

// FindByYoutubeID はyoutubeIdで動画を検索する。
// 重複が存在する場合は作成日時が最も古い1件を返す。見つからない場合はnilを返す。
func (r *PostgresVideoRepo) FindByYoutubeID(ctx context.Context, youtubeID string) (*model.Video, error) {
	video, err := scanVideo(r.db.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM videos
		 WHERE youtube_id = $1
		 ORDER BY created_at ASC
		 LIMIT 1`,
		youtubeID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("youtubeIdによる動画の検索に失敗しました: %w", err)
	}
	return video, nil
}

// FindByURL はURLで動画を検索する。見つからない場合はnilを返す。
func (r *PostgresVideoRepo) FindByURL(ctx context.Context, url string) (*model.Video, error) {
	video, err := scanVideo(r.db.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM videos
		 WHERE url = $1
		 ORDER BY created_at ASC
		 LIMIT 1`,
		url,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによる動画の検索に失敗しました: %w", err)
	}
	return video, nil
}

// ListAll は全動画を返す。
func (r *PostgresVideoRepo) ListAll(ctx context.Context) ([]*model.Video, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("動画一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectVideos(rows)
}

// ListBySubscription は購読に所属する動画一覧を返す。
func (r *PostgresVideoRepo) ListBySubscription(ctx context.Context, subscriptionID string) ([]*model.Video, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos
		 WHERE subscription_id = $1
		 ORDER BY published_date DESC NULLS LAST`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読別動画一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectVideos(rows)
}

func collectVideos(rows *sql.Rows) ([]*model.Video, error) {
	var videos []*model.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("動画一覧の読み取りに失敗しました: %w", err)
		}
		videos = append(videos, video)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("動画一覧の走査に失敗しました: %w", err)
	}
	return videos, nil
}

// Create は動画を作成する。
func (r *PostgresVideoRepo) Create(ctx context.Context, video *model.Video) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO videos (id, subscription_id, youtube_id, title, url, thumbnail_url,
		                     published_date, duration, elapsed_seconds, watched, video_description,
		                     is_yt_short, is_likely_yt_short, bookmarked_date, cleared_date,
		                     created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		video.ID, nullString(video.SubscriptionID), video.YoutubeID, video.Title, video.URL,
		nullString(video.ThumbnailURL),
		video.PublishedDate, video.Duration, video.ElapsedSeconds, video.Watched,
		nullString(video.VideoDescription),
		video.IsYtShort, video.IsLikelyYtShort, video.BookmarkedDate, video.ClearedDate,
		video.CreatedAt, video.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("動画の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は動画を上書き更新する。
func (r *PostgresVideoRepo) Update(ctx context.Context, video *model.Video) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE videos SET
		    subscription_id = $2, youtube_id = $3, title = $4, url = $5,
		    thumbnail_url = $6, published_date = $7, duration = $8,
		    elapsed_seconds = $9, watched = $10, video_description = $11,
		    is_yt_short = $12, is_likely_yt_short = $13,
		    bookmarked_date = $14, cleared_date = $15, updated_at = now()
		 WHERE id = $1`,
		video.ID, nullString(video.SubscriptionID), video.YoutubeID, video.Title, video.URL,
		nullString(video.ThumbnailURL), video.PublishedDate, video.Duration,
		video.ElapsedSeconds, video.Watched, nullString(video.VideoDescription),
		video.IsYtShort, video.IsLikelyYtShort,
		video.BookmarkedDate, video.ClearedDate,
	)
	if err != nil {
		return fmt.Errorf("動画の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDの動画を削除する。queue/inboxエントリはCASCADE削除される。
func (r *PostgresVideoRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("動画の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ VideoRepository = (*PostgresVideoRepo)(nil)
