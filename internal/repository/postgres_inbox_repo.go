package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tubeman/internal/model"
)

// PostgresInboxRepo はPostgreSQLを使用した受信箱リポジトリ。
type PostgresInboxRepo struct {
	db *sql.DB
}

// NewPostgresInboxRepo はPostgresInboxRepoを生成する。
func NewPostgresInboxRepo(db *sql.DB) *PostgresInboxRepo {
	return &PostgresInboxRepo{db: db}
}

// ListAll は全受信箱エントリをdate降順で返す。
func (r *PostgresInboxRepo) ListAll(ctx context.Context) ([]*model.InboxEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, video_id, date, created_at
		 FROM inbox_entries ORDER BY date DESC NULLS LAST`,
	)
	if err != nil {
		return nil, fmt.Errorf("受信箱エントリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectInboxEntries(rows)
}

// ListWithoutDate はdate未設定のエントリを返す。
func (r *PostgresInboxRepo) ListWithoutDate(ctx context.Context) ([]*model.InboxEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, video_id, date, created_at
		 FROM inbox_entries WHERE date IS NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("date未設定エントリの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectInboxEntries(rows)
}

func collectInboxEntries(rows *sql.Rows) ([]*model.InboxEntry, error) {
	var entries []*model.InboxEntry
	for rows.Next() {
		entry := &model.InboxEntry{}
		if err := rows.Scan(&entry.ID, &entry.VideoID, &entry.Date, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("受信箱エントリの読み取りに失敗しました: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("受信箱エントリ一覧の走査に失敗しました: %w", err)
	}
	return entries, nil
}

// FindByVideoID は動画IDで受信箱エントリを検索する。
// 重複が存在する場合は作成日時が最も古い1件を返す。見つからない場合はnilを返す。
func (r *PostgresInboxRepo) FindByVideoID(ctx context.Context, videoID string) (*model.InboxEntry, error) {
	entry := &model.InboxEntry{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, video_id, date, created_at
		 FROM inbox_entries
		 WHERE video_id = $1
		 ORDER BY created_at ASC
		 LIMIT 1`,
		videoID,
	).Scan(&entry.ID, &entry.VideoID, &entry.Date, &entry.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("動画IDによる受信箱エントリの検索に失敗しました: %w", err)
	}
	return entry, nil
}

// Create は受信箱エントリを作成する。
func (r *PostgresInboxRepo) Create(ctx context.Context, entry *model.InboxEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO inbox_entries (id, video_id, date, created_at)
		 VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.VideoID, entry.Date, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("受信箱エントリの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDの受信箱エントリを削除する。
func (r *PostgresInboxRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM inbox_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("受信箱エントリの削除に失敗しました: %w", err)
	}
	return nil
}

// UpdateDate はエントリのdateを更新する。
func (r *PostgresInboxRepo) UpdateDate(ctx context.Context, id string, date time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE inbox_entries SET date = $2 WHERE id = $1`,
		id, date,
	)
	if err != nil {
		return fmt.Errorf("受信箱エントリの日付更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ InboxRepository = (*PostgresInboxRepo)(nil)
