package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tubeman/internal/model"
)

// PostgresQueueRepo はPostgreSQLを使用した視聴キューリポジトリ。
type PostgresQueueRepo struct {
	db *sql.DB
}

// NewPostgresQueueRepo はPostgresQueueRepoを生成する。
func NewPostgresQueueRepo(db *sql.DB) *PostgresQueueRepo {
	return &PostgresQueueRepo{db: db}
}

// ListOrdered はorder昇順でキューエントリを返す。limitが0以下の場合は全件。
func (r *PostgresQueueRepo) ListOrdered(ctx context.Context, limit int) ([]*model.QueueEntry, error) {
	query := `SELECT id, video_id, entry_order, created_at, updated_at
	 FROM queue_entries ORDER BY entry_order ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("キューエントリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []*model.QueueEntry
	for rows.Next() {
		entry := &model.QueueEntry{}
		if err := rows.Scan(&entry.ID, &entry.VideoID, &entry.Order, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("キューエントリの読み取りに失敗しました: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("キューエントリ一覧の走査に失敗しました: %w", err)
	}

	return entries, nil
}

// FindByVideoID は動画IDでキューエントリを検索する。
// 重複が存在する場合は作成日時が最も古い1件を返す。見つからない場合はnilを返す。
func (r *PostgresQueueRepo) FindByVideoID(ctx context.Context, videoID string) (*model.QueueEntry, error) {
	entry := &model.QueueEntry{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, video_id, entry_order, created_at, updated_at
		 FROM queue_entries
		 WHERE video_id = $1
		 ORDER BY created_at ASC
		 LIMIT 1`,
		videoID,
	).Scan(&entry.ID, &entry.VideoID, &entry.Order, &entry.CreatedAt, &entry.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("動画IDによるキューエントリの検索に失敗しました: %w", err)
	}
	return entry, nil
}

// Create はキューエントリを作成する。
func (r *PostgresQueueRepo) Create(ctx context.Context, entry *model.QueueEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO queue_entries (id, video_id, entry_order, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.VideoID, entry.Order, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("キューエントリの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのキューエントリを削除する。
func (r *PostgresQueueRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("キューエントリの削除に失敗しました: %w", err)
	}
	return nil
}

// ReplaceOrders は全エントリのorderを単一トランザクションで書き換える。
// 渡された順序をそのまま0..N-1の連番として採番する。
func (r *PostgresQueueRepo) ReplaceOrders(ctx context.Context, entries []*model.QueueEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	for i, entry := range entries {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_entries SET entry_order = $2, updated_at = now() WHERE id = $1`,
			entry.ID, i,
		); err != nil {
			return fmt.Errorf("キュー順序の更新に失敗しました: %w", err)
		}
		entry.Order = i
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("キュー順序のコミットに失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ QueueRepository = (*PostgresQueueRepo)(nil)
