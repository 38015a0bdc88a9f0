// Package model はドメインモデルを定義する。
package model

import "time"

// QueueEntry は視聴キューの1エントリを表す。
// orderは全エントリを通して0..N-1の密な連番を保つ。
// 挿入・移動・削除のたびにtriageサービスが再採番する。
type QueueEntry struct {
	ID        string
	VideoID   string
	Order     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InboxEntry は新着動画の受信箱の1エントリを表す。
// dateが未設定の場合、動画の公開日時がリコンサイル時に補完される。
type InboxEntry struct {
	ID        string
	VideoID   string
	Date      *time.Time
	CreatedAt time.Time
}
