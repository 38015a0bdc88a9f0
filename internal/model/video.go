// Package model はドメインモデルを定義する。
package model

import "time"

// Video はフィードから取り込んだ動画を表す。
// 同一性は外部の安定ID（youtubeId）で判定する。
// Subscriptionへの所属は任意（サイドロード動画は所属なし）。
// QueueEntry / InboxEntry は高々1つずつで、Video削除時にCASCADE削除される。
type Video struct {
	ID               string
	SubscriptionID   string // 所属購読のID。未所属の場合は空文字
	YoutubeID        string
	Title            string
	URL              string
	ThumbnailURL     string
	PublishedDate    *time.Time
	Duration         *float64 // 秒。フィードに含まれない場合はnil
	ElapsedSeconds   float64
	Watched          bool
	VideoDescription string // サニタイズ済みテキスト
	IsYtShort        bool
	IsLikelyYtShort  bool
	BookmarkedDate   *time.Time
	ClearedDate      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SendableVideo はフィードのパース結果から得た未保存の動画データを表す。
// クローラーがフィードをパースした後、video.UpsertServiceに渡される。
type SendableVideo struct {
	YoutubeID        string
	Title            string
	URL              string
	ThumbnailURL     string
	PublishedDate    *time.Time
	Duration         *float64
	VideoDescription string // サニタイズ済みテキスト
	IsLikelyYtShort  bool
}
