// Package model はドメインモデルを定義する。
package model

import "time"

// Subscription はYouTubeチャンネル（またはプレイリスト）の購読を表す。
// 同一性は youtubeChannelId（プレイリスト購読の場合は youtubeChannelId + youtubePlaylistId）で判定する。
// 購読解除では削除せずアーカイブする（isArchived = true）。履歴のあるVideoを保持するため。
type Subscription struct {
	ID                  string
	Title               string
	Link                string // 正規フィードURL
	YoutubeChannelID    string
	YoutubePlaylistID   string
	YoutubeUserName     string
	ThumbnailURL        string
	IsArchived          bool
	SubscribedDate      *time.Time
	MostRecentVideoDate *time.Time
	CustomSpeedSetting  *float64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IdentityKey は重複検出で使用する購読の同一性キーを返す。
// チャンネルIDとプレイリストIDの連結。両方空の購読同士はグループ化されない想定だが、
// その場合も空キーとして同一グループに入る（元データ側の異常として重複除去の対象になる）。
func (s *Subscription) IdentityKey() string {
	return s.YoutubeChannelID + s.YoutubePlaylistID
}
