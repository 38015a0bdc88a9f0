// Package model はドメインモデルを定義する。
package model

// ChannelInfo は購読入力として与えられるチャンネル情報を表す。
// ブラウザ連携などの呼び出し元が既に把握しているメタデータを保持し、
// フィード取得結果よりも優先してマージされる。
type ChannelInfo struct {
	ChannelID    string
	FeedURL      string
	Title        string
	ThumbnailURL string
	UserName     string
}

// SubscriptionInput は購読追加の1入力を表す。
// 生URLか、メタデータ付きのChannelInfoのどちらかを指定する。
type SubscriptionInput struct {
	URL     string
	Channel *ChannelInfo
}

// SubscriptionState は購読追加バッチにおける入力1件ごとの結果を表す。
// 成功・既追加・失敗のいずれかで、呼び出し元が件別に結果を表示できるだけの情報を持つ。
type SubscriptionState struct {
	URL          string
	Title        string
	UserName     string
	ChannelID    string
	Success      bool
	AlreadyAdded bool
	Error        string
}

// ReconcileReport は重複除去・修復パスで削除したレコード数の集計を表す。
// 購読削除にともないCASCADE削除された動画・エントリも件数に含む。
type ReconcileReport struct {
	VideosRemoved        int
	QueueEntriesRemoved  int
	InboxEntriesRemoved  int
	SubscriptionsRemoved int
}

// IsEmpty は何も削除されなかったことを返す。
func (r ReconcileReport) IsEmpty() bool {
	return r.VideosRemoved == 0 &&
		r.QueueEntriesRemoved == 0 &&
		r.InboxEntriesRemoved == 0 &&
		r.SubscriptionsRemoved == 0
}

// Add は別のレポートの件数を加算する。
func (r *ReconcileReport) Add(other ReconcileReport) {
	r.VideosRemoved += other.VideosRemoved
	r.QueueEntriesRemoved += other.QueueEntriesRemoved
	r.InboxEntriesRemoved += other.InboxEntriesRemoved
	r.SubscriptionsRemoved += other.SubscriptionsRemoved
}
