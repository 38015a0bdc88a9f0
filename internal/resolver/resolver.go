// Package resolver はユーザー入力のURLやチャンネルIDを正規フィードURLへ解決する。
// ネットワークI/Oを伴うのはResolveFeedURLのチャンネルID照会のみで、それ以外は純粋関数。
package resolver

import (
	"context"
	"regexp"
	"strings"

	"github.com/hitoshi/tubeman/internal/model"
)

// userNamePatterns はチャンネルユーザー名を含む既知のURL形状。
// 先頭から順に照合し、最初にマッチした形状を採用する。
var userNamePatterns = []*regexp.Regexp{
	// https://www.youtube.com/@GAMERTAGVR/videos
	regexp.MustCompile(`/@([^/#?]*)`),
	// https://www.youtube.com/c/GamertagVR/videos
	regexp.MustCompile(`/c/([^/]*)`),
	// https://www.youtube.com/feeds/videos.xml?user=GAMERTAGVR
	regexp.MustCompile(`/videos\.xml\?user=(.*)`),
}

// channelIDPattern は正規フィードURLに埋め込めるチャンネルIDの形式。
var channelIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)

// feedURLPrefix はチャンネルIDから構築する正規フィードURLのプレフィックス。
const feedURLPrefix = "https://www.youtube.com/feeds/videos.xml?channel_id="

// UserName は既知のURL形状からチャンネルユーザー名を抽出する。
// どの形状にもマッチしない場合は空文字を返す。
func UserName(rawURL string) string {
	for _, pattern := range userNamePatterns {
		m := pattern.FindStringSubmatch(rawURL)
		if m != nil {
			return m[1]
		}
	}
	return ""
}

// IsFeedURL は入力が既に正規フィードURLかどうかを判定する。
//
//	https://www.youtube.com/feeds/videos.xml?user=GAMERTAGVR
//	https://www.youtube.com/feeds/videos.xml?channel_id=UCnrAvt4i_2WV3yEKWyEUMlg
func IsFeedURL(rawURL string) bool {
	return strings.Contains(rawURL, "youtube.com/feeds/videos.xml")
}

// FeedURLForChannelID はチャンネルIDから正規フィードURLを決定的に構築する。
// チャンネルIDが空または不正な形式の場合はUNSUPPORTED_SOURCEエラーを返す。
func FeedURLForChannelID(channelID string) (string, error) {
	if channelID == "" || !channelIDPattern.MatchString(channelID) {
		return "", model.NewUnsupportedSourceError(channelID)
	}
	return feedURLPrefix + channelID, nil
}

// ChannelIDResolver はユーザー名からチャンネルIDを解決する外部照会のインターフェース。
type ChannelIDResolver interface {
	// ResolveChannelID はユーザー名に対応するチャンネルIDを返す。
	ResolveChannelID(ctx context.Context, userName string) (string, error)
}

// ResolveFeedURL は入力URLを正規フィードURLへ解決する。
// 既に正規フィードURLであれば入力をそのまま返す。
// それ以外はユーザー名を必要とし、外部照会でチャンネルIDを解決してから
// FeedURLForChannelIDに委譲する。ユーザー名が空、または照会が失敗した場合は
// USERNAME_RESOLUTION_FAILEDエラーを返す。
func ResolveFeedURL(ctx context.Context, rawURL, userName string, lookup ChannelIDResolver) (string, error) {
	if IsFeedURL(rawURL) {
		return rawURL, nil
	}
	if userName == "" {
		return "", model.NewUsernameResolutionError("ユーザー名が空です")
	}
	channelID, err := lookup.ResolveChannelID(ctx, userName)
	if err != nil {
		return "", model.NewUsernameResolutionError(err.Error())
	}
	return FeedURLForChannelID(channelID)
}
