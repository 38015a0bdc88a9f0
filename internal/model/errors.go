// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, subscription, feed, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNoIdentityProvided       = "NO_IDENTITY_PROVIDED"
	ErrCodeUnsupportedSource        = "UNSUPPORTED_SOURCE"
	ErrCodeUsernameResolutionFailed = "USERNAME_RESOLUTION_FAILED"
	ErrCodeSubscriptionFailed       = "SUBSCRIPTION_FAILED"
	ErrCodeStoreCommitFailed        = "STORE_COMMIT_FAILED"
	ErrCodeSubscriptionNotFound     = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeVideoNotFound            = "VIDEO_NOT_FOUND"
	ErrCodeQueueEntryNotFound       = "QUEUE_ENTRY_NOT_FOUND"
	ErrCodeInboxEntryNotFound       = "INBOX_ENTRY_NOT_FOUND"
	ErrCodeInvalidURL               = "INVALID_URL"
	ErrCodeSSRFBlocked              = "SSRF_BLOCKED"
	ErrCodeFetchFailed              = "FETCH_FAILED"
	ErrCodeParseFailed              = "PARSE_FAILED"
)

// NewNoIdentityProvidedError は購読先を特定する情報が入力から得られなかった場合のエラーを生成する。
func NewNoIdentityProvidedError() *APIError {
	return &APIError{
		Code:     ErrCodeNoIdentityProvided,
		Message:  "チャンネルIDまたはユーザー名を入力から特定できませんでした。",
		Category: "subscription",
		Action:   "チャンネルページのURLまたはフィードURLを入力してください。",
	}
}

// NewUnsupportedSourceError はフィードURLを構築できない場合のエラーを生成する。
func NewUnsupportedSourceError(channelID string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedSource,
		Message:  fmt.Sprintf("チャンネルIDからフィードURLを構築できません: %q", channelID),
		Category: "subscription",
		Action:   "チャンネルIDが正しいか確認してください。",
	}
}

// NewUsernameResolutionError はユーザー名からチャンネルIDを解決できなかった場合のエラーを生成する。
func NewUsernameResolutionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUsernameResolutionFailed,
		Message:  fmt.Sprintf("ユーザー名からチャンネルIDを解決できませんでした: %s", reason),
		Category: "subscription",
		Action:   "ユーザー名が正しいか確認するか、チャンネルIDを直接指定してください。",
	}
}

// NewSubscriptionFailedError は購読先の特定には成功したがフィード取得に失敗した場合のエラーを生成する。
func NewSubscriptionFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionFailed,
		Message:  fmt.Sprintf("購読に失敗しました: %s", reason),
		Category: "subscription",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewStoreCommitError はマージ成功後の保存に失敗した場合のエラーを生成する。
// バッチ全体の失敗として呼び出し元へ伝播させる。握りつぶしてはならない。
func NewStoreCommitError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeStoreCommitFailed,
		Message:  fmt.Sprintf("データストアへの保存に失敗しました: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSubscriptionNotFoundError は購読が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(channelID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定された購読が見つかりません: %s", channelID),
		Category: "subscription",
		Action:   "チャンネルIDを確認してください。",
	}
}

// NewVideoNotFoundError は動画が見つからない場合のエラーを生成する。
func NewVideoNotFoundError(videoID string) *APIError {
	return &APIError{
		Code:     ErrCodeVideoNotFound,
		Message:  fmt.Sprintf("指定された動画が見つかりません: %s", videoID),
		Category: "feed",
		Action:   "動画IDを確認してください。",
	}
}

// NewQueueEntryNotFoundError はキューエントリが見つからない場合のエラーを生成する。
func NewQueueEntryNotFoundError(entryID string) *APIError {
	return &APIError{
		Code:     ErrCodeQueueEntryNotFound,
		Message:  fmt.Sprintf("指定されたキューエントリが見つかりません: %s", entryID),
		Category: "validation",
		Action:   "エントリIDを確認してください。",
	}
}

// NewInboxEntryNotFoundError は受信箱エントリが見つからない場合のエラーを生成する。
func NewInboxEntryNotFoundError(entryID string) *APIError {
	return &APIError{
		Code:     ErrCodeInboxEntryNotFound,
		Message:  fmt.Sprintf("指定された受信箱エントリが見つかりません: %s", entryID),
		Category: "validation",
		Action:   "エントリIDを確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているフィードのURLを入力してください。",
	}
}

// NewFetchFailedError はフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("フィードの取得に失敗しました: %s", reason),
		Category: "feed",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はパース失敗エラーを生成する。
func NewParseFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  "フィードの解析に失敗しました。",
		Category: "feed",
		Action:   "有効なRSS/Atomフィードかどうか確認してください。",
	}
}
