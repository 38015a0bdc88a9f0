// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DescriptionSanitizerService は動画説明文のサニタイズ機能のインターフェースを定義する。
// フィード由来の説明文は保存前に必ずサニタイズする。
type DescriptionSanitizerService interface {
	// Sanitize は説明文からHTMLタグを全て除去し、プレーンテキストを返す。
	// 動画説明文はマークアップを持たない前提であり、フィードに紛れ込んだ
	// script等のタグはここで落とす。空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// descriptionSanitizer はDescriptionSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer はDescriptionSanitizerServiceの新しいインスタンスを生成する。
func NewDescriptionSanitizer() *descriptionSanitizer {
	return &descriptionSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は説明文からHTMLタグを全て除去し、プレーンテキストを返す。
// StrictPolicyは出力をHTMLエスケープするため、表示用テキストに戻すべく
// エスケープを解除して返す。
func (s *descriptionSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
