package security

import "testing"

// TestDescriptionSanitizer_StripsTags はタグ除去を検証する。
func TestDescriptionSanitizer_StripsTags(t *testing.T) {
	s := NewDescriptionSanitizer()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "プレーンテキストはそのまま",
			raw:  "新作動画の告知です。詳細は概要欄へ",
			want: "新作動画の告知です。詳細は概要欄へ",
		},
		{
			name: "scriptタグを除去する",
			raw:  `before<script>alert("x")</script>after`,
			want: "beforeafter",
		},
		{
			name: "リンクはテキストのみ残す",
			raw:  `チャンネル登録は<a href="https://example.com">こちら</a>`,
			want: "チャンネル登録はこちら",
		},
		{
			name: "前後の空白を除去する",
			raw:  "  trailing spaces  ",
			want: "trailing spaces",
		},
		{
			name: "空文字列は空文字列",
			raw:  "",
			want: "",
		},
		{
			name: "実体参照を戻す",
			raw:  "Q&amp;A",
			want: "Q&A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.raw); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

// TestDescriptionSanitizer_Idempotent は冪等性を検証する。
func TestDescriptionSanitizer_Idempotent(t *testing.T) {
	s := NewDescriptionSanitizer()
	raw := `テキスト<b>強調</b>と<script>bad()</script>混在`
	once := s.Sanitize(raw)
	twice := s.Sanitize(once)
	if once != twice {
		t.Errorf("Sanitize is not idempotent: %q -> %q", once, twice)
	}
}
