// Package youtube はYouTube固有の外部照会を提供する。
// チャンネルページのHTMLからチャンネルIDを解決するディレクトリクライアントを含む。
package youtube

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// channelPagePrefix はユーザー名からチャンネルページURLを構築するプレフィックス。
const channelPagePrefix = "https://www.youtube.com/@"

// channelPathPrefix はcanonicalリンクに含まれるチャンネルIDのパスプレフィックス。
const channelPathPrefix = "/channel/"

// DirectoryClient はユーザー名からチャンネルIDを解決するクライアント。
// チャンネルページを取得し、headタグのcanonicalリンク
// （https://www.youtube.com/channel/<id>）からIDを抽出する。
// resolver.ChannelIDResolverを実装する。
type DirectoryClient struct {
	ssrfGuard   SSRFValidator
	limiter     *rate.Limiter
	timeout     time.Duration
	maxBodySize int64
	baseURL     string // テストで差し替える。通常はchannelPagePrefix
}

// NewDirectoryClient はDirectoryClientの新しいインスタンスを生成する。
// requestsPerSecondはYouTubeへの照会頻度の上限。0以下の場合は毎秒1リクエストとする。
func NewDirectoryClient(ssrfGuard SSRFValidator, requestsPerSecond float64, timeout time.Duration, maxBodySize int64) *DirectoryClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &DirectoryClient{
		ssrfGuard:   ssrfGuard,
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		timeout:     timeout,
		maxBodySize: maxBodySize,
		baseURL:     channelPagePrefix,
	}
}

// ResolveChannelID はユーザー名に対応するチャンネルIDを返す。
// チャンネルページが取得できない、またはcanonicalリンクが見つからない場合はエラーを返す。
func (c *DirectoryClient) ResolveChannelID(ctx context.Context, userName string) (string, error) {
	if userName == "" {
		return "", fmt.Errorf("ユーザー名が空です")
	}

	pageURL := c.baseURL + strings.TrimPrefix(userName, "@")
	if err := c.ssrfGuard.ValidateURL(pageURL); err != nil {
		return "", fmt.Errorf("チャンネルページURLの検証に失敗: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("レート制限の待機に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Tubeman/1.0 Feed Library")
	req.Header.Set("Accept", "text/html")

	client := c.ssrfGuard.NewSafeClient(c.timeout, c.maxBodySize)
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("チャンネルページの取得に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("チャンネルページの取得に失敗: HTTPステータス %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}

	channelID := extractChannelID(body)
	if channelID == "" {
		return "", fmt.Errorf("チャンネルIDが見つかりません: %s", userName)
	}
	return channelID, nil
}

// extractChannelID はチャンネルページHTMLのheadタグからチャンネルIDを抽出する。
// 優先順: <link rel="canonical" href=".../channel/<id>">、
// 次に <meta itemprop="identifier" content="<id>">。
// bodyタグに入った時点で走査を打ち切る。
func extractChannelID(htmlBody []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	var metaIdentifier string

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return metaIdentifier

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "body" {
				// headの走査を終了
				return metaIdentifier
			}
			if !hasAttr || (tagName != "link" && tagName != "meta") {
				continue
			}

			var rel, href, itemprop, content string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "href":
					href = string(val)
				case "itemprop":
					itemprop = strings.ToLower(string(val))
				case "content":
					content = string(val)
				}
				if !more {
					break
				}
			}

			if tagName == "link" && rel == "canonical" {
				if id := channelIDFromCanonical(href); id != "" {
					return id
				}
			}
			if tagName == "meta" && itemprop == "identifier" && metaIdentifier == "" {
				metaIdentifier = content
			}
		}
	}
}

// channelIDFromCanonical はcanonical URLの/channel/パスからチャンネルIDを取り出す。
func channelIDFromCanonical(href string) string {
	idx := strings.Index(href, channelPathPrefix)
	if idx < 0 {
		return ""
	}
	id := href[idx+len(channelPathPrefix):]
	if cut := strings.IndexAny(id, "/?#"); cut >= 0 {
		id = id[:cut]
	}
	return id
}
