// Package crawler はフィードのHTTPフェッチとパースを提供する。
// 正規フィードURLを入力として、チャンネル情報と動画一覧の正規化済みサマリーを返す。
package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"golang.org/x/time/rate"

	"github.com/hitoshi/tubeman/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// DescriptionSanitizer は動画説明文のサニタイズのインターフェース。
type DescriptionSanitizer interface {
	Sanitize(raw string) string
}

// ChannelFeed はフィード1件のフェッチ・パース結果を表す。
type ChannelFeed struct {
	Channel model.ChannelInfo
	Videos  []model.SendableVideo
}

// Crawler はフィードのフェッチとパースを行う。
// SSRF検証付きクライアントでのHTTP GET、gofeedによるパース、
// YouTube名前空間拡張（yt:videoId / yt:channelId / media:group）の解釈を担う。
type Crawler struct {
	ssrfGuard   SSRFValidator
	sanitizer   DescriptionSanitizer
	logger      *slog.Logger
	limiter     *rate.Limiter
	timeout     time.Duration
	maxBodySize int64
}

// NewCrawler はCrawlerの新しいインスタンスを生成する。
// requestsPerSecondはフィード取得元ホストへのリクエスト頻度の上限。0以下なら毎秒2リクエスト。
func NewCrawler(
	ssrfGuard SSRFValidator,
	sanitizer DescriptionSanitizer,
	logger *slog.Logger,
	requestsPerSecond float64,
	timeout time.Duration,
	maxBodySize int64,
) *Crawler {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	return &Crawler{
		ssrfGuard:   ssrfGuard,
		sanitizer:   sanitizer,
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), 2),
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// LoadChannelFeed はフィードをフェッチしてパースし、チャンネル情報と動画一覧を返す。
// ネットワークまたはHTTPステータスの失敗はFETCH_FAILED、本文の解析失敗はPARSE_FAILEDを返す。
func (c *Crawler) LoadChannelFeed(ctx context.Context, feedURL string) (*ChannelFeed, error) {
	start := time.Now()

	if err := c.ssrfGuard.ValidateURL(feedURL); err != nil {
		return nil, model.NewSSRFBlockedError()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, model.NewFetchFailedError(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, model.NewFetchFailedError(err.Error())
	}
	req.Header.Set("User-Agent", "Tubeman/1.0 Feed Library")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	client := c.ssrfGuard.NewSafeClient(c.timeout, c.maxBodySize)
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Error("フィードのHTTPリクエストに失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("フィードフェッチが非200で終了しました",
			slog.String("feed_url", feedURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, model.NewFetchFailedError(err.Error())
	}

	parser := gofeed.NewParser()
	parsedFeed, err := parser.ParseString(string(body))
	if err != nil {
		c.logger.Error("フィードのパースに失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewParseFailedError()
	}

	result := &ChannelFeed{
		Channel: model.ChannelInfo{
			ChannelID: extensionValue(parsedFeed.Extensions, "yt", "channelId"),
			FeedURL:   feedURL,
			Title:     parsedFeed.Title,
		},
		Videos: convertItems(parsedFeed.Items, c.sanitizer),
	}
	if parsedFeed.Image != nil {
		result.Channel.ThumbnailURL = parsedFeed.Image.URL
	}

	c.logger.Info("フィードフェッチが完了しました",
		slog.String("feed_url", feedURL),
		slog.String("channel_id", result.Channel.ChannelID),
		slog.Int("video_count", len(result.Videos)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return result, nil
}

// convertItems はgofeedの記事をmodel.SendableVideoに変換する。
// youtubeIdを特定できない記事はスキップする。
func convertItems(items []*gofeed.Item, sanitizer DescriptionSanitizer) []model.SendableVideo {
	videos := make([]model.SendableVideo, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		video := model.SendableVideo{
			Title: item.Title,
			URL:   item.Link,
		}

		// 動画IDの設定: yt:videoId拡張を優先し、リンクからのパースにフォールバック
		video.YoutubeID = extensionValue(item.Extensions, "yt", "videoId")
		if video.YoutubeID == "" {
			video.YoutubeID = videoIDFromLink(item.Link)
		}
		if video.YoutubeID == "" {
			continue
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			video.PublishedDate = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			video.PublishedDate = &t
		}

		// media:group配下のサムネイルと説明文
		if group := mediaGroup(item.Extensions); group != nil {
			if thumbs, ok := group.Children["thumbnail"]; ok && len(thumbs) > 0 {
				video.ThumbnailURL = thumbs[0].Attrs["url"]
			}
			if descs, ok := group.Children["description"]; ok && len(descs) > 0 {
				video.VideoDescription = sanitizer.Sanitize(descs[0].Value)
			}
		}
		if video.VideoDescription == "" && item.Description != "" {
			video.VideoDescription = sanitizer.Sanitize(item.Description)
		}

		video.IsLikelyYtShort = isLikelyShort(item.Link, item.Title)

		videos = append(videos, video)
	}

	return videos
}

// extensionValue は名前空間付き拡張の最初の値を返す。存在しない場合は空文字。
func extensionValue(exts map[string]map[string][]ext.Extension, namespace, name string) string {
	ns, ok := exts[namespace]
	if !ok {
		return ""
	}
	values, ok := ns[name]
	if !ok || len(values) == 0 {
		return ""
	}
	return values[0].Value
}

// mediaGroup はmedia:group拡張を返す。存在しない場合はnil。
func mediaGroup(exts map[string]map[string][]ext.Extension) *ext.Extension {
	ns, ok := exts["media"]
	if !ok {
		return nil
	}
	groups, ok := ns["group"]
	if !ok || len(groups) == 0 {
		return nil
	}
	return &groups[0]
}

// videoIDFromLink は視聴URLから動画IDを取り出す。
// watch?v=<id> と /shorts/<id> の2形状を解釈する。
func videoIDFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("v"); id != "" {
		return id
	}
	if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
		if cut := strings.IndexByte(rest, '/'); cut >= 0 {
			rest = rest[:cut]
		}
		return rest
	}
	return ""
}

// isLikelyShort はショート動画の可能性が高いかを判定する。
// 確定情報はフィードに含まれないため、URL形状とタイトルのタグを手がかりにする。
func isLikelyShort(link, title string) bool {
	if strings.Contains(link, "/shorts/") {
		return true
	}
	return strings.Contains(strings.ToLower(title), "#shorts")
}
