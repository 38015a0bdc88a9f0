// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordFetchSuccess(channelID string)
	RecordFetchFailure(channelID string, reason string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordVideosUpserted(count int)
	RecordReconcileRun()
	RecordReconcileRemoved(kind string, count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess     prometheus.Counter
	fetchFail        prometheus.Counter
	httpStatus       *prometheus.CounterVec
	fetchLatency     prometheus.Histogram
	videosUpserted   prometheus.Counter
	reconcileRuns    prometheus.Counter
	reconcileRemoved *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tubeman_fetch_success_total",
			Help: "チャンネルフィードフェッチ成功の合計数",
		}),
		fetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tubeman_fetch_fail_total",
			Help: "チャンネルフィードフェッチ失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubeman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tubeman_fetch_latency_seconds",
			Help:    "チャンネルフィードフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		videosUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tubeman_videos_upserted_total",
			Help: "アップサートされた動画の合計数",
		}),
		reconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tubeman_reconcile_runs_total",
			Help: "重複除去・修復パスの実行回数",
		}),
		reconcileRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubeman_reconcile_removed_total",
			Help: "修復パスで削除したレコード数（種別ラベル付き）",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.httpStatus,
		c.fetchLatency,
		c.videosUpserted,
		c.reconcileRuns,
		c.reconcileRemoved,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(channelID string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフェッチ失敗を記録する。
func (c *Collector) RecordFetchFailure(channelID string, reason string) {
	c.fetchFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordVideosUpserted はアップサートされた動画数を記録する。
func (c *Collector) RecordVideosUpserted(count int) {
	c.videosUpserted.Add(float64(count))
}

// RecordReconcileRun は修復パスの実行を記録する。
func (c *Collector) RecordReconcileRun() {
	c.reconcileRuns.Inc()
}

// RecordReconcileRemoved は修復パスの削除件数を種別ごとに記録する。
// kindは subscription / video / queue_entry / inbox_entry のいずれか。
func (c *Collector) RecordReconcileRemoved(kind string, count int) {
	if count > 0 {
		c.reconcileRemoved.WithLabelValues(kind).Add(float64(count))
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
