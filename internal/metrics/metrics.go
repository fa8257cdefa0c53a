// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン・検証結果のラベル値。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordVerification(result string)
	RecordTokenIssued()
	RecordProviderLatency(provider string, duration time.Duration)
	RecordAuthorizationDenied(reason string)
	RecordRateLimited(scope string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	tokensIssued    prometheus.Counter
	providerLatency *prometheus.HistogramVec
	denials         *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_logins_total",
			Help: "コールバック処理の結果別件数",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_token_verifications_total",
			Help: "トークン検証の結果別件数",
		}, []string{"result"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_tokens_issued_total",
			Help: "発行したセッショントークンの合計数",
		}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_provider_exchange_seconds",
			Help:    "IdPとのコード交換のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_authorization_denied_total",
			Help: "アクセス制御で拒否されたリクエスト数",
		}, []string{"reason"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_rate_limited_total",
			Help: "レート制限で拒否されたリクエスト数",
		}, []string{"scope"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.verifications,
		c.tokensIssued,
		c.providerLatency,
		c.denials,
		c.rateLimited,
		c.httpStatus,
	)

	return c
}

// RecordLogin はコールバック処理の結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordVerification はトークン検証の結果を記録する。
// resultには成功時ResultSuccess、失敗時はエラーコードを渡す。
func (c *Collector) RecordVerification(result string) {
	c.verifications.WithLabelValues(result).Inc()
}

// RecordTokenIssued はトークン発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordProviderLatency はコード交換のレイテンシを記録する。
func (c *Collector) RecordProviderLatency(provider string, duration time.Duration) {
	c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordAuthorizationDenied はアクセス拒否を記録する。
func (c *Collector) RecordAuthorizationDenied(reason string) {
	c.denials.WithLabelValues(reason).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。
// テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordLogin(string)                          {}
func (NopCollector) RecordVerification(string)                   {}
func (NopCollector) RecordTokenIssued()                          {}
func (NopCollector) RecordProviderLatency(string, time.Duration) {}
func (NopCollector) RecordAuthorizationDenied(string)            {}
func (NopCollector) RecordRateLimited(string)                    {}
func (NopCollector) RecordHTTPStatus(int)                        {}

// Handler はgathererの内容を返すスクレイプ用ハンドラー。
// 収集エラーがあっても取得できたメトリクスは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
