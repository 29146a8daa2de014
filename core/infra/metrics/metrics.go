package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures counters for the state core.
type Metrics interface {
	IncCommits(result string)
	IncHistory(op, result string)
	IncNotifications(target string)
	IncDeliveryFailures()
	IncDownloads(result string)
}

// GatewayMetrics captures request metrics for the HTTP layer.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncCommits(string)         {}
func (Noop) IncHistory(string, string) {}
func (Noop) IncNotifications(string)   {}
func (Noop) IncDeliveryFailures()      {}
func (Noop) IncDownloads(string)       {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	commits          *prometheus.CounterVec
	history          *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	downloads        *prometheus.CounterVec
	once             sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_commits_total",
			Help:      "State commit attempts by result",
		}, []string{"result"}),
		history: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_history_total",
			Help:      "Undo/redo operations by op and result",
		}, []string{"op", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by target",
		}, []string{"target"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_delivery_failures_total",
			Help:      "Per-subscriber delivery failures",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visasset_downloads_total",
			Help:      "Per-file visasset download attempts by result",
		}, []string{"result"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.commits, p.history, p.notifications, p.deliveryFailures, p.downloads)
	})
}

func (p *Prom) IncCommits(result string) {
	p.commits.WithLabelValues(result).Inc()
}

func (p *Prom) IncHistory(op, result string) {
	p.history.WithLabelValues(op, result).Inc()
}

func (p *Prom) IncNotifications(target string) {
	p.notifications.WithLabelValues(target).Inc()
}

func (p *Prom) IncDeliveryFailures() {
	p.deliveryFailures.Inc()
}

func (p *Prom) IncDownloads(result string) {
	p.downloads.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
