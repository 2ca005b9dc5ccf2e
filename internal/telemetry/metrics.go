package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultRegistry = newRegistry()

type registry struct {
	reg              *prometheus.Registry
	deliveries       *prometheus.CounterVec
	actions          *prometheus.CounterVec
	githubAPIErrors  *prometheus.CounterVec
	renewals         *prometheus.CounterVec
	mediaLookups     *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
}

func newRegistry() *registry {
	r := &registry{
		reg: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookbot_webhook_deliveries_total",
			Help: "Webhook deliveries received, by event type and handling status.",
		}, []string{"event", "status"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookbot_actions_dispatched_total",
			Help: "Action keys executed by the response orchestrator.",
		}, []string{"action", "status"}),
		githubAPIErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookbot_github_api_errors_total",
			Help: "Non-2xx responses from the GitHub REST API.",
		}, []string{"operation", "status_code"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookbot_credential_renewals_total",
			Help: "App assertion renewal attempts.",
		}, []string{"status"}),
		mediaLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookbot_media_lookups_total",
			Help: "Media resolver lookups by result.",
		}, []string{"result"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hookbot_dispatch_duration_seconds",
			Help:    "Time spent handling one webhook delivery.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"event"}),
	}
	r.reg.MustRegister(
		r.deliveries,
		r.actions,
		r.githubAPIErrors,
		r.renewals,
		r.mediaLookups,
		r.dispatchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func IncDelivery(event, status string) {
	defaultRegistry.deliveries.WithLabelValues(event, status).Inc()
}

func IncAction(action, status string) {
	defaultRegistry.actions.WithLabelValues(action, status).Inc()
}

func IncGitHubAPIError(operation string, statusCode int) {
	defaultRegistry.githubAPIErrors.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
}

func IncCredentialRenewal(status string) {
	defaultRegistry.renewals.WithLabelValues(status).Inc()
}

func IncMediaLookup(result string) {
	defaultRegistry.mediaLookups.WithLabelValues(result).Inc()
}

func ObserveDispatchDuration(event string, d time.Duration) {
	defaultRegistry.dispatchDuration.WithLabelValues(event).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(defaultRegistry.reg, promhttp.HandlerOpts{})
}
