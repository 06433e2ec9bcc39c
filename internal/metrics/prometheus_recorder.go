package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	taskDuration    *prom.HistogramVec
	taskResults     *prom.CounterVec
	rebuilds        *prom.CounterVec
	reloads         prom.Counter
	bundleBytes     *prom.GaugeVec
	manifestEntries prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "assetpipe",
			Name:      "task_duration_seconds",
			Help:      "Duration of individual task runs",
			Buckets:   prom.DefBuckets,
		}, []string{"task"}),
		taskResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetpipe",
			Name:      "task_results_total",
			Help:      "Task results by outcome",
		}, []string{"task", "result"}),
		rebuilds: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetpipe",
			Name:      "rebuilds_total",
			Help:      "Watch-triggered rebuilds by trigger",
		}, []string{"trigger"}),
		reloads: prom.NewCounter(prom.CounterOpts{
			Namespace: "assetpipe",
			Name:      "reload_broadcasts_total",
			Help:      "Reload signals pushed to preview clients",
		}),
		bundleBytes: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "assetpipe",
			Name:      "bundle_bytes",
			Help:      "Size of the last emitted bundle",
		}, []string{"asset"}),
		manifestEntries: prom.NewGauge(prom.GaugeOpts{
			Namespace: "assetpipe",
			Name:      "manifest_entries",
			Help:      "Number of cache-busted assets currently registered",
		}),
	}
	reg.MustRegister(pr.taskDuration, pr.taskResults, pr.rebuilds, pr.reloads, pr.bundleBytes, pr.manifestEntries)
	return pr
}

func (p *PrometheusRecorder) ObserveTaskDuration(task string, d time.Duration) {
	if p == nil {
		return
	}
	p.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTaskResult(task string, result ResultLabel) {
	if p == nil {
		return
	}
	p.taskResults.WithLabelValues(task, string(result)).Inc()
}

func (p *PrometheusRecorder) IncRebuild(trigger string) {
	if p == nil {
		return
	}
	p.rebuilds.WithLabelValues(trigger).Inc()
}

func (p *PrometheusRecorder) IncReloadBroadcast() {
	if p == nil {
		return
	}
	p.reloads.Inc()
}

func (p *PrometheusRecorder) SetBundleBytes(asset string, n int) {
	if p == nil {
		return
	}
	p.bundleBytes.WithLabelValues(asset).Set(float64(n))
}

func (p *PrometheusRecorder) SetManifestEntries(n int) {
	if p == nil {
		return
	}
	p.manifestEntries.Set(float64(n))
}
