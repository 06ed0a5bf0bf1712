package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "sitepub"

// PrometheusRecorder implements Recorder using Prometheus metrics on a
// private registry. The CLI is short-lived, so metrics are exported through
// node_exporter's textfile collector rather than scraped.
type PrometheusRecorder struct {
	reg            *prom.Registry
	stepDuration   *prom.HistogramVec
	stepResults    *prom.CounterVec
	deployOutcome  *prom.CounterVec
	lastSuccess    prom.Gauge
	pagesScanned   prom.Gauge
	pagesRewritten prom.Gauge
	references     prom.Gauge
}

// NewPrometheusRecorder constructs and registers the sitepub metrics.
func NewPrometheusRecorder() *PrometheusRecorder {
	pr := &PrometheusRecorder{reg: prom.NewRegistry()}
	pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Duration of individual deploy steps",
		Buckets:   prom.DefBuckets,
	}, []string{"step"})
	pr.stepResults = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "step_results_total",
		Help:      "Step result counts by outcome",
	}, []string{"step", "result"})
	pr.deployOutcome = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "deploy_outcomes_total",
		Help:      "Deploy outcomes by final status",
	}, []string{"outcome"})
	pr.lastSuccess = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful deploy",
	})
	pr.pagesScanned = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "cachebust_pages",
		Help:      "Pages scanned by the last asset reference refresh",
	})
	pr.pagesRewritten = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "cachebust_pages_rewritten",
		Help:      "Pages rewritten by the last asset reference refresh",
	})
	pr.references = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "cachebust_references",
		Help:      "Asset references found by the last asset reference refresh",
	})
	pr.reg.MustRegister(pr.stepDuration, pr.stepResults, pr.deployOutcome,
		pr.lastSuccess, pr.pagesScanned, pr.pagesRewritten, pr.references)
	return pr
}

func (p *PrometheusRecorder) ObserveStep(step string, d time.Duration, ok bool) {
	if p == nil {
		return
	}
	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	result := "success"
	if !ok {
		result = "failed"
	}
	p.stepResults.WithLabelValues(step, result).Inc()
}

func (p *PrometheusRecorder) IncDeploy(outcome string) {
	if p == nil {
		return
	}
	p.deployOutcome.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		p.lastSuccess.SetToCurrentTime()
	}
}

func (p *PrometheusRecorder) ObserveRewrite(pages, rewritten, refs int) {
	if p == nil {
		return
	}
	p.pagesScanned.Set(float64(pages))
	p.pagesRewritten.Set(float64(rewritten))
	p.references.Set(float64(refs))
}

// WriteTextfile writes all metrics in the Prometheus text format to path,
// atomically, for node_exporter's textfile collector.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prom.WriteToTextfile(path, p.reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
