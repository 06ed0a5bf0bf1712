// Package metrics records deploy observability data. Components receive a
// Recorder and default to NoopRecorder, so metrics are opt-in.
package metrics

import "time"

// Deploy outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)

// Recorder defines observability hooks for deploy runs and their steps.
type Recorder interface {
	ObserveStep(step string, d time.Duration, ok bool)
	IncDeploy(outcome string) // outcome: success|failed|canceled
	ObserveRewrite(pages, rewritten, refs int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStep(string, time.Duration, bool) {}
func (NoopRecorder) IncDeploy(string)                        {}
func (NoopRecorder) ObserveRewrite(int, int, int)            {}
