// Package metrics provides observability hooks for the asset pipeline.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so nothing needs a nil check:
//
//	s := scheduler.New(scheduler.WithRecorder(metrics.NoopRecorder{}))
//
// When the preview server is started with metrics enabled, a
// PrometheusRecorder is created against a private registry and its
// HTTPHandler is mounted at /metrics.
package metrics
