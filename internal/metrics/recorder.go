package metrics

import "time"

// ResultLabel enumerates task result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for tasks, rebuilds and reloads.
type Recorder interface {
	ObserveTaskDuration(task string, d time.Duration)
	IncTaskResult(task string, result ResultLabel)
	IncRebuild(trigger string)
	IncReloadBroadcast()
	SetBundleBytes(asset string, n int)
	SetManifestEntries(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveTaskDuration(string, time.Duration) {}
func (NoopRecorder) IncTaskResult(string, ResultLabel)         {}
func (NoopRecorder) IncRebuild(string)                         {}
func (NoopRecorder) IncReloadBroadcast()                       {}
func (NoopRecorder) SetBundleBytes(string, int)                {}
func (NoopRecorder) SetManifestEntries(int)                    {}
