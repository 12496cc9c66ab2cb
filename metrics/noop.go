package metrics

import "time"

var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*PrometheusRecorder)(nil)
)

// NoopRecorder discards everything. Components default to it when no
// recorder is configured.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

// Or returns r, or NoopRecorder when r is nil.
func Or(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
