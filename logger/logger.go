// Package logger defines the structured logging contract used across x402kit.
package logger

// Logger takes a message and a flat set of structured fields.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}

// SecurityEvent logs at error level and tags the entry so it can be alerted on.
// Replay attempts always go through here.
func SecurityEvent(l Logger, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	tagged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		tagged[k] = v
	}
	tagged["security_event"] = true
	l.Error(msg, tagged)
}
