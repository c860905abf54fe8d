package metrics

import "time"

// Event names emitted by the assistant.
const (
	EventTurnDispatched      = "turn_dispatched"
	EventEchoDiscarded       = "utterance_echo_discarded"
	EventUtteranceIgnored    = "utterance_ignored"
	EventToolInvoked         = "tool_invoked"
	EventToolFailed          = "tool_failed"
	EventSlicerRetry         = "slicer_retry"
	EventPlaybackInterrupted = "playback_interrupted"
	EventModeChanged         = "mode_changed"
	EventTurnState           = "turn_state"
	EventRecorderRestarted   = "recorder_restarted"
	EventBreakerOpen         = "llm_breaker_open"
	EventBreakerClose        = "llm_breaker_close"
	EventBreakerDenied       = "llm_breaker_denied"
	EventRateLimit           = "llm_rate_limit"

	// Latencies, valued in milliseconds.
	EventAskLatency       = "ask_latency_ms"
	EventSynthesisLatency = "synthesis_latency_ms"
	EventToolLatency      = "tool_latency_ms"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Record stamps and forwards a named event. A nil observer is a no-op.
func Record(obs Observer, name string, value float64, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}

// Since records the elapsed milliseconds since start.
func Since(obs Observer, name string, start time.Time, tags map[string]string) {
	Record(obs, name, float64(time.Since(start).Milliseconds()), tags)
}
