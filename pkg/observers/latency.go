package observers

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/arturo/pkg/metrics"
)

const latencySuffix = "_ms"

// LatencyStat aggregates one latency event.
type LatencyStat struct {
	Name    string
	Count   int
	TotalMS float64
	MaxMS   float64
}

func (s LatencyStat) MeanMS() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.TotalMS / float64(s.Count)
}

// LatencyObserver keeps running totals for every event whose name ends in
// "_ms" and logs them once at shutdown.
type LatencyObserver struct {
	log *slog.Logger

	mu    sync.Mutex
	stats map[string]*LatencyStat
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{log: log, stats: make(map[string]*LatencyStat)}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	if !strings.HasSuffix(ev.Name, latencySuffix) || ev.Value < 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.stats[ev.Name]
	if st == nil {
		st = &LatencyStat{Name: ev.Name}
		o.stats[ev.Name] = st
	}
	st.Count++
	st.TotalMS += ev.Value
	if ev.Value > st.MaxMS {
		st.MaxMS = ev.Value
	}
}

// Summary returns a snapshot sorted by event name.
func (o *LatencyObserver) Summary() []LatencyStat {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]LatencyStat, 0, len(o.stats))
	for _, st := range o.stats {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close logs the summary.
func (o *LatencyObserver) Close() error {
	for _, st := range o.Summary() {
		o.log.Info("latency_summary",
			"event", st.Name,
			"count", st.Count,
			"mean_ms", int64(st.MeanMS()),
			"max_ms", int64(st.MaxMS),
		)
	}
	return nil
}

var _ metrics.Observer = (*LatencyObserver)(nil)
