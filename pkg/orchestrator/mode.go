package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/metrics"
)

// ModeState holds the voice/silent switch. Only the toggle_silent_mode tool
// writes it; the turn loop reads it once per iteration.
type ModeState struct {
	obs    metrics.Observer
	logger *slog.Logger

	mu     sync.Mutex
	silent bool
}

func NewModeState(silent bool, obs metrics.Observer, logger *slog.Logger) *ModeState {
	return &ModeState{
		silent: silent,
		obs:    obs,
		logger: logging.NewComponentLogger(logger, "mode"),
	}
}

func (m *ModeState) Silent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.silent
}

// Set switches the mode and returns the confirmation handed back to the
// model.
func (m *ModeState) Set(silent bool) string {
	m.mu.Lock()
	changed := m.silent != silent
	m.silent = silent
	m.mu.Unlock()

	if changed {
		m.logger.Info("mode_changed", "silent", silent)
		metrics.Record(m.obs, metrics.EventModeChanged, 1, map[string]string{"mode": modeName(silent)})
	}
	if silent {
		return "Silent mode enabled."
	}
	return "Silent mode disabled."
}

func modeName(silent bool) string {
	if silent {
		return "silent"
	}
	return "voice"
}
