package listener

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harunnryd/arturo/pkg/adapters/stt"
	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/redact"
)

const pumpErrorBackoff = 250 * time.Millisecond

// Pump moves finalized utterances from the recognizer into the mailbox
// until ctx is cancelled or the recognizer is closed. Run it on its own
// goroutine.
func Pump(ctx context.Context, rec stt.Recognizer, mb *Mailbox, logger *slog.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	log := logging.NewComponentLogger(logger, "listener")
	for {
		text, err := rec.NextUtterance(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, stt.ErrClosed) {
				return
			}
			log.Warn("recognizer_receive_failed", "provider", rec.Name(), "error", errorsx.Wrap(err, errorsx.ReasonSTTReceive))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pumpErrorBackoff):
			}
			continue
		}
		log.Debug("utterance_recognized", "text", redact.Text(text))
		mb.Push(text)
	}
}
