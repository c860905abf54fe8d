package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/arturo/pkg/adapters/stt"
	"github.com/harunnryd/arturo/pkg/adapters/tts"
	"github.com/harunnryd/arturo/pkg/audio"
	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/listener"
	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/metrics"
	"github.com/harunnryd/arturo/pkg/redact"
	"github.com/harunnryd/arturo/pkg/turn"
)

const (
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultPlaybackPoll    = 100 * time.Millisecond
	DefaultAssistantName   = "Arturo"
	timestampLayout        = "01/02/06:15:04:05"
	minPostSpeechPause     = 500 * time.Millisecond
	maxPostSpeechPause     = 10 * time.Second
	postSpeechPausePerRune = 65 * time.Millisecond
	exitCommand            = "exit"
	silentPrompt           = "You (text): "
	voiceUserLabel         = "You"
	listeningAnnouncement  = "Listening..."
)

var errQuit = errors.New("quit requested")

// Asker is the conversation boundary.
type Asker interface {
	Ask(ctx context.Context, question string) string
}

type Config struct {
	AssistantName string
	Greeting      string
	PollInterval  time.Duration
	PlaybackPoll  time.Duration
	// AppendTimestamp suffixes every dispatched voice utterance with the
	// local time.
	AppendTimestamp bool
	// PostSpeechPause waits proportionally to the answer length after
	// playback reports completion.
	PostSpeechPause bool
	// ListenWhileSpeaking keeps the recognizer running during playback so
	// an activation phrase can interrupt it.
	ListenWhileSpeaking bool
}

type Deps struct {
	Session     Asker
	Recognizer  stt.Recognizer
	Synthesizer tts.Synthesizer
	Player      audio.Player
	Mailbox     *listener.Mailbox
	Echo        *listener.EchoWindow
	Gate        *listener.Gate
	Mode        *ModeState
	Console     *Console
	Clock       listener.Clock
	Machine     *turn.Machine
	Logger      *slog.Logger
	Observer    metrics.Observer
}

// Orchestrator runs the single-threaded poll and dispatch loop. At most one
// question and one playback are in flight at any time.
type Orchestrator struct {
	cfg Config
	Deps
	log *slog.Logger

	wasSilent bool
	stopOnce  sync.Once
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Session == nil {
		return nil, errors.New("orchestrator: session is required")
	}
	if deps.Recognizer == nil || deps.Synthesizer == nil || deps.Player == nil {
		return nil, errors.New("orchestrator: recognizer, synthesizer and player are required")
	}
	if deps.Console == nil {
		return nil, errors.New("orchestrator: console is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PlaybackPoll <= 0 {
		cfg.PlaybackPoll = DefaultPlaybackPoll
	}
	if strings.TrimSpace(cfg.AssistantName) == "" {
		cfg.AssistantName = DefaultAssistantName
	}
	if deps.Clock == nil {
		deps.Clock = listener.SystemClock{}
	}
	if deps.Mailbox == nil {
		deps.Mailbox = listener.NewMailbox(deps.Clock)
	}
	if deps.Echo == nil {
		deps.Echo = listener.NewEchoWindow(0)
	}
	if deps.Gate == nil {
		deps.Gate = listener.NewGate([]string{cfg.AssistantName})
	}
	if deps.Mode == nil {
		deps.Mode = NewModeState(false, deps.Observer, deps.Logger)
	}
	if deps.Machine == nil {
		deps.Machine = turn.NewMachine().WithClock(deps.Clock.Now)
	}
	if deps.Observer != nil {
		deps.Machine.AddListener(turn.MetricsListener{Observer: deps.Observer})
	}
	return &Orchestrator{
		cfg:  cfg,
		Deps: deps,
		log:  logging.NewComponentLogger(deps.Logger, "orchestrator"),
	}, nil
}

// Run greets the user and loops until ctx is cancelled, the console input
// ends, or "exit" is typed in silent mode. Recording and playback are
// always stopped before it returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() { _ = o.Shutdown() }()

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	go listener.Pump(pumpCtx, o.Recognizer, o.Mailbox, o.Logger)

	o.greet(ctx)
	o.wasSilent = o.Mode.Silent()
	if !o.wasSilent {
		o.startRecording(ctx, "startup")
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		var err error
		if o.Mode.Silent() {
			err = o.silentCycle(ctx)
		} else {
			err = o.voiceCycle(ctx)
		}
		switch {
		case err == nil:
		case errors.Is(err, errQuit), errors.Is(err, io.EOF):
			o.log.Info("orchestrator_quit", "reason", err.Error())
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			o.log.Error("cycle_failed", "error", err)
		}
	}
}

// Shutdown stops playback and recording. It is safe to call more than once.
func (o *Orchestrator) Shutdown() error {
	var errs []error
	o.stopOnce.Do(func() {
		if o.Player.Busy() {
			if err := o.Player.Stop(); err != nil {
				errs = append(errs, errorsx.Wrap(err, errorsx.ReasonPlayback))
			}
		}
		if o.Recognizer.IsRecording() {
			if err := o.Recognizer.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		o.enter(turn.StateIdle, "shutdown")
		o.Console.Info("Leaving " + o.cfg.AssistantName + ".")
	})
	return errors.Join(errs...)
}

// Drain lets a lifecycle runner stop the loop's devices.
func (o *Orchestrator) Drain() error { return o.Shutdown() }

func (o *Orchestrator) greet(ctx context.Context) {
	if strings.TrimSpace(o.cfg.Greeting) == "" {
		return
	}
	o.Console.Answer(o.cfg.AssistantName, o.cfg.Greeting)
	if o.Mode.Silent() {
		return
	}
	o.speak(ctx, o.cfg.Greeting)
	o.Echo.MarkSpeechEnd(o.Clock.Now())
	o.enter(turn.StateIdle, "greeting_done")
}

func (o *Orchestrator) voiceCycle(ctx context.Context) error {
	if o.wasSilent {
		o.wasSilent = false
		o.startRecording(ctx, "voice_mode")
	}
	if err := sleep(ctx, o.cfg.PollInterval); err != nil {
		return err
	}
	u, ok := o.Mailbox.Poll()
	if !ok {
		if !o.Player.Busy() && !o.Recognizer.IsRecording() && !o.Mode.Silent() {
			o.log.Debug("recorder_safety_restart")
			metrics.Record(o.Observer, metrics.EventRecorderRestarted, 1, nil)
			o.startRecording(ctx, "safety_restart")
		}
		return nil
	}
	o.Console.User(voiceUserLabel, u.Text)

	if o.Echo.IsEcho(u.At) {
		o.log.Debug("utterance_echo_discarded", "text", redact.Text(u.Text))
		metrics.Record(o.Observer, metrics.EventEchoDiscarded, 1, nil)
		return nil
	}

	decision := o.Gate.Evaluate(u.Text)
	if decision.Hotword && o.Player.Busy() {
		o.interruptPlayback("hotword")
	}
	if !decision.Dispatch {
		o.log.Debug("utterance_ignored", "text", redact.Text(u.Text))
		metrics.Record(o.Observer, metrics.EventUtteranceIgnored, 1, nil)
		return nil
	}
	o.dispatch(ctx, u.Text, decision)
	return nil
}

func (o *Orchestrator) silentCycle(ctx context.Context) error {
	if !o.wasSilent {
		o.wasSilent = true
		if o.Recognizer.IsRecording() {
			if err := o.Recognizer.Stop(); err != nil {
				o.log.Warn("recorder_stop_failed", "error", err)
			}
		}
		o.Mailbox.Clear()
		o.enter(turn.StateIdle, "silent_mode")
	}
	line, err := o.Console.ReadLine(ctx, silentPrompt)
	if err != nil {
		return err
	}
	line = strings.TrimSpace(line)
	if strings.EqualFold(line, exitCommand) {
		return errQuit
	}
	if line == "" {
		return nil
	}
	o.enter(turn.StateThinking, "text_input")
	metrics.Record(o.Observer, metrics.EventTurnDispatched, 1, map[string]string{"mode": "silent"})
	answer := o.ask(ctx, line, "silent")
	o.Gate.Expect(answer)
	o.Console.Answer(o.cfg.AssistantName, answer)
	o.enter(turn.StateIdle, "answered")
	return nil
}

// dispatch runs one voice turn: ask, print, speak, re-arm the echo window
// and resume recording. An activation phrase heard during playback starts
// the next turn right away.
func (o *Orchestrator) dispatch(ctx context.Context, text string, decision listener.Decision) {
	for text != "" && ctx.Err() == nil {
		o.log.Info("turn_dispatched",
			"hotword", decision.Hotword,
			"expected", decision.Expected,
			"text", redact.Text(text))
		metrics.Record(o.Observer, metrics.EventTurnDispatched, 1, map[string]string{"mode": "voice"})

		if !o.cfg.ListenWhileSpeaking && o.Recognizer.IsRecording() {
			if err := o.Recognizer.Stop(); err != nil {
				o.log.Warn("recorder_stop_failed", "error", err)
			}
		}
		o.enter(turn.StateThinking, "dispatch")

		question := text
		if o.cfg.AppendTimestamp {
			question += " " + o.Clock.Now().Format(timestampLayout)
		}
		answer := o.ask(ctx, question, "voice")
		o.Gate.Expect(answer)
		o.Console.Answer(o.cfg.AssistantName, answer)

		text = ""
		if !o.Mode.Silent() {
			if next := o.speak(ctx, answer); next != nil {
				text = next.Text
				decision = listener.Decision{Dispatch: true, Hotword: true}
			}
			o.Echo.MarkSpeechEnd(o.Clock.Now())
		}

		if o.Mode.Silent() {
			o.enter(turn.StateIdle, "silent_mode")
			continue
		}
		if text == "" {
			o.startRecording(ctx, "turn_complete")
		}
	}
}

func (o *Orchestrator) ask(ctx context.Context, question, mode string) string {
	start := time.Now()
	answer := o.Session.Ask(ctx, question)
	metrics.Since(o.Observer, metrics.EventAskLatency, start, map[string]string{"mode": mode})
	return answer
}

// speak renders and plays text, returning an utterance that interrupted
// playback, if any.
func (o *Orchestrator) speak(ctx context.Context, text string) *listener.Utterance {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	o.enter(turn.StateSpeaking, "answer")
	start := time.Now()
	speech, err := o.Synthesizer.Synthesize(ctx, text)
	metrics.Since(o.Observer, metrics.EventSynthesisLatency, start, map[string]string{"provider": o.Synthesizer.Name()})
	if err != nil {
		o.log.Error("speech_synthesis_failed", "provider", o.Synthesizer.Name(), "error", err)
		return nil
	}
	defer func() {
		if err := speech.Cleanup(); err != nil {
			o.log.Debug("speech_cleanup_failed", "error", err)
		}
	}()
	if err := o.Player.Play(ctx, speech.Path); err != nil {
		o.log.Error("playback_failed", "error", errorsx.Wrap(err, errorsx.ReasonPlayback))
		return nil
	}

	if interrupt := o.waitPlayback(ctx); interrupt != nil {
		return interrupt
	}
	if o.cfg.PostSpeechPause {
		_ = sleep(ctx, postSpeechPause(text))
	}
	return nil
}

func (o *Orchestrator) waitPlayback(ctx context.Context) *listener.Utterance {
	if !o.cfg.ListenWhileSpeaking {
		if err := audio.Wait(ctx, o.Player, o.cfg.PlaybackPoll); err != nil {
			o.interruptPlayback("cancelled")
		}
		return nil
	}
	for o.Player.Busy() {
		if err := sleep(ctx, o.cfg.PlaybackPoll); err != nil {
			o.interruptPlayback("cancelled")
			return nil
		}
		u, ok := o.Mailbox.Poll()
		if !ok {
			continue
		}
		if o.Gate.HasActivation(u.Text) {
			o.Console.User(voiceUserLabel, u.Text)
			o.interruptPlayback("hotword")
			return &u
		}
		metrics.Record(o.Observer, metrics.EventEchoDiscarded, 1, nil)
	}
	return nil
}

func (o *Orchestrator) interruptPlayback(reason string) {
	o.log.Info("playback_interrupted", "reason", reason)
	metrics.Record(o.Observer, metrics.EventPlaybackInterrupted, 1, map[string]string{"reason": reason})
	if err := o.Player.Stop(); err != nil {
		o.log.Warn("playback_stop_failed", "error", errorsx.Wrap(err, errorsx.ReasonPlayback))
	}
}

func (o *Orchestrator) startRecording(ctx context.Context, reason string) {
	if o.Recognizer.IsRecording() {
		o.enter(turn.StateListening, reason)
		return
	}
	if err := o.Recognizer.Start(ctx); err != nil {
		o.log.Error("recorder_start_failed", "reason", reason, "provider", o.Recognizer.Name(), "error", err)
		o.enter(turn.StateIdle, "recorder_failed")
		return
	}
	o.enter(turn.StateListening, reason)
	o.Console.Info(listeningAnnouncement)
}

func (o *Orchestrator) enter(state turn.State, reason string) {
	if err := o.Machine.Transition(state, reason); err != nil {
		o.log.Debug("turn_transition_skipped", "error", err)
	}
}

// postSpeechPause estimates how long the tail of the audio may still be
// audible: 65ms per character, clamped to [0.5s, 10s].
func postSpeechPause(text string) time.Duration {
	d := time.Duration(len([]rune(text))) * postSpeechPausePerRune
	if d < minPostSpeechPause {
		return minPostSpeechPause
	}
	if d > maxPostSpeechPause {
		return maxPostSpeechPause
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
