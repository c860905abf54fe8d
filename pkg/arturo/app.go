package arturo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/harunnryd/arturo/pkg/audio"
	"github.com/harunnryd/arturo/pkg/configutil"
	"github.com/harunnryd/arturo/pkg/conversation"
	"github.com/harunnryd/arturo/pkg/listener"
	"github.com/harunnryd/arturo/pkg/llm"
	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/metrics"
	"github.com/harunnryd/arturo/pkg/observers"
	"github.com/harunnryd/arturo/pkg/octoprint"
	"github.com/harunnryd/arturo/pkg/orchestrator"
	"github.com/harunnryd/arturo/pkg/preferences"
	"github.com/harunnryd/arturo/pkg/providers/mock"
	"github.com/harunnryd/arturo/pkg/redact"
	"github.com/harunnryd/arturo/pkg/resilience"
	"github.com/harunnryd/arturo/pkg/runner"
	"github.com/harunnryd/arturo/pkg/slicer"
	"github.com/harunnryd/arturo/pkg/tools"
	"github.com/harunnryd/arturo/pkg/webfetch"
)

const (
	drainTimeout      = 5 * time.Second
	speechFilePattern = "arturo-*"
)

type Options struct {
	Providers *ProviderRegistry
	Logger    *slog.Logger
	In        io.Reader
	Out       io.Writer
	// Banner receives the startup banner; nil disables it.
	Banner io.Writer
	// Player overrides the configured audio player.
	Player audio.Player
	Clock  listener.Clock
}

// App is a fully wired assistant.
type App struct {
	Config       Config
	Logger       *slog.Logger
	Observer     metrics.Observer
	Tools        *tools.Registry
	Toolset      *Toolset
	Session      *conversation.Session
	Mode         *orchestrator.ModeState
	Orchestrator *orchestrator.Orchestrator

	banner  io.Writer
	closers []func() error
}

// NewObserver builds the metrics fan-out: debug logging, a latency summary
// logged on close, and the JSONL sink when metrics_path is set. The returned
// close function flushes and releases them.
func NewObserver(cfg Config, logger *slog.Logger) (metrics.Observer, func() error, error) {
	latency := observers.NewLatencyObserver(logging.NewComponentLogger(logger, "latency"))
	debug := observers.NewLoggerObserver(logging.NewComponentLogger(logger, "metrics"))

	path := strings.TrimSpace(cfg.Observability.MetricsPath)
	if path == "" {
		return observers.NewMultiObserver(debug, latency), latency.Close, nil
	}
	sink, err := metrics.OpenJSONLFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open metrics file: %w", err)
	}
	async := metrics.NewAsyncObserver(sink, 256)
	return observers.NewMultiObserver(debug, latency, async), func() error {
		return errors.Join(async.Close(), latency.Close(), sink.Close())
	}, nil
}

// purgeSpeechFiles drops speech renders older than the retention window.
func purgeSpeechFiles(cfg Config, logger *slog.Logger) {
	dir := cfg.Audio.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	n, err := observers.PurgeArtifacts(dir, speechFilePattern, configutil.Millis(cfg.Audio.RetentionMS, 0))
	if err != nil {
		logger.Warn("speech_purge_failed", "dir", dir, "error", err)
	}
	if n > 0 {
		logger.Info("speech_purged", "dir", dir, "count", n)
	}
}

// NewToolset builds the tool collaborators from cfg.
func NewToolset(cfg Config, mode ModeSwitch, logger *slog.Logger, obs metrics.Observer) *Toolset {
	return &Toolset{
		Slicer: slicer.New(slicer.Config{
			Executable:       cfg.Slicer.Executable,
			ViewerExecutable: cfg.Slicer.ViewerExecutable,
			ModelDir:         cfg.Slicer.ModelDir,
			Extensions:       cfg.Slicer.Extensions,
			BedCenter:        cfg.Slicer.BedCenter,
			ExcerptChars:     cfg.Slicer.ExcerptChars,
		}, slicer.Options{Logger: logger, Observer: obs}),
		Preferences: preferences.NewStore(cfg.Preferences.Path),
		Mode:        mode,
		Fetcher: webfetch.New(webfetch.Config{
			Timeout:  configutil.Millis(cfg.Fetch.TimeoutMS, 10*time.Second),
			MaxBytes: cfg.Fetch.MaxBytes,
		}),
		OctoPrint: octoprint.New(octoprint.Config{
			BaseURL: cfg.OctoPrint.BaseURL,
			APIKey:  cfg.OctoPrint.APIKey,
			Timeout: configutil.Millis(cfg.OctoPrint.TimeoutMS, 10*time.Second),
			Retries: cfg.OctoPrint.Retries,
		}, logger),
	}
}

// NewToolRegistry registers ts into a fresh registry.
func NewToolRegistry(cfg Config, ts *Toolset, logger *slog.Logger, obs metrics.Observer) (*tools.Registry, error) {
	reg := tools.NewRegistry(tools.Options{
		Timeout:  configutil.Millis(cfg.Tools.TimeoutMS, 0),
		Logger:   logger,
		Observer: obs,
	})
	if err := ts.Register(reg); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return reg, nil
}

// WrapLLM adds retries and a circuit breaker around a backend adapter.
func WrapLLM(base llm.LLMAdapter, cfg Config, obs metrics.Observer) llm.LLMAdapter {
	retry := llm.NewRetryAdapter(base, llm.RetryConfig{
		MaxAttempts: cfg.LLM.Retries + 1,
		BaseDelay:   configutil.Millis(cfg.LLM.RetryBackoffMS, 300*time.Millisecond),
		Jitter:      0.2,
	})
	breaker := resilience.NewCircuitBreaker(cfg.LLM.CircuitThreshold, configutil.Millis(cfg.LLM.CircuitCooldownMS, 30*time.Second))
	wrapped := llm.NewCircuitBreakerAdapter(retry, breaker)
	wrapped.SetObserver(obs)
	return wrapped
}

// New wires the assistant described by cfg.
func New(ctx context.Context, cfg Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Providers == nil {
		opts.Providers = DefaultProviderRegistry()
	}
	if opts.Clock == nil {
		opts.Clock = listener.SystemClock{}
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	app := &App{Config: cfg, Logger: logger, banner: opts.Banner}
	obs, closeObs, err := NewObserver(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.Observer = obs
	app.closers = append(app.closers, closeObs)
	purgeSpeechFiles(cfg, logging.NewComponentLogger(logger, "app"))

	fail := func(err error) (*App, error) {
		_ = app.Close()
		return nil, err
	}

	base, err := opts.Providers.BuildLLM(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("build llm: %w", err))
	}
	recognizer, err := opts.Providers.BuildSTT(ctx, cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("build stt: %w", err))
	}
	app.closers = append(app.closers, recognizer.Close)
	synth, err := opts.Providers.BuildTTS(ctx, cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("build tts: %w", err))
	}

	app.Mode = orchestrator.NewModeState(cfg.Turn.StartSilent, obs, logger)
	app.Toolset = NewToolset(cfg, app.Mode, logger, obs)
	app.Tools, err = NewToolRegistry(cfg, app.Toolset, logger, obs)
	if err != nil {
		return fail(err)
	}

	app.Session = conversation.NewSession(WrapLLM(base, cfg, obs), app.Tools, conversation.Config{
		SystemPrompt: cfg.Assistant.SystemPrompt,
		MaxToolCalls: cfg.Assistant.MaxToolCalls,
		ApologyText:  cfg.Assistant.ApologyText,
	}, conversation.Options{Logger: logger})

	player := opts.Player
	if player == nil {
		if providerKey(cfg.Vendors.TTS.Provider) == "mock" {
			player = mock.NewPlayer()
		} else {
			player = audio.NewCommandPlayer(cfg.Audio.PlayerCommand)
		}
	}

	app.Orchestrator, err = orchestrator.New(orchestrator.Config{
		AssistantName:       cfg.Assistant.Name,
		Greeting:            cfg.Assistant.Greeting,
		PollInterval:        configutil.Millis(cfg.Turn.PollIntervalMS, orchestrator.DefaultPollInterval),
		PlaybackPoll:        configutil.Millis(cfg.Turn.PlaybackPollMS, orchestrator.DefaultPlaybackPoll),
		AppendTimestamp:     cfg.Assistant.AppendTimestamp,
		PostSpeechPause:     cfg.Turn.PostSpeechPause,
		ListenWhileSpeaking: cfg.Turn.ListenWhileSpeaking,
	}, orchestrator.Deps{
		Session:     app.Session,
		Recognizer:  recognizer,
		Synthesizer: synth,
		Player:      player,
		Mailbox:     listener.NewMailbox(opts.Clock).WithNormalizer(listener.NewNormalizer(cfg.Assistant.TranscriptReplacements)),
		Echo:        listener.NewEchoWindow(configutil.Millis(cfg.Turn.EchoSuppressionMS, 0)),
		Gate:        listener.NewGate(cfg.Assistant.ActivationPhrases),
		Mode:        app.Mode,
		Console:     orchestrator.NewConsole(opts.In, opts.Out),
		Clock:       opts.Clock,
		Logger:      logger,
		Observer:    obs,
	})
	if err != nil {
		return fail(err)
	}

	logging.NewComponentLogger(logger, "app").Info("app_ready",
		"llm", base.Name(),
		"stt", recognizer.Name(),
		"tts", synth.Name(),
		"tools", len(app.Tools.Tools()),
		"silent", cfg.Turn.StartSilent,
	)
	return app, nil
}

// Run drives the orchestrator until ctx ends or the user quits, then drains
// it through the lifecycle runner.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopErr := make(chan error, 1)
	r := runner.NewLifecycleRunner(a.Orchestrator, runner.Hooks{
		OnStart: func(runCtx context.Context) {
			go func() {
				loopErr <- a.Orchestrator.Run(runCtx)
				cancel()
			}()
		},
	}, runner.Options{Timeout: drainTimeout, Banner: a.banner, Logger: a.Logger})

	err := r.Run(ctx)
	select {
	case lerr := <-loopErr:
		err = errors.Join(err, lerr)
	case <-time.After(drainTimeout):
	}
	return err
}

// Close releases the recognizer and flushes metrics.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
