package deepgram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/harunnryd/arturo/pkg/adapters/stt"
	"github.com/harunnryd/arturo/pkg/audio"
	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/redact"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
	Endpointing    int    `mapstructure:"endpointing_ms"`
}

// Conn is the live transcription connection, satisfied by
// *client.WSCallback.
type Conn interface {
	Connect() bool
	Stream(r io.Reader) error
	Stop()
}

// DialFunc opens a live connection that reports events to cb.
type DialFunc func(ctx context.Context, cfg Config, cb msginterfaces.LiveMessageCallback) (Conn, error)

type Options struct {
	Capture       audio.Capture
	CaptureConfig audio.CaptureConfig
	Dial          DialFunc
	Logger        *slog.Logger
}

// Recognizer streams microphone audio to Deepgram and emits finalized
// utterances. Every Start opens a fresh capture session and connection.
type Recognizer struct {
	cfg        Config
	capture    audio.Capture
	captureCfg audio.CaptureConfig
	dial       DialFunc
	logger     *slog.Logger

	mu        sync.Mutex
	session   audio.Session
	conn      Conn
	cancel    context.CancelFunc
	recording bool
	partial   []string
	closed    bool

	utterances chan string
	done       chan struct{}
}

func New(cfg Config, opts Options) *Recognizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.UtteranceEndMS == 0 {
		cfg.UtteranceEndMS = 1000
	}
	if opts.Capture == nil {
		opts.Capture = audio.NewFFMPEGCapture("")
	}
	if opts.Dial == nil {
		opts.Dial = dialDeepgram
	}
	opts.CaptureConfig.SampleRate = cfg.SampleRate
	return &Recognizer{
		cfg:        cfg,
		capture:    opts.Capture,
		captureCfg: opts.CaptureConfig,
		dial:       opts.Dial,
		logger:     logging.NewComponentLogger(opts.Logger, "deepgram_stt"),
		utterances: make(chan string, 16),
		done:       make(chan struct{}),
	}
}

func dialDeepgram(ctx context.Context, cfg Config, cb msginterfaces.LiveMessageCallback) (Conn, error) {
	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          cfg.Model,
		Language:       cfg.Language,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     cfg.SampleRate,
		InterimResults: true,
		VadEvents:      true,
		SmartFormat:    true,
		Punctuate:      true,
	}
	if cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", cfg.UtteranceEndMS)
	}
	if cfg.Endpointing > 0 {
		transcriptOptions.Endpointing = fmt.Sprintf("%d", cfg.Endpointing)
	}
	return client.NewWSUsingCallback(ctx, cfg.APIKey, clientOptions, transcriptOptions, cb)
}

func (r *Recognizer) Name() string { return "deepgram" }

func (r *Recognizer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return stt.ErrClosed
	}
	if r.recording {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	conn, err := r.dial(runCtx, r.cfg, &callback{parent: r})
	if err != nil {
		cancel()
		return errorsx.Errorf(errorsx.ReasonSTTStart, "deepgram client: %w", err)
	}
	if !conn.Connect() {
		cancel()
		return errorsx.New(errorsx.ReasonSTTStart, "deepgram connection failed")
	}
	session, err := r.capture.Start(runCtx, r.captureCfg)
	if err != nil {
		conn.Stop()
		cancel()
		return errorsx.Wrap(err, errorsx.ReasonSTTStart)
	}

	r.conn = conn
	r.session = session
	r.cancel = cancel
	r.recording = true
	r.partial = nil

	go func() {
		if err := conn.Stream(session); err != nil && runCtx.Err() == nil {
			r.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		}
	}()

	r.logger.Info("recording_started",
		slog.String("model", r.cfg.Model),
		slog.Int("sample_rate", r.cfg.SampleRate))
	return nil
}

func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *Recognizer) stopLocked() error {
	if !r.recording {
		return nil
	}
	r.recording = false
	r.partial = nil
	var err error
	if r.session != nil {
		err = r.session.Stop()
		r.session = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.conn != nil {
		r.conn.Stop()
		r.conn = nil
	}
	r.logger.Info("recording_stopped")
	return err
}

func (r *Recognizer) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Recognizer) NextUtterance(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.done:
		return "", stt.ErrClosed
	case text := <-r.utterances:
		return text, nil
	}
}

func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	err := r.stopLocked()
	r.closed = true
	close(r.done)
	return err
}

// addFinal buffers a finalized segment. When endOfSpeech is set the
// buffered segments are emitted as one utterance.
func (r *Recognizer) addFinal(text string, endOfSpeech bool) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	if text = strings.TrimSpace(text); text != "" {
		r.partial = append(r.partial, text)
	}
	if !endOfSpeech {
		r.mu.Unlock()
		return
	}
	utterance := strings.Join(r.partial, " ")
	r.partial = nil
	r.mu.Unlock()
	r.emit(utterance)
}

func (r *Recognizer) flush() {
	r.addFinal("", true)
}

func (r *Recognizer) emit(text string) {
	if text == "" {
		return
	}
	r.logger.Debug("utterance_final", slog.String("transcript", redact.Text(text)))
	select {
	case r.utterances <- text:
	default:
		r.logger.Warn("deepgram_utterance_dropped", slog.String("reason", "channel_full"))
	}
}

// --- Callback Implementation ---

type callback struct {
	parent *Recognizer
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	if !mr.IsFinal {
		return nil
	}
	c.parent.addFinal(mr.Channel.Alternatives[0].Transcript, mr.SpeechFinal)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.parent.logger.Debug("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.flush()
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.Int("size_bytes", len(byData)))
	return nil
}

var _ stt.Recognizer = (*Recognizer)(nil)
