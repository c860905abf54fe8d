package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/arturo/pkg/adapters/tts"
	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/resilience"
)

const (
	DefaultBaseURL      = "wss://api.elevenlabs.io"
	DefaultModelID      = "eleven_turbo_v2_5"
	DefaultOutputFormat = "mp3_44100_128"
	defaultTimeout      = 30 * time.Second
)

type Config struct {
	APIKey       string        `mapstructure:"api_key"`
	VoiceID      string        `mapstructure:"voice_id"`
	ModelID      string        `mapstructure:"model_id"`
	OutputFormat string        `mapstructure:"output_format"`
	BaseURL      string        `mapstructure:"base_url"`
	TempDir      string        `mapstructure:"temp_dir"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Synthesizer renders each answer over the stream-input websocket and
// writes the audio to a temporary file for the player.
type Synthesizer struct {
	cfg    Config
	dialer websocket.Dialer
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Synthesizer, error) {
	if cfg.APIKey == "" || cfg.VoiceID == "" {
		return nil, errors.New("missing elevenlabs config")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = DefaultOutputFormat
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Synthesizer{
		cfg:    cfg,
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		logger: logging.NewComponentLogger(logger, "elevenlabs_tts"),
	}, nil
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Speech, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Speech{}, errorsx.New(errorsx.ReasonTTSSynthesize, "empty text")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	audio, err := s.stream(ctx, text)
	if err != nil {
		return tts.Speech{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	if len(audio) == 0 {
		return tts.Speech{}, errorsx.New(errorsx.ReasonTTSSynthesize, "elevenlabs returned no audio")
	}

	f, err := os.CreateTemp(s.cfg.TempDir, "arturo-*."+s.extension())
	if err != nil {
		return tts.Speech{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return tts.Speech{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return tts.Speech{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	s.logger.Debug("tts_audio_written",
		slog.String("path", f.Name()),
		slog.Int("size_bytes", len(audio)))
	return tts.Speech{Path: f.Name(), Format: s.extension(), Bytes: len(audio)}, nil
}

func (s *Synthesizer) stream(ctx context.Context, text string) ([]byte, error) {
	u, err := s.buildURL()
	if err != nil {
		return nil, err
	}
	conn, resp, err := s.dialer.DialContext(ctx, u, http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		return nil, fmt.Errorf("connect elevenlabs: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}

	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        0.5,
				"similarity_boost": 0.8,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return nil, fmt.Errorf("send text: %w", err)
		}
	}

	var buf bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return buf.Bytes(), nil
			}
			return nil, fmt.Errorf("read audio: %w", err)
		}
		final, err := s.handleMessage(data, &buf)
		if err != nil {
			return nil, err
		}
		if final {
			return buf.Bytes(), nil
		}
	}
}

func (s *Synthesizer) handleMessage(data []byte, buf *bytes.Buffer) (bool, error) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("tts_unexpected_payload", slog.Int("size_bytes", len(data)))
		return false, nil
	}
	if msgErr, ok := msg["error"].(string); ok && msgErr != "" {
		return false, fmt.Errorf("elevenlabs: %s", msgErr)
	}
	for _, key := range []string{"audio", "audio_base_64", "audio_base64"} {
		encoded, ok := msg[key].(string)
		if !ok || encoded == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return false, fmt.Errorf("decode audio: %w", err)
		}
		buf.Write(raw)
		break
	}
	final, _ := msg["isFinal"].(bool)
	return final, nil
}

func (s *Synthesizer) buildURL() (string, error) {
	base, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base_url: %w", err)
	}
	base.Path += "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input"
	q := url.Values{}
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (s *Synthesizer) extension() string {
	switch {
	case strings.HasPrefix(s.cfg.OutputFormat, "pcm"):
		return "pcm"
	case strings.HasPrefix(s.cfg.OutputFormat, "ulaw"):
		return "ulaw"
	default:
		return "mp3"
	}
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
