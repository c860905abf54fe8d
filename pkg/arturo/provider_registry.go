package arturo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/arturo/pkg/adapters/stt"
	"github.com/harunnryd/arturo/pkg/adapters/tts"
	"github.com/harunnryd/arturo/pkg/audio"
	"github.com/harunnryd/arturo/pkg/configutil"
	"github.com/harunnryd/arturo/pkg/llm"
	"github.com/harunnryd/arturo/pkg/providers/deepgram"
	"github.com/harunnryd/arturo/pkg/providers/elevenlabs"
	"github.com/harunnryd/arturo/pkg/providers/gemini"
	"github.com/harunnryd/arturo/pkg/providers/mock"
	"github.com/harunnryd/arturo/pkg/providers/openai"
)

type STTFactory func(ctx context.Context, cfg Config, logger *slog.Logger) (stt.Recognizer, error)
type TTSFactory func(ctx context.Context, cfg Config, logger *slog.Logger) (tts.Synthesizer, error)
type LLMFactory func(ctx context.Context, cfg Config) (llm.LLMAdapter, error)

type ProviderRegistry struct {
	stt map[string]STTFactory
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactory),
		tts: make(map[string]TTSFactory),
		llm: make(map[string]LLMFactory),
	}
}

// DefaultProviderRegistry knows every built-in vendor.
func DefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterLLM("gemini", buildGemini)
	r.RegisterLLM("openai", buildOpenAI)
	r.RegisterLLM("mock", buildMockLLM)
	r.RegisterSTT("deepgram", buildDeepgram)
	r.RegisterSTT("mock", func(context.Context, Config, *slog.Logger) (stt.Recognizer, error) {
		return mock.NewRecognizer(), nil
	})
	r.RegisterTTS("elevenlabs", buildElevenLabs)
	r.RegisterTTS("mock", func(context.Context, Config, *slog.Logger) (tts.Synthesizer, error) {
		return mock.NewSynthesizer(), nil
	})
	return r
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[providerKey(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(ctx context.Context, cfg Config, logger *slog.Logger) (stt.Recognizer, error) {
	provider := cfg.Vendors.STT.Provider
	fn := r.stt[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(ctx, cfg, logger)
}

func (r *ProviderRegistry) BuildTTS(ctx context.Context, cfg Config, logger *slog.Logger) (tts.Synthesizer, error) {
	provider := cfg.Vendors.TTS.Provider
	fn := r.tts[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(ctx, cfg, logger)
}

func (r *ProviderRegistry) BuildLLM(ctx context.Context, cfg Config) (llm.LLMAdapter, error) {
	provider := cfg.Vendors.LLM.Provider
	fn := r.llm[providerKey(provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(ctx, cfg)
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func buildGemini(ctx context.Context, cfg Config) (llm.LLMAdapter, error) {
	var s gemini.Settings
	if err := configutil.Decode("gemini", cfg.Vendors.LLM.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "temperature"},
	}, &s); err != nil {
		return nil, err
	}
	return gemini.NewAdapter(ctx, s)
}

func buildOpenAI(_ context.Context, cfg Config) (llm.LLMAdapter, error) {
	var s openai.Settings
	if err := configutil.Decode("openai", cfg.Vendors.LLM.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "base_url", "temperature", "timeout"},
	}, &s); err != nil {
		return nil, err
	}
	if s.Timeout <= 0 {
		s.Timeout = 60 * time.Second
	}
	return openai.NewAdapter(s), nil
}

func buildMockLLM(_ context.Context, cfg Config) (llm.LLMAdapter, error) {
	var s struct {
		ResponseText string `mapstructure:"response_text"`
	}
	if err := configutil.Decode("mock", cfg.Vendors.LLM.Settings, configutil.Schema{
		Optional: []string{"response_text"},
	}, &s); err != nil {
		return nil, err
	}
	return mock.NewLLMAdapter(mock.LLMConfig{ResponseText: s.ResponseText}), nil
}

func buildDeepgram(_ context.Context, cfg Config, logger *slog.Logger) (stt.Recognizer, error) {
	var s deepgram.Config
	if err := configutil.Decode("deepgram", cfg.Vendors.STT.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "language", "sample_rate", "utterance_end_ms", "endpointing_ms"},
	}, &s); err != nil {
		return nil, err
	}
	if s.SampleRate == 0 {
		s.SampleRate = cfg.Audio.SampleRate
	}
	return deepgram.New(s, deepgram.Options{
		Capture: audio.NewFFMPEGCapture(cfg.Audio.CaptureCommand),
		CaptureConfig: audio.CaptureConfig{
			SampleRate:  s.SampleRate,
			Channels:    1,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Logger: logger,
	}), nil
}

func buildElevenLabs(_ context.Context, cfg Config, logger *slog.Logger) (tts.Synthesizer, error) {
	var s elevenlabs.Config
	if err := configutil.Decode("elevenlabs", cfg.Vendors.TTS.Settings, configutil.Schema{
		Required: []string{"api_key", "voice_id"},
		Optional: []string{"model_id", "output_format", "base_url", "temp_dir", "timeout"},
	}, &s); err != nil {
		return nil, err
	}
	if s.TempDir == "" {
		s.TempDir = cfg.Audio.TempDir
	}
	return elevenlabs.New(s, logger)
}
