package arturo

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/metrics"
)

func mockConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Vendors.LLM = VendorConfig{Provider: "mock", Settings: map[string]any{"response_text": "The nozzle is at 210 degrees."}}
	cfg.Vendors.STT = VendorConfig{Provider: "mock"}
	cfg.Vendors.TTS = VendorConfig{Provider: "MOCK"}
	cfg.Preferences.Path = filepath.Join(t.TempDir(), "preferences.json")
	cfg.Audio.TempDir = t.TempDir()
	cfg.Turn.PollIntervalMS = 1
	cfg.Turn.PlaybackPollMS = 1
	return cfg
}

func TestAppRunsSilentSessionUntilExit(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Turn.StartSilent = true
	cfg.Observability.MetricsPath = filepath.Join(t.TempDir(), "metrics.jsonl")

	var out bytes.Buffer
	app, err := New(context.Background(), cfg, Options{
		Logger: logging.Discard(),
		In:     strings.NewReader("how hot is the nozzle?\nexit\n"),
		Out:    &out,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Run(ctx))
	require.NoError(t, app.Close())

	text := out.String()
	assert.Contains(t, text, cfg.Assistant.Greeting)
	assert.Contains(t, text, "Arturo: The nozzle is at 210 degrees.")
	assert.Contains(t, text, "Leaving Arturo.")

	history := app.Session.History()
	require.Len(t, history, 2)
	assert.Equal(t, "how hot is the nozzle?", history[0].Text)

	data, err := os.ReadFile(cfg.Observability.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), metrics.EventTurnState)
	assert.Contains(t, string(data), metrics.EventAskLatency)
}

func TestNewPurgesStaleSpeechFiles(t *testing.T) {
	cfg := mockConfig(t)
	stale := filepath.Join(cfg.Audio.TempDir, "arturo-123.mp3")
	fresh := filepath.Join(cfg.Audio.TempDir, "arturo-456.mp3")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o600))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	app, err := New(context.Background(), cfg, Options{Logger: logging.Discard(), Out: &bytes.Buffer{}})
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestAppStopsWhenContextEnds(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Assistant.Greeting = ""

	var out bytes.Buffer
	app, err := New(context.Background(), cfg, Options{Logger: logging.Discard(), Out: &out})
	require.NoError(t, err)
	defer func() { _ = app.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, app.Run(ctx))
	assert.Contains(t, out.String(), "Leaving Arturo.")
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Vendors.LLM.Provider = "nope"
	_, err := New(context.Background(), cfg, Options{Logger: logging.Discard()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm provider not registered: nope")
}

func TestProviderRegistryDecodesVendorSettings(t *testing.T) {
	reg := DefaultProviderRegistry()
	ctx := context.Background()
	cfg := mockConfig(t)

	cfg.Vendors.LLM = VendorConfig{Provider: "gemini", Settings: map[string]any{"model": "gemini-2.0-flash"}}
	_, err := reg.BuildLLM(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing: api_key")

	cfg.Vendors.LLM = VendorConfig{Provider: "openai", Settings: map[string]any{"api_key": "k", "model": "gpt-4o-mini"}}
	adapter, err := reg.BuildLLM(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "openai", adapter.Name())

	cfg.Vendors.STT = VendorConfig{Provider: "Deepgram", Settings: map[string]any{"api_key": "dg", "language": "it"}}
	rec, err := reg.BuildSTT(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "deepgram", rec.Name())
	assert.False(t, rec.IsRecording())
	require.NoError(t, rec.Close())

	cfg.Vendors.TTS = VendorConfig{Provider: "elevenlabs", Settings: map[string]any{"api_key": "el"}}
	_, err = reg.BuildTTS(ctx, cfg, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing: voice_id")

	cfg.Vendors.TTS.Settings["voice_id"] = "v1"
	cfg.Vendors.TTS.Settings["colour"] = "red"
	_, err = reg.BuildTTS(ctx, cfg, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown: colour")
}

func TestWrapLLMKeepsBackendName(t *testing.T) {
	cfg := mockConfig(t)
	base, err := DefaultProviderRegistry().BuildLLM(context.Background(), cfg)
	require.NoError(t, err)
	wrapped := WrapLLM(base, cfg, metrics.NoopObserver{})
	assert.Equal(t, "mock_llm", wrapped.Name())
}
