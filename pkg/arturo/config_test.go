package arturo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "Arturo", cfg.Assistant.Name)
	assert.Equal(t, DefaultSystemPrompt, cfg.Assistant.SystemPrompt)
	assert.Contains(t, cfg.Assistant.ActivationPhrases, "arturo")
	assert.Equal(t, 8, cfg.Assistant.MaxToolCalls)
	assert.Equal(t, "gemini", cfg.Vendors.LLM.Provider)
	assert.Equal(t, "deepgram", cfg.Vendors.STT.Provider)
	assert.Equal(t, "elevenlabs", cfg.Vendors.TTS.Provider)
	assert.Equal(t, 500, cfg.Turn.PollIntervalMS)
	assert.Equal(t, "125,105", cfg.Slicer.BedCenter)
	assert.Equal(t, []string{".stl", ".3mf", ".obj"}, cfg.Slicer.Extensions)
	assert.True(t, cfg.Privacy.RedactPII)
	assert.False(t, cfg.Turn.StartSilent)
	assert.Equal(t, 3600000, cfg.Audio.RetentionMS)
	assert.Empty(t, cfg.Assistant.TranscriptReplacements)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	t.Setenv("ARTURO_TEST_GEMINI_KEY", "g-secret")
	t.Setenv("ARTURO_TEST_MODELS", "/srv/models")
	path := writeConfig(t, `
log_level: debug
assistant:
  name: Vez
  activation_phrases: ["vez", "hey vez"]
  transcript_replacements:
    "pla plus": PLA+
turn:
  start_silent: true
  listen_while_speaking: true
vendors:
  llm:
    provider: gemini
    settings:
      api_key: ${ARTURO_TEST_GEMINI_KEY}
      model: gemini-2.0-flash
slicer:
  model_dir: ${ARTURO_TEST_MODELS}
tools:
  timeout_ms: 2500
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "Vez", cfg.Assistant.Name)
	assert.Equal(t, []string{"vez", "hey vez"}, cfg.Assistant.ActivationPhrases)
	assert.True(t, cfg.Turn.StartSilent)
	assert.True(t, cfg.Turn.ListenWhileSpeaking)
	assert.Equal(t, "g-secret", cfg.Vendors.LLM.Settings["api_key"])
	assert.Equal(t, "/srv/models", cfg.Slicer.ModelDir)
	assert.Equal(t, 2500, cfg.Tools.TimeoutMS)
	assert.Equal(t, map[string]string{"pla plus": "PLA+"}, cfg.Assistant.TranscriptReplacements)
	// untouched keys keep their defaults
	assert.Equal(t, "deepgram", cfg.Vendors.STT.Provider)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"poll interval": "turn:\n  poll_interval_ms: 0\n",
		"provider":      "vendors:\n  stt:\n    provider: \"\"\n",
		"tool calls":    "assistant:\n  max_tool_calls: -1\n",
		"tool timeout":  "tools:\n  timeout_ms: -5\n",
		"retention":     "audio:\n  retention_ms: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validate config")
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
