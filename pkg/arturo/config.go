package arturo

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/arturo/pkg/configutil"
)

const DefaultSystemPrompt = `You are an AI assistant called Arturo. You help with 3D printing using a local slicer and OctoPrint through function tools.
Keep answers short and concise. The user talks through speech-to-text, so expect transcription mistakes.
You help with slicing settings, printability problems, G-code review, slicer parameter changes and filament properties.
Use fetch_local_url_content to read status pages or documentation hosted on the local network.
Ask clarifying questions when a request is ambiguous. After a model is sliced successfully, always ask whether the user wants to preview the G-code; if they accept, call view_gcode with the new file.
When the user asks to remember a preference, call set_preference.`

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Assistant     AssistantConfig     `mapstructure:"assistant"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Slicer        SlicerConfig        `mapstructure:"slicer"`
	OctoPrint     OctoPrintConfig     `mapstructure:"octoprint"`
	Preferences   PreferencesConfig   `mapstructure:"preferences"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type AssistantConfig struct {
	Name              string   `mapstructure:"name"`
	SystemPrompt      string   `mapstructure:"system_prompt"`
	Greeting          string   `mapstructure:"greeting"`
	ActivationPhrases []string `mapstructure:"activation_phrases"`
	AppendTimestamp   bool     `mapstructure:"append_timestamp"`
	MaxToolCalls      int      `mapstructure:"max_tool_calls"`
	ApologyText       string   `mapstructure:"apology_text"`
	// TranscriptReplacements fixes phrases the recognizer keeps mishearing.
	TranscriptReplacements map[string]string `mapstructure:"transcript_replacements"`
}

type TurnConfig struct {
	EchoSuppressionMS   int  `mapstructure:"echo_suppression_ms"`
	PollIntervalMS      int  `mapstructure:"poll_interval_ms"`
	PlaybackPollMS      int  `mapstructure:"playback_poll_ms"`
	StartSilent         bool `mapstructure:"start_silent"`
	PostSpeechPause     bool `mapstructure:"post_speech_pause"`
	ListenWhileSpeaking bool `mapstructure:"listen_while_speaking"`
}

type LLMConfig struct {
	Retries           int `mapstructure:"retries"`
	RetryBackoffMS    int `mapstructure:"retry_backoff_ms"`
	CircuitThreshold  int `mapstructure:"circuit_threshold"`
	CircuitCooldownMS int `mapstructure:"circuit_cooldown_ms"`
}

type ToolsConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"`
}

type AudioConfig struct {
	CaptureCommand string `mapstructure:"capture_command"`
	InputFormat    string `mapstructure:"input_format"`
	InputDevice    string `mapstructure:"input_device"`
	SampleRate     int    `mapstructure:"sample_rate"`
	PlayerCommand  string `mapstructure:"player_command"`
	// TempDir holds rendered speech files; empty means the OS temp dir.
	TempDir     string `mapstructure:"temp_dir"`
	RetentionMS int    `mapstructure:"retention_ms"`
}

type SlicerConfig struct {
	Executable       string   `mapstructure:"executable"`
	ViewerExecutable string   `mapstructure:"viewer_executable"`
	ModelDir         string   `mapstructure:"model_dir"`
	Extensions       []string `mapstructure:"extensions"`
	BedCenter        string   `mapstructure:"bed_center"`
	ExcerptChars     int      `mapstructure:"excerpt_chars"`
}

type OctoPrintConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
	Retries   int    `mapstructure:"retries"`
}

type PreferencesConfig struct {
	Path string `mapstructure:"path"`
}

type FetchConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"`
	MaxBytes  int `mapstructure:"max_bytes"`
}

type ObservabilityConfig struct {
	MetricsPath string `mapstructure:"metrics_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("assistant.name", "Arturo")
	v.SetDefault("assistant.system_prompt", DefaultSystemPrompt)
	v.SetDefault("assistant.greeting", "Hi, I'm Arturo. How can I help you?")
	v.SetDefault("assistant.activation_phrases", []string{"arturo", "artur"})
	v.SetDefault("assistant.append_timestamp", true)
	v.SetDefault("assistant.max_tool_calls", 8)
	v.SetDefault("assistant.apology_text", "")
	v.SetDefault("assistant.transcript_replacements", map[string]string{})
	v.SetDefault("turn.echo_suppression_ms", 500)
	v.SetDefault("turn.poll_interval_ms", 500)
	v.SetDefault("turn.playback_poll_ms", 100)
	v.SetDefault("turn.start_silent", false)
	v.SetDefault("turn.post_speech_pause", false)
	v.SetDefault("turn.listen_while_speaking", false)
	v.SetDefault("vendors.llm.provider", "gemini")
	v.SetDefault("vendors.stt.provider", "deepgram")
	v.SetDefault("vendors.tts.provider", "elevenlabs")
	v.SetDefault("llm.retries", 2)
	v.SetDefault("llm.retry_backoff_ms", 300)
	v.SetDefault("llm.circuit_threshold", 3)
	v.SetDefault("llm.circuit_cooldown_ms", 30000)
	v.SetDefault("tools.timeout_ms", 0)
	v.SetDefault("audio.capture_command", "ffmpeg")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.player_command", "ffplay -nodisp -autoexit -loglevel error {file}")
	v.SetDefault("audio.temp_dir", "")
	v.SetDefault("audio.retention_ms", 3600000)
	v.SetDefault("slicer.executable", "")
	v.SetDefault("slicer.viewer_executable", "")
	v.SetDefault("slicer.model_dir", "")
	v.SetDefault("slicer.extensions", []string{".stl", ".3mf", ".obj"})
	v.SetDefault("slicer.bed_center", "125,105")
	v.SetDefault("slicer.excerpt_chars", 100)
	v.SetDefault("octoprint.base_url", "")
	v.SetDefault("octoprint.api_key", "")
	v.SetDefault("octoprint.timeout_ms", 10000)
	v.SetDefault("octoprint.retries", 2)
	v.SetDefault("preferences.path", "preferences.json")
	v.SetDefault("fetch.timeout_ms", 10000)
	v.SetDefault("fetch.max_bytes", 64<<10)
	v.SetDefault("observability.metrics_path", "")
}

// LoadConfig reads path (any format viper understands), applies defaults,
// expands ${ENV} references and validates the result. An empty path loads
// defaults only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Vendors.LLM.Provider, "vendors.llm.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.STT.Provider, "vendors.stt.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.TTS.Provider, "vendors.tts.provider"); err != nil {
		return err
	}
	if c.Turn.PollIntervalMS <= 0 {
		return fmt.Errorf("turn.poll_interval_ms must be positive")
	}
	if c.Turn.PlaybackPollMS <= 0 {
		return fmt.Errorf("turn.playback_poll_ms must be positive")
	}
	if c.Turn.EchoSuppressionMS < 0 {
		return fmt.Errorf("turn.echo_suppression_ms must not be negative")
	}
	if c.Assistant.MaxToolCalls <= 0 {
		return fmt.Errorf("assistant.max_tool_calls must be positive")
	}
	if c.Tools.TimeoutMS < 0 {
		return fmt.Errorf("tools.timeout_ms must not be negative")
	}
	if c.Audio.RetentionMS < 0 {
		return fmt.Errorf("audio.retention_ms must not be negative")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = configutil.ExpandEnv(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = configutil.ExpandEnv(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = configutil.ExpandEnv(cfg.Vendors.LLM.Settings)
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
