package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonLLMGenerate     ReasonCode = "llm_generate"
	ReasonLLMRateLimit    ReasonCode = "llm_rate_limit"
	ReasonLLMToolLoop     ReasonCode = "llm_tool_loop"
	ReasonLLMCircuitOpen  ReasonCode = "llm_circuit_open"
	ReasonLLMEmptyAnswer  ReasonCode = "llm_empty_answer"
	ReasonLLMProviderFmt  ReasonCode = "llm_provider_format"

	ReasonToolNotFound ReasonCode = "tool_not_found"
	ReasonToolArgs     ReasonCode = "tool_args"
	ReasonToolExec     ReasonCode = "tool_exec"

	ReasonSlicerConfig ReasonCode = "slicer_config"
	ReasonSlicerExec   ReasonCode = "slicer_exec"

	ReasonOctoPrintRequest ReasonCode = "octoprint_request"
	ReasonPreferenceStore  ReasonCode = "preference_store"
	ReasonFetch            ReasonCode = "fetch"

	ReasonSTTStart      ReasonCode = "stt_start"
	ReasonSTTReceive    ReasonCode = "stt_receive"
	ReasonTTSSynthesize ReasonCode = "tts_synthesize"
	ReasonPlayback      ReasonCode = "playback"
)
