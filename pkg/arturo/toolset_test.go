package arturo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/arturo/pkg/conversation"
	"github.com/harunnryd/arturo/pkg/llm"
	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/metrics"
	"github.com/harunnryd/arturo/pkg/orchestrator"
	"github.com/harunnryd/arturo/pkg/providers/mock"
	"github.com/harunnryd/arturo/pkg/slicer"
	"github.com/harunnryd/arturo/pkg/tools"
)

type scriptedRunner struct {
	mu      sync.Mutex
	results []slicer.RunResult
	calls   [][]string
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) (slicer.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	res := r.results[0]
	r.results = r.results[1:]
	return res, nil
}

type toolHarness struct {
	cfg      Config
	modelDir string
	mode     *orchestrator.ModeState
	toolset  *Toolset
	registry *tools.Registry
	obs      *metrics.MemoryObserver
}

func newToolHarness(t *testing.T, octoURL string) *toolHarness {
	t.Helper()
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Slicer.ModelDir = filepath.Join(dir, "models")
	require.NoError(t, os.MkdirAll(cfg.Slicer.ModelDir, 0o755))
	cfg.Preferences.Path = filepath.Join(dir, "preferences.json")
	cfg.OctoPrint.BaseURL = octoURL
	cfg.OctoPrint.APIKey = "octo-key"
	cfg.OctoPrint.Retries = 0

	obs := metrics.NewMemoryObserver()
	mode := orchestrator.NewModeState(false, obs, logging.Discard())
	ts := NewToolset(cfg, mode, logging.Discard(), obs)
	reg, err := NewToolRegistry(cfg, ts, logging.Discard(), obs)
	require.NoError(t, err)
	return &toolHarness{cfg: cfg, modelDir: cfg.Slicer.ModelDir, mode: mode, toolset: ts, registry: reg, obs: obs}
}

func (h *toolHarness) touch(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(h.modelDir, n), []byte("solid"), 0o644))
	}
}

func TestRegisterExposesEveryTool(t *testing.T) {
	h := newToolHarness(t, "")
	var names []string
	for _, tool := range h.registry.Tools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
		assert.Equal(t, "object", tool.Schema["type"], tool.Name)
	}
	assert.Equal(t, ToolNames, names)

	byName := map[string]llm.Tool{}
	for _, tool := range h.registry.Tools() {
		byName[tool.Name] = tool
	}
	assert.ElementsMatch(t, []any{"file_path"}, byName["slice_model"].Schema["required"])
	assert.ElementsMatch(t, []any{"key", "value"}, byName["set_preference"].Schema["required"])
	assert.ElementsMatch(t, []any{"file_path_on_octoprint", "slicer_name", "slicing_profile_key"},
		byName["octoprint_slice_model"].Schema["required"])
	assert.Nil(t, byName["octoprint_list_files"].Schema["required"])
}

func TestRegisterTwiceFails(t *testing.T) {
	h := newToolHarness(t, "")
	assert.Error(t, h.toolset.Register(h.registry))
}

func TestListFilesRoundTripThroughSession(t *testing.T) {
	h := newToolHarness(t, "")
	h.touch(t, "benchy.stl", "arm.3mf", "notes.txt")

	backend := mock.NewLLMAdapter(mock.LLMConfig{Steps: []mock.Step{
		mock.Call("list_stl_files", nil),
		mock.Text("You have two files. Which one should I slice?"),
	}})
	session := conversation.NewSession(backend, h.registry, conversation.Config{SystemPrompt: DefaultSystemPrompt}, conversation.Options{})

	answer := session.Ask(context.Background(), "list my files")
	assert.Equal(t, "You have two files. Which one should I slice?", answer)

	history := session.History()
	require.Len(t, history, 4)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.True(t, history[1].IsToolRequest())
	assert.Equal(t, llm.RoleTool, history[2].Role)
	assert.Equal(t, llm.RoleAssistant, history[3].Role)

	result := history[2].ToolResult.Content
	assert.Contains(t, result, "1. arm.3mf\n2. benchy.stl\n")
	assert.NotContains(t, result, "notes.txt")
	assert.True(t, strings.HasSuffix(result, "?"))
	assert.Equal(t, 1, h.obs.Count(metrics.EventToolInvoked))
}

func TestListFilesEmptyFolder(t *testing.T) {
	h := newToolHarness(t, "")
	out, err := h.registry.Invoke(context.Background(), "list_stl_files", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "no printable files")
}

func TestSetPreferenceIsIdempotent(t *testing.T) {
	h := newToolHarness(t, "")
	ctx := context.Background()
	args := map[string]any{"key": "default_material", "value": "PLA"}
	for i := 0; i < 2; i++ {
		out, err := h.registry.Invoke(ctx, "set_preference", args)
		require.NoError(t, err)
		assert.Equal(t, "Ok, I set default_material to PLA.", out)
	}

	data, err := os.ReadFile(h.cfg.Preferences.Path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, map[string]any{"default_material": "PLA"}, doc)
	assert.Equal(t, 1, strings.Count(string(data), "default_material"))
}

func TestSetPreferenceCoercesNumbersAndLoads(t *testing.T) {
	h := newToolHarness(t, "")
	ctx := context.Background()
	_, err := h.registry.Invoke(ctx, "set_preference", map[string]any{"key": "layer_height", "value": 0.2})
	require.NoError(t, err)
	_, err = h.registry.Invoke(ctx, "set_preference", map[string]any{"key": "infill", "value": "20"})
	require.NoError(t, err)

	out, err := h.registry.Invoke(ctx, "load_preferences", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"layer_height":0.2,"infill":20}`, out)
}

func TestSetPreferenceRequiresKey(t *testing.T) {
	h := newToolHarness(t, "")
	_, err := h.registry.Invoke(context.Background(), "set_preference", map[string]any{"key": " ", "value": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key is required")
}

func TestToggleSilentModeFlipsMode(t *testing.T) {
	h := newToolHarness(t, "")
	ctx := context.Background()

	out, err := h.registry.Invoke(ctx, "toggle_silent_mode", map[string]any{"state": true})
	require.NoError(t, err)
	assert.Equal(t, "Silent mode enabled.", out)
	assert.True(t, h.mode.Silent())

	out, err = h.registry.Invoke(ctx, "toggle_silent_mode", map[string]any{"state": "false"})
	require.NoError(t, err)
	assert.Equal(t, "Silent mode disabled.", out)
	assert.False(t, h.mode.Silent())
	assert.Equal(t, 2, h.obs.Count(metrics.EventModeChanged))
}

func TestSliceModelRecentersAndRemembersOutput(t *testing.T) {
	h := newToolHarness(t, "")
	h.touch(t, "benchy.stl")
	exe := filepath.Join(t.TempDir(), "prusa-slicer")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))

	runner := &scriptedRunner{results: []slicer.RunResult{
		{ExitCode: 1, Stderr: "Objects could not be sliced: no extrusions in the first layer"},
		{ExitCode: 0},
	}}
	h.toolset.Slicer = slicer.New(slicer.Config{
		Executable: exe,
		ModelDir:   h.modelDir,
		BedCenter:  h.cfg.Slicer.BedCenter,
	}, slicer.Options{Runner: runner, Observer: h.obs})

	out, err := h.registry.Invoke(context.Background(), "slice_model", map[string]any{"file_path": "1"})
	require.NoError(t, err)

	var res slicer.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, slicer.StatusSuccess, res.Status)
	assert.Contains(t, res.Message, "recenter")
	assert.Equal(t, filepath.Join(h.modelDir, "benchy.gcode"), res.OutputPath)
	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"--center", "125,105"}, runner.calls[1][len(runner.calls[1])-2:])
	assert.Equal(t, res.OutputPath, h.toolset.Slicer.LastGCode())
}

func TestSliceModelUnknownIndexIsAResult(t *testing.T) {
	h := newToolHarness(t, "")
	exe := filepath.Join(t.TempDir(), "prusa-slicer")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))
	h.toolset.Slicer = slicer.New(slicer.Config{Executable: exe, ModelDir: h.modelDir}, slicer.Options{Runner: &scriptedRunner{}})

	out, err := h.registry.Invoke(context.Background(), "slice_model", map[string]any{"file_path": "3"})
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"error"`)
	assert.Contains(t, out, "file not found")
}

func TestOctoPrintTools(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "octo-key", r.Header.Get("X-Api-Key"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/files/local":
			assert.Equal(t, "true", r.URL.Query().Get("recursive"))
			_, _ = w.Write([]byte(`{"files":[{"name":"parts","path":"parts","type":"folder","children":[{"name":"gear.stl","path":"parts/gear.stl","type":"model"}]},{"name":"cube.gcode","path":"cube.gcode","type":"machinecode"}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/slicing/cura/profiles":
			_, _ = w.Write([]byte(`{"fine":{"key":"fine","displayName":"Fine","default":false},"draft":{"key":"draft","default":true}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/job":
			_, _ = w.Write([]byte(`{"state":"Printing","job":{"file":{"name":"cube.gcode","path":"cube.gcode"}},"progress":{"completion":42.4,"printTimeLeft":600}}`))
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/files/local/"):
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mu.Lock()
			bodies = append(bodies, body)
			mu.Unlock()
			if body["command"] == "slice" {
				w.WriteHeader(http.StatusAccepted)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := newToolHarness(t, srv.URL)
	ctx := context.Background()

	out, err := h.registry.Invoke(ctx, "octoprint_list_files", nil)
	require.NoError(t, err)
	assert.Equal(t, "Files on OctoPrint (local):\n- parts/gear.stl (model)\n- cube.gcode (machinecode)", out)

	out, err = h.registry.Invoke(ctx, "octoprint_list_slicing_profiles", map[string]any{"slicer_name": "cura"})
	require.NoError(t, err)
	assert.Equal(t, "Slicing profiles for cura:\n- draft [default]\n- fine (Fine)", out)

	out, err = h.registry.Invoke(ctx, "octoprint_slice_model", map[string]any{
		"file_path_on_octoprint": "parts/gear.stl",
		"slicer_name":            "cura",
		"slicing_profile_key":    "fine",
		"print_after_slice":      true,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "gear.stl")
	assert.Contains(t, out, "print will start")

	out, err = h.registry.Invoke(ctx, "octoprint_start_print", map[string]any{"file_path_on_octoprint": "cube.gcode"})
	require.NoError(t, err)
	assert.Equal(t, "Printing cube.gcode.", out)

	out, err = h.registry.Invoke(ctx, "octoprint_job_status", nil)
	require.NoError(t, err)
	assert.Equal(t, "Printer state: Printing. File: cube.gcode. Progress: 42%. Time left: 10 min.", out)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Equal(t, "slice", bodies[0]["command"])
	assert.Equal(t, "_default", bodies[0]["printerProfile"])
	assert.Equal(t, true, bodies[0]["print"])
	assert.Equal(t, "select", bodies[1]["command"])
}

func TestOctoPrintToolsWithoutServer(t *testing.T) {
	h := newToolHarness(t, "")
	_, err := h.registry.Invoke(context.Background(), "octoprint_job_status", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestFetchLocalURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><h1>Printer</h1><p>Nozzle 210</p></body></html>`))
	}))
	defer srv.Close()

	h := newToolHarness(t, "")
	out, err := h.registry.Invoke(context.Background(), "fetch_local_url_content", map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Contains(t, out, "Printer")
	assert.Contains(t, out, "Nozzle 210")
}
