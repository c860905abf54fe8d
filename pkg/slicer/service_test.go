package slicer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harunnryd/arturo/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	results []RunResult
	err     error
	calls   [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (RunResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return RunResult{}, f.err
	}
	if len(f.results) == 0 {
		return RunResult{}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

type fakeLauncher struct {
	launched []string
}

func (f *fakeLauncher) Launch(name string, args ...string) error {
	f.launched = append(f.launched, strings.Join(append([]string{name}, args...), " "))
	return nil
}

type fixture struct {
	svc      *Service
	runner   *fakeRunner
	launcher *fakeLauncher
	dir      string
	exe      string
	obs      *metrics.MemoryObserver
}

func newFixture(t *testing.T, results ...RunResult) fixture {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(t.TempDir(), "prusa-slicer")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))
	for _, name := range []string{"cube.stl", "benchy.3MF", "notes.txt", "arm.obj"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("solid"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.stl"), 0o755))
	runner := &fakeRunner{results: results}
	launcher := &fakeLauncher{}
	obs := metrics.NewMemoryObserver()
	svc := New(Config{Executable: exe, ViewerExecutable: "gcode-viewer", ModelDir: dir}, Options{Runner: runner, Launcher: launcher, Observer: obs})
	return fixture{svc: svc, runner: runner, launcher: launcher, dir: dir, exe: exe, obs: obs}
}

func TestListModelsSortedAndFiltered(t *testing.T) {
	f := newFixture(t)
	files, err := f.svc.ListModels()
	require.NoError(t, err)
	assert.Equal(t, []string{"arm.obj", "benchy.3MF", "cube.stl"}, files)
}

func TestNewLeavesCallerExtensionsUntouched(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gear.STL"), []byte("solid"), 0o644))
	exts := []string{" STL", "3mf"}

	svc := New(Config{ModelDir: dir, Extensions: exts}, Options{})
	files, err := svc.ListModels()
	require.NoError(t, err)
	assert.Equal(t, []string{"gear.STL"}, files)
	assert.Equal(t, []string{" STL", "3mf"}, exts)
}

func TestResolve(t *testing.T) {
	f := newFixture(t)

	path, err := f.svc.Resolve("3")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.dir, "cube.stl"), path)

	path, err = f.svc.Resolve("arm.obj")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.dir, "arm.obj"), path)

	abs := filepath.Join(f.dir, "benchy.3MF")
	path, err = f.svc.Resolve(abs)
	require.NoError(t, err)
	assert.Equal(t, abs, path)

	for _, id := range []string{"0", "4", "-1", "missing.stl", ""} {
		_, err := f.svc.Resolve(id)
		assert.ErrorIs(t, err, ErrFileNotFound, id)
	}
}

func TestSliceNonexistentNeverRunsSlicer(t *testing.T) {
	f := newFixture(t)
	res := f.svc.Slice(context.Background(), "nonexistent.stl", "")
	assert.Equal(t, StatusError, res.Status)
	assert.Empty(t, f.runner.calls)
}

func TestSliceSuccessFirstAttempt(t *testing.T) {
	f := newFixture(t, RunResult{ExitCode: 0})
	res := f.svc.Slice(context.Background(), "cube.stl", "")
	require.Equal(t, StatusSuccess, res.Status)
	want := filepath.Join(f.dir, "cube.gcode")
	assert.Equal(t, want, res.OutputPath)
	require.Len(t, f.runner.calls, 1)
	assert.Equal(t, []string{f.exe, "-g", filepath.Join(f.dir, "cube.stl"), "-o", want}, f.runner.calls[0])
	assert.Equal(t, want, f.svc.LastGCode())
}

func TestSliceEmptyFirstLayerRetriesCenteredOnce(t *testing.T) {
	f := newFixture(t,
		RunResult{ExitCode: 1, Stderr: "Error: no extrusions in the first layer"},
		RunResult{ExitCode: 0},
	)
	res := f.svc.Slice(context.Background(), "1", "/tmp/out.gcode")
	require.Equal(t, StatusSuccess, res.Status)
	assert.Contains(t, res.Message, "recenter")
	require.Len(t, f.runner.calls, 2)
	assert.Equal(t, []string{"--center", "125,105"}, f.runner.calls[1][5:])
	assert.NotContains(t, f.runner.calls[0], "--center")
	assert.Equal(t, 1, f.obs.Count(metrics.EventSlicerRetry))
}

func TestSliceEmptyFirstLayerRetryFails(t *testing.T) {
	f := newFixture(t,
		RunResult{ExitCode: 1, Stderr: "no extrusions in the first layer"},
		RunResult{ExitCode: 2, Stderr: "still broken"},
	)
	res := f.svc.Slice(context.Background(), "cube.stl", "")
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "still broken")
	assert.Len(t, f.runner.calls, 2)
	assert.Empty(t, f.svc.LastGCode())
}

func TestSliceOtherFailureSingleAttemptWithExcerpt(t *testing.T) {
	long := "Objects could not fit on the bed " + strings.Repeat("x", 200)
	f := newFixture(t, RunResult{ExitCode: 1, Stderr: long})
	res := f.svc.Slice(context.Background(), "cube.stl", "")
	assert.Equal(t, StatusError, res.Status)
	assert.Len(t, f.runner.calls, 1)
	assert.Contains(t, res.Message, long[:100]+"...")
	assert.NotContains(t, res.Message, long[:101])
}

func TestSliceFailureSignatureOnlyInStderr(t *testing.T) {
	f := newFixture(t, RunResult{ExitCode: 1, Stdout: "no extrusions in the first layer", Stderr: "other"})
	res := f.svc.Slice(context.Background(), "cube.stl", "")
	assert.Equal(t, StatusError, res.Status)
	assert.Len(t, f.runner.calls, 1)
}

func TestSliceConfigurationErrors(t *testing.T) {
	runner := &fakeRunner{}
	svc := New(Config{ModelDir: t.TempDir()}, Options{Runner: runner})
	res := svc.Slice(context.Background(), "cube.stl", "")
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "not configured")

	svc = New(Config{Executable: "/nope/prusa-slicer", ModelDir: t.TempDir()}, Options{Runner: runner})
	res = svc.Slice(context.Background(), "cube.stl", "")
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "not found")
	assert.Empty(t, runner.calls)
}

func TestSliceRunnerStartFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.err = errors.New("exec format error")
	res := f.svc.Slice(context.Background(), "cube.stl", "")
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "exec format error")
}

func TestViewGCodeDefaultsToLastSlice(t *testing.T) {
	f := newFixture(t, RunResult{ExitCode: 0})
	res := f.svc.ViewGCode("")
	assert.Equal(t, StatusError, res.Status)

	f.svc.Slice(context.Background(), "cube.stl", "")
	out := filepath.Join(f.dir, "cube.gcode")
	require.NoError(t, os.WriteFile(out, []byte("G1"), 0o644))

	res = f.svc.ViewGCode("")
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []string{"gcode-viewer " + out}, f.launcher.launched)

	res = f.svc.ViewGCode("cube.gcode")
	require.Equal(t, StatusSuccess, res.Status)
	assert.Len(t, f.launcher.launched, 2)
}

func TestResultJSON(t *testing.T) {
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(Result{Status: StatusSuccess, Message: "ok", OutputPath: "/a.gcode"}.JSON()), &got))
	assert.Equal(t, "/a.gcode", got["output_path"])
	require.NoError(t, json.Unmarshal([]byte(Result{Status: StatusError, Message: "bad"}.JSON()), &got))
}

func TestDefaultOutput(t *testing.T) {
	assert.Equal(t, filepath.Join("/models", "part.v2.gcode"), DefaultOutput("/models/part.v2.stl"))
}
