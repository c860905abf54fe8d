package slicer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/harunnryd/arturo/pkg/errorsx"
	"github.com/harunnryd/arturo/pkg/logging"
	"github.com/harunnryd/arturo/pkg/metrics"
	"github.com/harunnryd/arturo/pkg/redact"
)

// EmptyFirstLayer is the diagnostic printed by the slicer when the model
// sits outside the bed and nothing is extruded on layer one.
const EmptyFirstLayer = "no extrusions in the first layer"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	ErrFileNotFound        = errors.New("file not found")
	ErrSlicerNotConfigured = errors.New("slicer executable is not configured")
	ErrSlicerMissing       = errors.New("slicer executable not found")
	ErrModelDirMissing     = errors.New("model folder is not configured")
)

type Config struct {
	Executable       string
	ViewerExecutable string
	ModelDir         string
	Extensions       []string
	BedCenter        string
	ExcerptChars     int
}

func (c Config) withDefaults() Config {
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".stl", ".3mf", ".obj"}
	}
	exts := make([]string, 0, len(c.Extensions))
	for _, ext := range c.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	c.Extensions = exts
	if strings.TrimSpace(c.BedCenter) == "" {
		c.BedCenter = "125,105"
	}
	if c.ExcerptChars <= 0 {
		c.ExcerptChars = 100
	}
	return c
}

// Result is what the slice_model and view_gcode tools report back.
type Result struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	OutputPath string `json:"output_path,omitempty"`
}

// JSON renders the result as the tool's textual output.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"status":%q,"message":%q}`, r.Status, r.Message)
	}
	return string(b)
}

type Options struct {
	Runner   Runner
	Launcher Launcher
	Logger   *slog.Logger
	Observer metrics.Observer
}

// Service resolves model identifiers and drives the external slicer.
type Service struct {
	cfg      Config
	runner   Runner
	launcher Launcher
	log      *slog.Logger
	obs      metrics.Observer

	mu        sync.Mutex
	lastGCode string
}

func New(cfg Config, opts Options) *Service {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Launcher == nil {
		opts.Launcher = ExecRunner{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		runner:   opts.Runner,
		launcher: opts.Launcher,
		log:      logging.NewComponentLogger(log, "slicer"),
		obs:      opts.Observer,
	}
}

// ModelDir returns the configured default model folder.
func (s *Service) ModelDir() string { return s.cfg.ModelDir }

// ListModels returns the supported model files in the model folder, sorted
// by name. The 1-based position in this list is the file's index.
func (s *Service) ListModels() ([]string, error) {
	dir := strings.TrimSpace(s.cfg.ModelDir)
	if dir == "" {
		return nil, ErrModelDirMissing
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read model folder: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !s.supported(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range s.cfg.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

// Resolve maps an identifier to an existing model path: a positive integer
// is an index into ListModels, a relative path is joined to the model
// folder and an absolute path is used as is.
func (s *Service) Resolve(identifier string) (string, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrFileNotFound)
	}
	var path string
	if n, err := strconv.Atoi(id); err == nil {
		files, err := s.ListModels()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrFileNotFound, err)
		}
		if n < 1 || n > len(files) {
			return "", fmt.Errorf("%w: index %d is out of range (1-%d)", ErrFileNotFound, n, len(files))
		}
		path = filepath.Join(s.cfg.ModelDir, files[n-1])
	} else if filepath.IsAbs(id) {
		path = id
	} else {
		if strings.TrimSpace(s.cfg.ModelDir) == "" {
			return "", ErrModelDirMissing
		}
		path = filepath.Join(s.cfg.ModelDir, id)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return path, nil
}

// CheckExecutable reports configuration problems before any work is done.
func (s *Service) CheckExecutable() error {
	exe := strings.TrimSpace(s.cfg.Executable)
	if exe == "" {
		return errorsx.Wrap(ErrSlicerNotConfigured, errorsx.ReasonSlicerConfig)
	}
	if _, err := os.Stat(exe); err != nil {
		return errorsx.Errorf(errorsx.ReasonSlicerConfig, "%w: %s", ErrSlicerMissing, exe)
	}
	return nil
}

// Slice runs the slicer once and, only when the first layer came out
// empty, once more with the model recentred on the bed.
func (s *Service) Slice(ctx context.Context, identifier, outputPath string) Result {
	if err := s.CheckExecutable(); err != nil {
		s.log.Error("slicer_not_ready", "error", err)
		return errorResult(err.Error())
	}
	input, err := s.Resolve(identifier)
	if err != nil {
		s.log.Warn("slicer_input_unresolved", "identifier", redact.Text(identifier), "error", err)
		return errorResult(err.Error())
	}
	output := strings.TrimSpace(outputPath)
	if output == "" {
		output = DefaultOutput(input)
	}
	name := filepath.Base(input)

	args := []string{"-g", input, "-o", output}
	s.log.Info("slicer_started", "input", redact.Text(input), "output", redact.Text(output))
	first, err := s.runner.Run(ctx, s.cfg.Executable, args...)
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonSlicerExec)
		s.log.Error("slicer_exec_failed", "error", err)
		return errorResult(fmt.Sprintf("could not run the slicer: %v", err))
	}
	if first.ExitCode == 0 {
		s.remember(output)
		s.log.Info("slicer_succeeded", "output", redact.Text(output))
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("Sliced %s and saved the G-code.", name), OutputPath: output}
	}
	if !strings.Contains(first.Stderr, EmptyFirstLayer) {
		s.log.Error("slicer_failed", "exit_code", first.ExitCode, "stderr", first.Stderr)
		return errorResult(fmt.Sprintf("Slicing %s failed: %s", name, s.excerpt(first.Stderr)))
	}

	s.log.Warn("slicer_retry_centered", "center", s.cfg.BedCenter)
	metrics.Record(s.obs, metrics.EventSlicerRetry, 1, map[string]string{"center": s.cfg.BedCenter})
	second, err := s.runner.Run(ctx, s.cfg.Executable, append(args, "--center", s.cfg.BedCenter)...)
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonSlicerExec)
		s.log.Error("slicer_exec_failed", "error", err)
		return errorResult(fmt.Sprintf("could not run the slicer: %v", err))
	}
	if second.ExitCode == 0 {
		s.remember(output)
		s.log.Info("slicer_succeeded", "output", redact.Text(output), "recentered", true)
		return Result{
			Status:     StatusSuccess,
			Message:    fmt.Sprintf("Had to recenter the object on the bed, then sliced %s and saved the G-code.", name),
			OutputPath: output,
		}
	}
	s.log.Error("slicer_failed", "exit_code", second.ExitCode, "stderr", second.Stderr, "recentered", true)
	return errorResult(fmt.Sprintf("Recentered the object but slicing %s failed again: %s", name, s.excerpt(second.Stderr)))
}

// ViewGCode opens a G-code file in the configured viewer. An empty path
// opens the most recent slice output.
func (s *Service) ViewGCode(path string) Result {
	viewer := strings.TrimSpace(s.cfg.ViewerExecutable)
	if viewer == "" {
		return errorResult("G-code viewer is not configured")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = s.LastGCode()
		if path == "" {
			return errorResult("no G-code has been generated yet")
		}
	} else if !filepath.IsAbs(path) && s.cfg.ModelDir != "" {
		path = filepath.Join(s.cfg.ModelDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return errorResult(fmt.Sprintf("%v: %s", ErrFileNotFound, path))
	}
	if err := s.launcher.Launch(viewer, path); err != nil {
		s.log.Error("viewer_launch_failed", "error", err)
		return errorResult(fmt.Sprintf("could not open the viewer: %v", err))
	}
	return Result{Status: StatusSuccess, Message: fmt.Sprintf("Opened %s in the viewer.", filepath.Base(path)), OutputPath: path}
}

// LastGCode returns the output path of the last successful slice.
func (s *Service) LastGCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGCode
}

func (s *Service) remember(path string) {
	s.mu.Lock()
	s.lastGCode = path
	s.mu.Unlock()
}

func (s *Service) excerpt(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	r := []rune(stderr)
	if len(r) <= s.cfg.ExcerptChars {
		return stderr
	}
	return string(r[:s.cfg.ExcerptChars]) + "..."
}

// DefaultOutput places the G-code next to the model with a .gcode suffix.
func DefaultOutput(input string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(filepath.Dir(input), base+".gcode")
}

func errorResult(msg string) Result {
	return Result{Status: StatusError, Message: msg}
}
