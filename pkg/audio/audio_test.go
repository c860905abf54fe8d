package audio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestFFMPEGCaptureStartReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'pcm'\nsleep 2\n")
	session, err := NewFFMPEGCapture(script).Start(context.Background(), CaptureConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	buf := make([]byte, 8)
	n, readErr := session.Read(buf)
	if n <= 0 || !strings.Contains(string(buf[:n]), "pcm") {
		t.Fatalf("unexpected read n=%d err=%v data=%q", n, readErr, buf[:n])
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second stop must be a no-op: %v", err)
	}
}

func TestFFMPEGCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	_, err := NewFFMPEGCapture(script).Start(context.Background(), CaptureConfig{})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") || !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestCommandPlayerArgs(t *testing.T) {
	t.Parallel()

	p := NewCommandPlayer("")
	if p.command != "ffplay" || p.args[len(p.args)-1] != FilePlaceholder {
		t.Fatalf("unexpected default player %s %v", p.command, p.args)
	}
	p = NewCommandPlayer("mpv --really-quiet")
	if got := strings.Join(p.args, " "); got != "--really-quiet {file}" {
		t.Fatalf("unexpected args %q", got)
	}
	p = NewCommandPlayer("aplay -q {file}")
	if got := strings.Join(p.args, " "); got != "-q {file}" {
		t.Fatalf("unexpected args %q", got)
	}
}

func TestCommandPlayerBusyAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "play.sh", "#!/usr/bin/env bash\nsleep \"$1\"\n")
	p := NewCommandPlayer(script + " {file}")
	if p.Busy() {
		t.Fatalf("idle player must not be busy")
	}
	if err := p.Play(context.Background(), "5"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if !p.Busy() {
		t.Fatalf("expected busy while playing")
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.Busy() {
		t.Fatalf("expected idle after stop")
	}
}

func TestWaitReturnsWhenPlaybackEnds(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "play.sh", "#!/usr/bin/env bash\nsleep \"$1\"\n")
	p := NewCommandPlayer(script + " {file}")
	if err := p.Play(context.Background(), "0.1"); err != nil {
		t.Fatalf("play: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := Wait(ctx, p, 10*time.Millisecond); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
