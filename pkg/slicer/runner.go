package slicer

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// RunResult is the outcome of one external process run.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs an external program to completion. An error means the
// program could not be started or waited on; a nonzero exit is reported
// through RunResult.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (RunResult, error)
}

// Launcher starts a program without waiting for it.
type Launcher interface {
	Launch(name string, args ...string) error
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := RunResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, err
	}
	return res, nil
}

func (ExecRunner) Launch(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
