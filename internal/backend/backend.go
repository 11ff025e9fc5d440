// Package backend invokes external AI CLI tools as subprocesses.
//
// Each supported tool (claude, codex, copilot) implements Invoker with its
// own binary name and argument construction; they differ only in how the
// prompt is delivered (stdin vs argument) and how a model override is
// spelled. Failures carry a Kind so the orchestrator can distinguish a
// missing binary from a timeout or a non-zero exit without parsing error
// strings.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Request is the input contract shared by all backends.
type Request struct {
	Prompt  string
	WorkDir string // process working directory; empty leaves it unset
	Model   string // optional model override
}

// Result is a successful invocation's output.
type Result struct {
	Output   string
	Stderr   string
	Duration time.Duration
}

// Invoker runs one prompt against an external CLI tool.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
	Name() string
}

// Kind classifies an invocation failure.
type Kind string

const (
	KindNotInstalled Kind = "backend_not_installed"
	KindSpawn        Kind = "process_spawn_error"
	KindExit         Kind = "non_zero_exit"
	KindTimeout      Kind = "timeout"
)

// Error is a typed invocation failure.
type Error struct {
	Backend  string
	Kind     Kind
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotInstalled:
		return fmt.Sprintf("%s: binary not found in PATH", e.Backend)
	case KindExit:
		return fmt.Sprintf("%s exited with code %d: %s", e.Backend, e.ExitCode, strings.TrimSpace(e.Stderr))
	case KindTimeout:
		return fmt.Sprintf("%s: killed: %v", e.Backend, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Backend, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from an error chain. Unclassified
// errors report KindSpawn.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindSpawn
}

// New creates an invoker by backend name.
func New(name string) (Invoker, error) {
	switch name {
	case "claude":
		return &Claude{}, nil
	case "codex":
		return &Codex{}, nil
	case "copilot":
		return &Copilot{}, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", name)
	}
}

// Names lists the supported backend names.
func Names() []string {
	return []string{"claude", "codex", "copilot"}
}

// run spawns the backend binary and waits for it. stdin is fed to the
// process when non-empty. The context deadline kills the process; WaitDelay
// guarantees the child cannot outlive the kill.
func run(ctx context.Context, backend, binary string, args []string, stdin, workDir string) (Result, error) {
	if _, err := exec.LookPath(binary); err != nil {
		return Result{}, &Error{Backend: backend, Kind: KindNotInstalled, Err: err}
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = workDir
	cmd.WaitDelay = 5 * time.Second
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, &Error{Backend: backend, Kind: KindTimeout, Stderr: stderr.String(), Err: ctxErr}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, &Error{
				Backend:  backend,
				Kind:     KindExit,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
				Err:      err,
			}
		}
		return Result{}, &Error{Backend: backend, Kind: KindSpawn, Err: err}
	}

	return Result{
		Output:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}, nil
}
