package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/athena-dhcpd/dhcp-callout/internal/metrics"
)

// DefaultScriptTimeout bounds a script that has no timeout of its own.
const DefaultScriptTimeout = 30 * time.Second

// ScriptResult is the captured output of one script run.
type ScriptResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ExecScript runs command through /bin/sh with env added to the process
// environment and stdin fed from the given bytes. This is the only use of
// os/exec in the project; notification hooks and script policies both go
// through it.
func ExecScript(ctx context.Context, command string, env map[string]string, stdin []byte) (ScriptResult, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	// Children of the shell can hold the output pipes past the kill.
	cmd.WaitDelay = time.Second

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := ScriptResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		metrics.ScriptExecutions.WithLabelValues("error").Inc()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("script timed out after %s: %w", res.Duration.Round(time.Millisecond), ctx.Err())
		}
		return res, fmt.Errorf("running script: %w", err)
	}
	metrics.ScriptExecutions.WithLabelValues("success").Inc()
	return res, nil
}

// ScriptConfig describes a single notification script binding.
type ScriptConfig struct {
	Name    string
	Events  []string
	Command string
	Timeout time.Duration
}

// ScriptRunner executes notification scripts in a bounded goroutine pool.
type ScriptRunner struct {
	logger *slog.Logger
	sem    chan struct{}
	wg     sync.WaitGroup
}

// NewScriptRunner creates a new script runner with the given concurrency limit.
func NewScriptRunner(concurrency int, logger *slog.Logger) *ScriptRunner {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &ScriptRunner{
		logger: logger,
		sem:    make(chan struct{}, concurrency),
	}
}

// Run executes a script for the given event in the background. The script
// receives the event as CALLOUT_* environment variables and as JSON on stdin.
func (r *ScriptRunner) Run(cfg ScriptConfig, evt Event) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		default:
			r.logger.Warn("script hook pool full, dropping execution",
				"hook_name", cfg.Name,
				"event", string(evt.Type))
			return
		}

		r.execute(cfg, evt)
	}()
}

func (r *ScriptRunner) execute(cfg ScriptConfig, evt Event) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stdin, err := json.Marshal(evt)
	if err != nil {
		r.logger.Error("failed to marshal event for script stdin",
			"hook_name", cfg.Name,
			"error", err)
		return
	}
	env := evt.ToEnvVars()
	env["CALLOUT_HOOK_NAME"] = cfg.Name

	res, err := ExecScript(ctx, cfg.Command, env, stdin)
	if err != nil {
		r.logger.Error("script hook failed",
			"hook_name", cfg.Name,
			"command", cfg.Command,
			"error", err,
			"stderr", string(res.Stderr),
			"event", string(evt.Type))
		return
	}

	r.logger.Debug("script hook completed",
		"hook_name", cfg.Name,
		"duration", res.Duration.String(),
		"event", string(evt.Type),
		"exit_code", res.ExitCode)
}

// Wait blocks until all running scripts complete.
func (r *ScriptRunner) Wait() {
	r.wg.Wait()
}
