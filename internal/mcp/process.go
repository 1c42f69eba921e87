package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"briefer/internal/async"
	"briefer/internal/logging"
)

// ProcessConfig describes how to launch an MCP server subprocess.
type ProcessConfig struct {
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args"`
	Env     map[string]string `mapstructure:"env" yaml:"env"`
}

// ProcessManager owns one MCP server subprocess: its pipes, its lifetime,
// and stderr draining.
type ProcessManager struct {
	command string
	args    []string
	env     []string
	logger  logging.Logger

	mu       sync.Mutex
	process  *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   io.ReadCloser
	running  bool
	waitDone chan error
}

// NewProcessManager creates a process manager from config.
func NewProcessManager(cfg ProcessConfig) *ProcessManager {
	pm := &ProcessManager{
		command: cfg.Command,
		args:    cfg.Args,
		logger:  logging.NewComponentLogger(fmt.Sprintf("MCPProcess[%s]", cfg.Command)),
	}
	for k, v := range cfg.Env {
		pm.env = append(pm.env, fmt.Sprintf("%s=%s", k, v))
	}
	return pm
}

// Start spawns the server process and wires its pipes.
func (pm *ProcessManager) Start(ctx context.Context) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.running {
		return fmt.Errorf("process already running")
	}

	trimmed := strings.TrimSpace(pm.command)
	if trimmed == "" {
		return fmt.Errorf("command is required")
	}
	resolved, err := exec.LookPath(trimmed)
	if err != nil {
		return fmt.Errorf("command not found: %w", err)
	}

	pm.logger.Info("Starting MCP server: %s %v", pm.command, pm.args)

	// The process outlives the caller's ctx; Stop owns its lifetime.
	cmd := exec.Command(resolved, pm.args...)
	if len(pm.env) > 0 {
		cmd.Env = pm.env
	}

	if pm.stdin, err = cmd.StdinPipe(); err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if pm.stdout, err = cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if pm.stderr, err = cmd.StderrPipe(); err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	pm.process = cmd
	pm.running = true
	pm.waitDone = make(chan error, 1)
	pm.logger.Info("MCP server started with PID %d", cmd.Process.Pid)

	async.Go(pm.logger, "mcp.drainStderr", pm.drainStderr)
	async.Go(pm.logger, "mcp.monitorExit", pm.monitorExit)

	return nil
}

// Stop closes stdin to request a graceful exit, then kills after timeout.
func (pm *ProcessManager) Stop(timeout time.Duration) error {
	pm.mu.Lock()
	if !pm.running {
		pm.mu.Unlock()
		return nil
	}
	pm.running = false
	process := pm.process
	stdin := pm.stdin
	waitDone := pm.waitDone
	pm.mu.Unlock()

	pm.logger.Info("Stopping MCP server (timeout %v)", timeout)
	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case err := <-waitDone:
		pm.logger.Info("Process exited: %v", err)
		return nil
	case <-time.After(timeout):
		pm.logger.Warn("Graceful shutdown timed out, killing process")
		if process != nil && process.Process != nil {
			if err := process.Process.Kill(); err != nil {
				return fmt.Errorf("kill process: %w", err)
			}
		}
		return nil
	}
}

// IsRunning reports whether the subprocess is alive.
func (pm *ProcessManager) IsRunning() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.running
}

// Write sends one framed message to the server's stdin.
func (pm *ProcessManager) Write(data []byte) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if !pm.running || pm.stdin == nil {
		return fmt.Errorf("process not running")
	}
	n, err := pm.stdin.Write(data)
	if err != nil {
		return fmt.Errorf("write to stdin: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(data))
	}
	return nil
}

// Stdout exposes the server's stdout stream for the read loop.
func (pm *ProcessManager) Stdout() io.Reader {
	return pm.stdout
}

func (pm *ProcessManager) drainStderr() {
	if pm.stderr == nil {
		return
	}
	scanner := bufio.NewScanner(pm.stderr)
	for scanner.Scan() {
		pm.logger.Debug("[stderr] %s", scanner.Text())
	}
}

func (pm *ProcessManager) monitorExit() {
	if pm.process == nil {
		return
	}
	err := pm.process.Wait()

	select {
	case pm.waitDone <- err:
	default:
	}

	pm.mu.Lock()
	wasRunning := pm.running
	pm.running = false
	pm.mu.Unlock()

	if wasRunning {
		pm.logger.Error("Process exited unexpectedly: %v", err)
	}
}
