package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Config configures how sandbox children are launched and what ceilings
// the Executor enforces on them.
type Config struct {
	// SandboxBinary is the path to the compiled shesha-sandbox executable
	// that hosts the goja interpreter (component A). Each Child execs
	// exactly this binary — never an arbitrary host command.
	SandboxBinary string

	// WorkDir is the child's working directory, also used as its TMPDIR.
	// Isolated per child so sandboxed code cannot see host scratch state.
	WorkDir string

	// ExecTimeout bounds a single `exec` command's wall clock.
	ExecTimeout time.Duration

	// MaxFrameBytes bounds a single frame's payload size in both directions.
	MaxFrameBytes int

	// MaxOutputChars bounds captured stdout per code block before truncation.
	MaxOutputChars int
}

// DefaultConfig returns the spec's documented ceilings: 5 minute exec
// wall-clock, 50 MiB frames, 20,000 character output capture.
func DefaultConfig() *Config {
	return &Config{
		WorkDir:        filepath.Join(os.TempDir(), "shesha-sandbox"),
		ExecTimeout:    5 * time.Minute,
		MaxFrameBytes:  MaxFrameBytes,
		MaxOutputChars: 20000,
	}
}

// Child wraps one isolated sandbox process: the exec.Cmd, its framed
// stdin/stdout pipes, and a mutex serializing requests (the wire
// protocol is strictly request/response per child).
type Child struct {
	cfg *Config
	cmd *exec.Cmd

	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu       sync.Mutex
	alive    bool
	workDir  string
	logger   *zap.Logger
}

// StartChild launches a fresh sandbox child process with no inherited
// network-related environment and a scratch work directory unique to
// this child, isolated via a new process group so a runaway child can
// be killed as a unit.
func StartChild(cfg *Config, logger *zap.Logger) (*Child, error) {
	workDir, err := os.MkdirTemp(cfg.WorkDir, "child-")
	if err != nil {
		return nil, fmt.Errorf("sandbox: create child work dir: %w", err)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: prepare child work dir: %w", err)
	}

	cmd := exec.Command(cfg.SandboxBinary)
	cmd.Dir = workDir
	cmd.Env = buildChildEnvironment(workDir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
	cmd.Stderr = os.Stderr // child diagnostics only; never document content

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: start child: %w", err)
	}

	c := &Child{
		cfg:     cfg,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		alive:   true,
		workDir: workDir,
		logger:  logger,
	}
	return c, nil
}

// buildChildEnvironment constructs a minimal environment for a sandbox
// child: no proxy variables, no inherited credentials, a scratch HOME
// and TMPDIR confined to the child's own work directory.
func buildChildEnvironment(workDir string) []string {
	return []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
	}
}

// Send writes one frame to the child's stdin.
func (c *Child) Send(msg Message) error {
	return WriteFrame(c.stdin, msg, c.cfg.MaxFrameBytes)
}

// Recv reads one frame from the child's stdout.
func (c *Child) Recv() (Message, error) {
	return ReadFrame(c.stdout, c.cfg.MaxFrameBytes)
}

// Call sends a request and waits for the single matching reply,
// bounding the wait by the given context. It does not handle
// subcall_request interleaving — callers that need to service nested
// sub-LLM callbacks during `exec` must drive Send/Recv directly (see
// Executor.RunExec).
func (c *Child) Call(ctx context.Context, req Message) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return Message{}, fmt.Errorf("sandbox: child is not alive")
	}

	if err := c.Send(req); err != nil {
		c.alive = false
		return Message{}, err
	}

	type result struct {
		msg Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := c.Recv()
		ch <- result{msg, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			c.alive = false
		}
		return r.msg, r.err
	case <-ctx.Done():
		c.alive = false
		return Message{}, ctx.Err()
	}
}

// Alive reports whether the child is still considered usable. Once an
// I/O or protocol error has occurred this latches false permanently —
// a suspect child is never reused, only destroyed.
func (c *Child) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// MarkDead flags the child unusable without killing it, for callers
// that have already decided to call Destroy.
func (c *Child) MarkDead() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}

// Destroy kills the child's process group and cleans up its scratch
// work directory. Safe to call multiple times.
func (c *Child) Destroy() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()

	if c.cmd.Process != nil {
		// Negative pid targets the whole process group created by Setpgid.
		_ = syscall.Kill(-c.cmd.Process.Pid, syscall.SIGKILL)
		_, _ = c.cmd.Process.Wait()
	}
	_ = c.stdin.Close()
	_ = c.stdout.Close()
	_ = os.RemoveAll(c.workDir)
}
