// Package proc is the process-execution boundary used by the connectivity
// probe and the best-effort helper commands. The Spawner interface exists so
// tests can substitute simulated processes for real ones.
package proc

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"
)

// Handle represents a spawned background process.
type Handle interface {
	// Poll reports whether the process has exited and, if so, its exit code.
	Poll() (exited bool, code int)

	// Kill terminates the process. Safe to call after exit.
	Kill() error

	// Wait blocks until the process exits.
	Wait() error

	// Stderr returns everything the process has written to its error
	// stream so far.
	Stderr() string
}

// Spawner starts background processes.
type Spawner interface {
	// Spawn starts name with args in dir. The extra environment entries
	// ("KEY=value") are appended to the inherited environment.
	Spawn(ctx context.Context, dir, name string, args []string, env []string) (Handle, error)
}

// ExecSpawner implements Spawner on top of os/exec.
type ExecSpawner struct{}

func (ExecSpawner) Spawn(ctx context.Context, dir, name string, args []string, env []string) (Handle, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	h := &execHandle{cmd: cmd}
	cmd.Stderr = &h.stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h.done = make(chan struct{})
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exited = true
		h.waitErr = err
		h.code = cmd.ProcessState.ExitCode()
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	stderr  lockedBuffer
	exited  bool
	code    int
	waitErr error
}

func (h *execHandle) Poll() (bool, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited, h.code
}

func (h *execHandle) Kill() error {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()

	if exited {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *execHandle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

func (h *execHandle) Stderr() string {
	return h.stderr.String()
}

// lockedBuffer guards concurrent writes from the process against reads from
// the poll loop.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Output runs name synchronously in dir and returns its standard output.
// Used for host-key discovery, where the output is appended to the
// known-hosts store by the caller.
func Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.Output()
}

// Run runs name synchronously in dir, discarding output. Used for
// best-effort commands such as dependency installation.
func Run(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.Run()
}
