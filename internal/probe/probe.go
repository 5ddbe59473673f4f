// Package probe verifies that the configured remote is reachable before any
// remote-mutating operation runs. The check is a bounded poll over a
// background "git ls-remote" process rather than a blocking call, so an
// unreachable host or an interactive credential prompt cannot hang the
// caller indefinitely.
package probe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pipelab/reposync/internal/logging"
	"github.com/pipelab/reposync/internal/proc"
)

// ErrTimeout is returned when the remote did not answer within the poll
// budget. The probe guarantees the background process has been terminated
// before this error is returned.
var ErrTimeout = errors.New("connecting to remote timed out")

// RemoteError is returned when the remote answered but rejected the
// handshake. Message carries the process's error stream.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

const defaultMessage = "Error connecting to remote, make sure your SSH key is set up properly."

const (
	defaultInterval = 500 * time.Millisecond
	defaultMaxPolls = 20
)

// Probe runs the reachability check for one named remote.
type Probe struct {
	spawner    proc.Spawner
	dir        string
	remoteName string
	log        *logging.Logger

	interval time.Duration
	maxPolls int
	env      []string
}

func New(spawner proc.Spawner, dir, remoteName string, log *logging.Logger) *Probe {
	return &Probe{
		spawner:    spawner,
		dir:        dir,
		remoteName: remoteName,
		log:        log,
		interval:   defaultInterval,
		maxPolls:   defaultMaxPolls,
	}
}

// WithBudget overrides the poll interval and count. Used in tests.
func (p *Probe) WithBudget(interval time.Duration, maxPolls int) *Probe {
	p.interval = interval
	p.maxPolls = maxPolls
	return p
}

// WithEnv sets extra environment entries for the spawned process, e.g. the
// SSH command override.
func (p *Probe) WithEnv(env []string) *Probe {
	p.env = env
	return p
}

// Check lists the remote's references in a background process and polls for
// its completion. It returns nil on a clean exit, a *RemoteError on a
// non-zero exit, and ErrTimeout if the poll budget is exhausted. The process
// never outlives the call.
func (p *Probe) Check(ctx context.Context) error {
	handle, err := p.spawner.Spawn(ctx, p.dir, "git", []string{"ls-remote", p.remoteName}, p.env)
	if err != nil {
		return err
	}

	exited := false
	code := 0
	for range p.maxPolls {
		if exited, code = handle.Poll(); exited {
			break
		}

		select {
		case <-time.After(p.interval):
		case <-ctx.Done():
			_ = handle.Kill()
			return ctx.Err()
		}
	}

	if !exited {
		// One final check: the process may have exited during the last
		// sleep window.
		if exited, code = handle.Poll(); !exited {
			p.log.Debugf("remote %q did not answer within %d polls, terminating probe", p.remoteName, p.maxPolls)
			_ = handle.Kill()
			return ErrTimeout
		}
	}

	if code != 0 {
		message := strings.TrimSpace(handle.Stderr())
		if message == "" {
			message = defaultMessage
		}
		return &RemoteError{Message: message}
	}

	return nil
}
