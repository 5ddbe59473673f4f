package gitsync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/pipelab/reposync/internal/config"
	"github.com/pipelab/reposync/internal/metrics"
	"github.com/pipelab/reposync/internal/probe"
	"github.com/pipelab/reposync/internal/proc"
)

// withRemote is the precondition wrapped around every remote-mutating
// operation: it provisions credentials, verifies the remote is reachable
// within the probe's poll budget, and only then runs op. On SSH, a probe
// timeout triggers one host-trust recovery attempt (key scan plus a single
// re-probe) before the failure is surfaced. The SSH command override is
// passed per-process to the probe, never installed into the orchestrator's
// own environment.
func (s *Synchronizer) withRemote(ctx context.Context, op func(ctx context.Context, auth transport.AuthMethod) error) error {
	if s.cfg.AuthType == config.AuthTypeSSH {
		return s.withSSHRemote(ctx, op)
	}

	if err := s.newProbe(nil).Check(ctx); err != nil {
		if errors.Is(err, probe.ErrTimeout) {
			metrics.ProbeTimeout()
		}
		return err
	}

	return op(ctx, nil)
}

func (s *Synchronizer) withSSHRemote(ctx context.Context, op func(ctx context.Context, auth transport.AuthMethod) error) error {
	privateKeyPath := s.provisioner.MaterializeSSHKeys(ctx)
	env := []string{fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s", privateKeyPath)}

	check := s.newProbe(env)
	err := check.Check(ctx)
	if errors.Is(err, probe.ErrTimeout) {
		metrics.ProbeTimeout()

		host := remoteHost(s.cfg.RemoteRepoLink)
		if host == "" {
			return err
		}

		s.trustHost(ctx, host)

		if err = check.Check(ctx); errors.Is(err, probe.ErrTimeout) {
			metrics.ProbeTimeout()
			return &ConfigError{Guidance: hostTrustGuidance, Err: err}
		}
	}
	if err != nil {
		return err
	}

	return op(ctx, s.sshAuth(privateKeyPath))
}

// trustHost appends the host's public key to the known-hosts store so SSH
// connections stop waiting for interactive confirmation. Best effort: a
// failed scan is logged and the caller re-probes regardless.
func (s *Synchronizer) trustHost(ctx context.Context, host string) {
	out, err := proc.Output(ctx, "", "ssh-keyscan", "-t", "rsa", host)
	if err != nil {
		s.log.Warnf("ssh-keyscan for %q failed: %v", host, err)
		return
	}

	f, err := os.OpenFile(s.cfg.KnownHostsFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Warnf("cannot open known-hosts file %q: %v", s.cfg.KnownHostsFile, err)
		return
	}
	defer f.Close()

	if _, err := f.Write(out); err != nil {
		s.log.Warnf("cannot append to known-hosts file %q: %v", s.cfg.KnownHostsFile, err)
		return
	}
	s.log.Debugf("added %q to known hosts", host)
}

// sshAuth builds the go-git authentication method from the materialized
// private key. A missing or unreadable key degrades to nil auth so go-git
// falls back to the ambient SSH configuration, mirroring what the probe
// just verified.
func (s *Synchronizer) sshAuth(privateKeyPath string) transport.AuthMethod {
	auth, err := gitssh.NewPublicKeysFromFile("git", privateKeyPath, "")
	if err != nil {
		s.log.Debugf("no usable private key at %q, falling back to default SSH auth: %v", privateKeyPath, err)
		return nil
	}
	return auth
}

func (s *Synchronizer) newProbe(env []string) connectivityProbe {
	if s.probeFactory != nil {
		return s.probeFactory(env)
	}
	return probe.New(s.spawner, s.cfg.RepoPath, s.cfg.RemoteName, s.log).WithEnv(env)
}

// remoteHost derives the host name from a remote link. Links without a
// scheme (the scp-like "git@host:path" form) keep only the authority part,
// since the colon before the path would otherwise read as a port. Returns ""
// when no host can be derived.
func remoteHost(link string) string {
	if !strings.Contains(link, "://") {
		authority, _, ok := strings.Cut(link, ":")
		if !ok {
			return ""
		}
		link = "ssh://" + authority
	}

	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
