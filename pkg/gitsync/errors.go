package gitsync

import (
	"github.com/pipelab/reposync/internal/gitsync"
	"github.com/pipelab/reposync/internal/probe"
)

// ErrTimeout reports that the connectivity probe exhausted its poll budget,
// after host-trust recovery where applicable. Match with errors.Is.
var ErrTimeout = probe.ErrTimeout

// RemoteError reports that the remote was reachable but rejected the
// handshake. Match with errors.As.
type RemoteError = probe.RemoteError

// ConfigError reports a fatal configuration problem with operator guidance.
// It wraps the underlying failure.
type ConfigError = gitsync.ConfigError
