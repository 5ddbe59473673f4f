package gitsync

import (
	"context"

	"github.com/pipelab/reposync/internal/config"
	"github.com/pipelab/reposync/internal/gitsync"
	"github.com/pipelab/reposync/internal/logging"
	"github.com/pipelab/reposync/internal/secrets"
)

// SecretProvider resolves named secrets for credential provisioning. SSH
// key material is expected base64-encoded; access tokens are used as-is.
type SecretProvider = secrets.Provider

// Synchronizer is the interface callers program against. Operations either
// complete or return a typed failure; read-only queries never fail due to
// connectivity.
type Synchronizer interface {
	// Initialize opens or creates the working copy. If no valid repository
	// exists at the configured path, the remote is cloned and adopted; a
	// failed clone falls back to a fresh repository with one placeholder
	// commit.
	Initialize(ctx context.Context) error

	// Clone replaces the whole working copy with a fresh clone. Callers
	// must tolerate a brief window where the target path is absent.
	Clone(ctx context.Context) error

	// Reset hard-resets the working copy to the remote branch (current
	// branch when empty), then best-effort installs dependencies.
	Reset(ctx context.Context, branch string) error

	// Push pushes the current branch, establishing upstream tracking.
	Push(ctx context.Context) error

	// Pull pulls the current branch, then best-effort installs
	// dependencies.
	Pull(ctx context.Context) error

	// Commit stages the given files (everything when none given) and
	// commits. Reports false without error when there is nothing to
	// commit.
	Commit(message string, files ...string) (bool, error)

	Status(ctx context.Context) (string, error)
	CurrentBranch() (string, error)
	Branches() ([]string, error)
	ModifiedFiles() ([]string, error)
	UntrackedFiles(ctx context.Context, includeIgnored bool) ([]string, error)

	// ChangeBranch checks out the named branch, creating it if missing.
	ChangeBranch(name string) error
}

// New creates a Synchronizer from a validated configuration. The provider
// is consulted for SSH key material and access tokens as operations demand
// them.
func New(cfg *config.Sync, provider SecretProvider, logger *logging.Logger) (Synchronizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return gitsync.New(cfg, secrets.NewCached(provider), logger)
}

// NewFromConfigMap creates a Synchronizer for external users from a generic
// configuration map keyed by the configuration file field names, e.g.:
//
//	m := map[string]any{
//	    "remote_repo_link": "git@github.com:myorg/pipelines.git",
//	    "repo_path":        "/srv/pipelines",
//	    "auth_type":        "ssh",
//	    "ssh_private_key_secret_name": "deploy-key",
//	}
//	syncer, err := gitsync.NewFromConfigMap(m, provider, nil)
func NewFromConfigMap(m map[string]any, provider SecretProvider, logger *logging.Logger) (Synchronizer, error) {
	var cfg config.Sync
	if err := config.Decode(m, &cfg); err != nil {
		return nil, err
	}
	return New(&cfg, provider, logger)
}
