// Package gitsync implements the synchronization orchestrator. It keeps one
// local working copy in sync with one remote repository, provisioning
// credentials and verifying connectivity before any remote-mutating
// operation. This package implements no locking: one Synchronizer owns one
// working-copy path and callers must not invoke two mutating operations
// concurrently.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/pipelab/reposync/internal/config"
	"github.com/pipelab/reposync/internal/credentials"
	"github.com/pipelab/reposync/internal/gitops"
	"github.com/pipelab/reposync/internal/logging"
	"github.com/pipelab/reposync/internal/metrics"
	"github.com/pipelab/reposync/internal/proc"
	"github.com/pipelab/reposync/internal/progress"
	"github.com/pipelab/reposync/internal/secrets"
)

const placeholderCommitMessage = "Initial commit"

type connectivityProbe interface {
	Check(ctx context.Context) error
}

// Synchronizer orchestrates synchronization between the working copy at the
// configured path and its remote.
type Synchronizer struct {
	cfg          *config.Sync
	provisioner  *credentials.Provisioner
	spawner      proc.Spawner
	log          *logging.Logger
	repo         *gitops.Repo
	showProgress bool

	// probeFactory lets tests substitute a simulated probe.
	probeFactory func(env []string) connectivityProbe
}

// New creates a Synchronizer from the validated configuration. Initialize
// must be called before any other operation.
func New(cfg *config.Sync, provider secrets.Provider, log *logging.Logger) (*Synchronizer, error) {
	provisioner, err := credentials.NewProvisioner(cfg, provider, log)
	if err != nil {
		return nil, err
	}

	return &Synchronizer{
		cfg:         cfg,
		provisioner: provisioner,
		spawner:     proc.ExecSpawner{},
		log:         log,
	}, nil
}

// WithSpawner overrides the process spawner. Used in tests.
func (s *Synchronizer) WithSpawner(spawner proc.Spawner) *Synchronizer {
	s.spawner = spawner
	return s
}

// WithProbeFactory overrides connectivity probe construction. Used in tests.
func (s *Synchronizer) WithProbeFactory(factory func(env []string) connectivityProbe) *Synchronizer {
	s.probeFactory = factory
	return s
}

// WithProgress enables transfer progress rendering during clone.
func (s *Synchronizer) WithProgress(enabled bool) *Synchronizer {
	s.showProgress = enabled
	return s
}

// Initialize opens the repository at the configured path, cloning and
// adopting the remote's history if no valid repository exists there. A
// failed clone is recovered locally by initializing a fresh repository with
// a single placeholder commit, so the working copy is never left without a
// valid ref. Construction also provisions the commit identity and the named
// remote reference.
func (s *Synchronizer) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.RepoPath, 0o755); err != nil {
		return err
	}

	repo, err := gitops.Open(s.cfg.RepoPath)
	if err != nil {
		if !errors.Is(err, gitops.ErrRepositoryNotExists) {
			s.log.Warnf("cannot open repository at %q, recloning: %v", s.cfg.RepoPath, err)
		}
		repo, err = s.adoptClone(ctx)
	}
	if err != nil {
		return err
	}
	s.repo = repo

	s.configureIdentity()

	return s.repo.EnsureRemote(s.cfg.RemoteName, s.effectiveLink(ctx))
}

// adoptClone clones the remote into a staging directory and adopts its .git
// metadata into the target path, then materializes HEAD's tree so the index
// and the working copy agree. The preferences file survives the checkout.
// The staging directory is removed on every exit path. Any failure falls
// back to a fresh repository.
func (s *Synchronizer) adoptClone(ctx context.Context) (*gitops.Repo, error) {
	staging, err := s.stagingDir()
	if err != nil {
		return s.freshRepo(err)
	}
	defer os.RemoveAll(staging)

	err = s.withRemote(ctx, func(ctx context.Context, auth transport.AuthMethod) error {
		return s.cloneStaged(ctx, staging, auth)
	})
	if err != nil {
		return s.freshRepo(err)
	}

	preferences := s.readPreferences()

	gitDir := filepath.Join(s.cfg.RepoPath, ".git")
	if err := os.RemoveAll(gitDir); err != nil {
		return s.freshRepo(err)
	}
	if err := os.Rename(filepath.Join(staging, ".git"), gitDir); err != nil {
		return s.freshRepo(err)
	}

	repo, err := gitops.Open(s.cfg.RepoPath)
	if err != nil {
		return s.freshRepo(err)
	}

	// The adopted metadata refers to a tree the path does not hold yet;
	// without this the index reports every file as deleted.
	if err := repo.HardReset("HEAD"); err != nil {
		return s.freshRepo(err)
	}

	s.restorePreferences(preferences)
	return repo, nil
}

// freshRepo initializes an empty repository with one placeholder commit.
// Later reset and diff operations require a valid ref, so a repository is
// never left with zero commits.
func (s *Synchronizer) freshRepo(cause error) (*gitops.Repo, error) {
	s.log.Warnf("falling back to a fresh repository at %q: %v", s.cfg.RepoPath, cause)

	// A half-adopted or corrupt .git must not survive into the fresh start.
	if err := os.RemoveAll(filepath.Join(s.cfg.RepoPath, ".git")); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.cfg.RepoPath, 0o755); err != nil {
		return nil, err
	}

	repo, err := gitops.Init(s.cfg.RepoPath)
	if err != nil {
		return nil, err
	}

	if err := repo.Stage(nil); err != nil {
		return nil, err
	}

	name, email := s.identity()
	if _, err := repo.Commit(placeholderCommitMessage, name, email); err != nil {
		return nil, err
	}
	return repo, nil
}

// Clone replaces the entire working copy with a fresh clone of the remote.
// The clone is staged first; the preferences file is carried over from the
// old tree. The staged tree is renamed into place after the old one is
// removed, so readers may observe a brief window where the target path is
// absent, but never a partially copied tree.
func (s *Synchronizer) Clone(ctx context.Context) error {
	return s.guarded(ctx, "clone", func(ctx context.Context, auth transport.AuthMethod) error {
		staging, err := s.stagingDir()
		if err != nil {
			return err
		}
		defer os.RemoveAll(staging)

		if err := s.cloneStaged(ctx, staging, auth); err != nil {
			return err
		}

		preferences := s.readPreferences()

		if err := os.RemoveAll(s.cfg.RepoPath); err != nil {
			return err
		}
		if err := os.Rename(staging, s.cfg.RepoPath); err != nil {
			return err
		}

		s.restorePreferences(preferences)

		repo, err := gitops.Open(s.cfg.RepoPath)
		if err != nil {
			return err
		}
		s.repo = repo
		s.configureIdentity()
		return nil
	})
}

// Reset fetches the remote and hard-resets the working copy to the remote
// branch, discarding local changes. An empty branch means the current one.
// Dependency installation afterwards is best effort.
func (s *Synchronizer) Reset(ctx context.Context, branch string) error {
	if err := s.requireRepo(); err != nil {
		return err
	}

	return s.guarded(ctx, "reset", func(ctx context.Context, auth transport.AuthMethod) error {
		if err := s.repo.Fetch(ctx, s.cfg.RemoteName, auth); err != nil {
			return err
		}

		if branch == "" {
			var err error
			if branch, err = s.repo.CurrentBranch(); err != nil {
				return err
			}
		}

		if err := s.repo.HardReset(s.cfg.RemoteName + "/" + branch); err != nil {
			return err
		}

		s.installDependencies(ctx)
		return nil
	})
}

// Push pushes the current branch to the named remote, establishing upstream
// tracking.
func (s *Synchronizer) Push(ctx context.Context) error {
	if err := s.requireRepo(); err != nil {
		return err
	}

	return s.guarded(ctx, "push", func(ctx context.Context, auth transport.AuthMethod) error {
		branch, err := s.repo.CurrentBranch()
		if err != nil {
			return err
		}
		return s.repo.Push(ctx, s.cfg.RemoteName, branch, auth)
	})
}

// Pull pulls the current branch from the named remote, then runs best-effort
// dependency installation.
func (s *Synchronizer) Pull(ctx context.Context) error {
	if err := s.requireRepo(); err != nil {
		return err
	}

	return s.guarded(ctx, "pull", func(ctx context.Context, auth transport.AuthMethod) error {
		branch, err := s.repo.CurrentBranch()
		if err != nil {
			return err
		}
		if err := s.repo.Pull(ctx, s.cfg.RemoteName, branch, auth); err != nil {
			return err
		}

		s.installDependencies(ctx)
		return nil
	})
}

// Commit stages the given files (or everything when none are given) and
// records a commit. A working copy without modified or untracked paths is a
// no-op, not an error. Commit is a local operation and is not remote-guarded.
func (s *Synchronizer) Commit(message string, files ...string) (bool, error) {
	if err := s.requireRepo(); err != nil {
		return false, err
	}

	changed, err := s.repo.HasChanges()
	if err != nil {
		return false, err
	}
	if !changed {
		s.log.Debugf("nothing to commit at %q", s.cfg.RepoPath)
		return false, nil
	}

	if err := s.repo.Stage(files); err != nil {
		return false, err
	}

	name, email := s.identity()
	if _, err := s.repo.Commit(message, name, email); err != nil {
		return false, err
	}
	return true, nil
}

// Status returns the human-readable working copy status.
func (s *Synchronizer) Status(ctx context.Context) (string, error) {
	if err := s.requireRepo(); err != nil {
		return "", err
	}
	return s.repo.Status(ctx)
}

// CurrentBranch returns the checked-out branch name.
func (s *Synchronizer) CurrentBranch() (string, error) {
	if err := s.requireRepo(); err != nil {
		return "", err
	}
	return s.repo.CurrentBranch()
}

// Branches lists local branch names.
func (s *Synchronizer) Branches() ([]string, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	return s.repo.Branches()
}

// ModifiedFiles lists paths changed in the working tree, untracked files
// excluded.
func (s *Synchronizer) ModifiedFiles() ([]string, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	return s.repo.ModifiedFiles()
}

// UntrackedFiles lists untracked paths from the porcelain status, unquoting
// escaped filenames. includeIgnored also reports paths matched by ignore
// rules.
func (s *Synchronizer) UntrackedFiles(ctx context.Context, includeIgnored bool) ([]string, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}

	lines, err := s.repo.PorcelainStatus(ctx, includeIgnored)
	if err != nil {
		return nil, err
	}
	return gitops.UntrackedFromPorcelain(lines), nil
}

// ChangeBranch checks out the named branch, creating it first when it does
// not exist.
func (s *Synchronizer) ChangeBranch(name string) error {
	if err := s.requireRepo(); err != nil {
		return err
	}

	exists, err := s.repo.HasBranch(name)
	if err != nil {
		return err
	}
	return s.repo.Checkout(name, !exists)
}

func (s *Synchronizer) guarded(ctx context.Context, operation string, op func(ctx context.Context, auth transport.AuthMethod) error) error {
	start := time.Now()

	if err := s.withRemote(ctx, op); err != nil {
		metrics.OperationFailed(operation)
		return fmt.Errorf("%s: %w", operation, err)
	}

	metrics.OperationSucceeded(operation, start)
	return nil
}

func (s *Synchronizer) requireRepo() error {
	if s.repo == nil {
		return errors.New("synchronizer is not initialized")
	}
	return nil
}

// cloneStaged clones the remote into the staging directory under the
// configured remote name.
func (s *Synchronizer) cloneStaged(ctx context.Context, staging string, auth transport.AuthMethod) error {
	bar := progress.NewBar("cloning "+s.cfg.RemoteName, s.showProgress)
	defer bar.Finish()

	_, err := gitops.Clone(ctx, staging, gitops.CloneOptions{
		URL:        s.effectiveLink(ctx),
		RemoteName: s.cfg.RemoteName,
		Auth:       auth,
		Progress:   bar.Writer(),
	})
	return err
}

// stagingDir creates the uniquely named staging directory next to the
// target path, so the later metadata swap stays on one filesystem.
func (s *Synchronizer) stagingDir() (string, error) {
	return os.MkdirTemp(filepath.Dir(s.cfg.RepoPath), filepath.Base(s.cfg.RepoPath)+"-staging-")
}

// readPreferences snapshots the configured preferences file from the target
// path before a replacement touches it. Returns nil when there is nothing to
// preserve.
func (s *Synchronizer) readPreferences() []byte {
	if s.cfg.PreferencesFile == "" {
		return nil
	}

	src := filepath.Join(s.cfg.RepoPath, s.cfg.PreferencesFile)
	data, err := os.ReadFile(src)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warnf("cannot read preferences file %q: %v", src, err)
		}
		return nil
	}
	return data
}

// restorePreferences writes a snapshot taken by readPreferences back into
// the target path. Best effort.
func (s *Synchronizer) restorePreferences(data []byte) {
	if data == nil {
		return
	}

	dst := filepath.Join(s.cfg.RepoPath, s.cfg.PreferencesFile)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		s.log.Warnf("cannot create preferences directory for %q: %v", dst, err)
		return
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		s.log.Warnf("cannot write preferences file %q: %v", dst, err)
	}
}

// effectiveLink returns the remote URL used for network operations. For
// HTTPS remotes the access token is embedded into the authority component.
// The returned value may hold a live credential and is never logged.
func (s *Synchronizer) effectiveLink(ctx context.Context) string {
	if s.cfg.AuthType != config.AuthTypeHTTPS {
		return s.cfg.RemoteRepoLink
	}

	link, err := s.provisioner.InjectHTTPSToken(ctx, s.cfg.RemoteRepoLink)
	if err != nil {
		s.log.Warnf("could not embed access token into remote link: %v", err)
		return s.cfg.RemoteRepoLink
	}
	return link
}

// installDependencies runs the configured install command when the manifest
// is present in the working copy. Best effort: failures are logged, never
// propagated.
func (s *Synchronizer) installDependencies(ctx context.Context) {
	manifest := filepath.Join(s.cfg.RepoPath, s.cfg.InstallManifest)
	if _, err := os.Stat(manifest); err != nil {
		return
	}

	cmd := s.cfg.InstallCommand
	if err := proc.Run(ctx, s.cfg.RepoPath, cmd[0], cmd[1:]...); err != nil {
		s.log.Warnf("dependency installation %v failed: %v", cmd, err)
		return
	}
	s.log.Debugf("dependency installation %v completed", cmd)
}

// configureIdentity records the commit identity in the repository config
// and marks the working copy as a safe directory for spawned git processes.
// Best effort.
func (s *Synchronizer) configureIdentity() {
	if err := s.repo.SetIdentity(s.cfg.Username, s.cfg.Email); err != nil {
		s.log.Warnf("cannot set commit identity: %v", err)
	}
	if err := gitops.MarkSafeDirectory(s.cfg.RepoPath); err != nil {
		s.log.Warnf("cannot mark %q as a safe directory: %v", s.cfg.RepoPath, err)
	}
}

func (s *Synchronizer) identity() (string, string) {
	name := s.cfg.Username
	if name == "" {
		name = "reposync"
	}
	email := s.cfg.Email
	if email == "" {
		email = "reposync@localhost"
	}
	return name, email
}
