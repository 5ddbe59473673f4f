// Package gitops wraps the version-control plumbing. Repository object and
// ref manipulation go through go-git; the machine-readable status surface
// shells out to git, matching the porcelain format downstream parsers
// expect.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/pipelab/reposync/internal/proc"
)

func init() {
	// For Azure DevOps compatibility. More details: https://github.com/go-git/go-git/issues/64
	transport.UnsupportedCapabilities = []capability.Capability{
		capability.ThinPack,
	}
}

// ErrRepositoryNotExists reports that the path holds no valid repository.
var ErrRepositoryNotExists = git.ErrRepositoryNotExists

// Repo is a handle to one working copy.
type Repo struct {
	repo *git.Repository
	path string
}

// Open opens an existing repository at path.
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrRepositoryNotExists
		}
		return nil, err
	}
	return &Repo{repo: repo, path: path}, nil
}

// Init creates a fresh repository at path.
func Init(path string) (*Repo, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, err
	}
	return &Repo{repo: repo, path: path}, nil
}

// CloneOptions carries everything a clone needs besides the destination.
type CloneOptions struct {
	URL        string
	RemoteName string
	Auth       transport.AuthMethod
	Progress   io.Writer
}

// Clone clones into dest under the given remote name.
func Clone(ctx context.Context, dest string, opts CloneOptions) (*Repo, error) {
	repo, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:        opts.URL,
		RemoteName: opts.RemoteName,
		Auth:       opts.Auth,
		Progress:   opts.Progress,
	})
	if err != nil {
		return nil, err
	}
	return &Repo{repo: repo, path: dest}, nil
}

func (r *Repo) Path() string {
	return r.path
}

// EnsureRemote guarantees exactly one remote with the given name pointing at
// url. A missing remote is created; a stale URL is overwritten in place,
// never duplicated.
func (r *Repo) EnsureRemote(name, url string) error {
	remote, err := r.repo.Remote(name)
	if errors.Is(err, git.ErrRemoteNotFound) {
		_, err = r.repo.CreateRemote(&gitconfig.RemoteConfig{Name: name, URLs: []string{url}})
		return err
	}
	if err != nil {
		return err
	}

	urls := remote.Config().URLs
	if len(urls) == 1 && urls[0] == url {
		return nil
	}

	cfg, err := r.repo.Config()
	if err != nil {
		return err
	}
	cfg.Remotes[name].URLs = []string{url}
	return r.repo.SetConfig(cfg)
}

// Fetch updates the remote-tracking refs for the named remote.
func (r *Repo) Fetch(ctx context.Context, remoteName string, auth transport.AuthMethod) error {
	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		Auth:       auth,
		Force:      true,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", remoteName)),
		},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

// HardReset discards all local changes and moves the current branch to rev
// (e.g. "<remote>/<branch>").
func (r *Repo) HardReset(rev string) error {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return fmt.Errorf("cannot resolve %q: %w", rev, err)
	}

	w, err := r.repo.Worktree()
	if err != nil {
		return err
	}

	return w.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: *hash})
}

// Push pushes branch to the named remote and records it as the branch's
// upstream.
func (r *Repo) Push(ctx context.Context, remoteName, branch string, auth transport.AuthMethod) error {
	refSpec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		Auth:       auth,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}

	cfg, err := r.repo.Config()
	if err != nil {
		return err
	}
	cfg.Branches[branch] = &gitconfig.Branch{
		Name:   branch,
		Remote: remoteName,
		Merge:  plumbing.NewBranchReferenceName(branch),
	}
	return r.repo.SetConfig(cfg)
}

// Pull merges the remote branch into the current branch.
func (r *Repo) Pull(ctx context.Context, remoteName, branch string, auth transport.AuthMethod) error {
	w, err := r.repo.Worktree()
	if err != nil {
		return err
	}

	err = w.PullContext(ctx, &git.PullOptions{
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		Auth:          auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

// Stage adds the given paths to the index, or everything when paths is
// empty.
func (r *Repo) Stage(paths []string) error {
	w, err := r.repo.Worktree()
	if err != nil {
		return err
	}

	if len(paths) == 0 {
		return w.AddWithOptions(&git.AddOptions{All: true})
	}

	for _, path := range paths {
		if _, err := w.Add(path); err != nil {
			return fmt.Errorf("failed to stage %q: %w", path, err)
		}
	}
	return nil
}

// Commit records the staged changes. Name and email become the author
// identity.
func (r *Repo) Commit(message, name, email string) (string, error) {
	w, err := r.repo.Worktree()
	if err != nil {
		return "", err
	}

	hash, err := w.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  name,
			Email: email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// HasChanges reports whether the working tree has modified or untracked
// paths.
func (r *Repo) HasChanges() (bool, error) {
	w, err := r.repo.Worktree()
	if err != nil {
		return false, err
	}

	status, err := w.Status()
	if err != nil {
		return false, err
	}
	return !status.IsClean(), nil
}

// ModifiedFiles returns the paths changed in the working tree relative to
// the index, untracked files excluded.
func (r *Repo) ModifiedFiles() ([]string, error) {
	w, err := r.repo.Worktree()
	if err != nil {
		return nil, err
	}

	status, err := w.Status()
	if err != nil {
		return nil, err
	}

	var files []string
	for path, s := range status {
		if s.Worktree == git.Untracked {
			continue
		}
		if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}

// CurrentBranch returns the short name of the checked-out branch.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", err
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is not on a branch: %s", head.Name())
	}
	return head.Name().Short(), nil
}

// Branches lists the local branch names.
func (r *Repo) Branches() ([]string, error) {
	iter, err := r.repo.Branches()
	if err != nil {
		return nil, err
	}

	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// HasBranch reports whether a local branch with the given name exists.
func (r *Repo) HasBranch(name string) (bool, error) {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Checkout switches to the named branch, creating it first when create is
// set.
func (r *Repo) Checkout(name string, create bool) error {
	w, err := r.repo.Worktree()
	if err != nil {
		return err
	}

	return w.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: create,
		Keep:   true,
	})
}

// SetIdentity records the commit author identity in the repository config.
func (r *Repo) SetIdentity(name, email string) error {
	cfg, err := r.repo.Config()
	if err != nil {
		return err
	}

	if name != "" {
		cfg.User.Name = name
	}
	if email != "" {
		cfg.User.Email = email
	}
	return r.repo.SetConfig(cfg)
}

// MarkSafeDirectory registers path under safe.directory in the user's
// global git configuration so spawned git processes accept the working copy
// regardless of ownership.
func MarkSafeDirectory(path string) error {
	cfg, err := gitconfig.LoadConfig(gitconfig.GlobalScope)
	if err != nil {
		return err
	}

	section := cfg.Raw.Section("safe")
	for _, opt := range section.Options {
		if opt.Key == "directory" && opt.Value == path {
			return nil
		}
	}
	section.AddOption("directory", path)

	bs, err := cfg.Marshal()
	if err != nil {
		return err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(home, ".gitconfig"), bs, 0o644)
}

// Status returns the human-readable status output of the working copy.
func (r *Repo) Status(ctx context.Context) (string, error) {
	out, err := proc.Output(ctx, r.path, "git", "status")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// PorcelainStatus returns the machine-readable status lines. Untracked
// files are reported individually; includeIgnored adds ignored paths.
func (r *Repo) PorcelainStatus(ctx context.Context, includeIgnored bool) ([]string, error) {
	args := []string{"status", "--porcelain", "--untracked-files=all"}
	if includeIgnored {
		args = append(args, "--ignored")
	}

	out, err := proc.Output(ctx, r.path, "git", args...)
	if err != nil {
		return nil, err
	}
	return splitLines(string(out)), nil
}
