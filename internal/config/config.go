package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/pipelab/reposync/internal/secrets"
	"github.com/pipelab/reposync/internal/util"
)

// Internal configuration data structures for reposync.

// AuthType selects how remote operations authenticate.
type AuthType string

const (
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeHTTPS AuthType = "https"
)

// Root is the top-level configuration structure read from the config file.
type Root struct {
	Sync    *Sync              `json:"sync"`
	Secrets map[string]*Secret `json:"secrets,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

// Sync holds the synchronization configuration for a single working copy.
type Sync struct {
	RemoteRepoLink string   `json:"remote_repo_link"`
	RepoPath       string   `json:"repo_path"`
	AuthType       AuthType `json:"auth_type"`
	Username       string   `json:"username,omitempty"`
	Email          string   `json:"email,omitempty"`

	AccessTokenSecretName   string `json:"access_token_secret_name,omitempty"`
	SSHPublicKeySecretName  string `json:"ssh_public_key_secret_name,omitempty"`
	SSHPrivateKeySecretName string `json:"ssh_private_key_secret_name,omitempty"`

	// GitHubApp, when set, sources HTTPS access tokens from a GitHub App
	// installation instead of a static token secret.
	GitHubApp *GitHubApp `json:"github_app,omitempty"`

	// RemoteName identifies the remote reference owned by the orchestrator.
	RemoteName string `json:"remote_name,omitempty"`

	// SSHKeyDir is where materialized key files live. Defaults to ~/.ssh.
	SSHKeyDir string `json:"ssh_key_dir,omitempty"`

	// KnownHostsFile receives host keys discovered during host-trust
	// recovery. Defaults to <ssh_key_dir>/known_hosts.
	KnownHostsFile string `json:"known_hosts_file,omitempty"`

	// AllowedHosts restricts credential injection to remotes whose host
	// matches one of the glob patterns. Empty means all hosts.
	AllowedHosts []string `json:"allowed_hosts,omitempty"`

	// PreferencesFile is carried over from the old working copy when a
	// clone replaces it.
	PreferencesFile string `json:"preferences_file,omitempty"`

	// InstallManifest and InstallCommand drive the best-effort dependency
	// installation after reset and pull. The command runs only when the
	// manifest exists in the working copy.
	InstallManifest string   `json:"install_manifest,omitempty"`
	InstallCommand  []string `json:"install_command,omitempty"`

	// SyncInterval is the period between automatic pulls in watch mode.
	SyncInterval Duration `json:"sync_interval,omitzero"`

	_ struct{} `additionalProperties:"false"`
}

// GitHubApp identifies a GitHub App installation used as a token source.
type GitHubApp struct {
	IntegrationID        int64  `json:"integration_id"`
	InstallationID       int64  `json:"installation_id"`
	PrivateKeySecretName string `json:"private_key_secret_name"`

	_ struct{} `additionalProperties:"false"`
}

const (
	defaultRemoteName      = "sync-repo"
	defaultInstallManifest = "requirements.txt"
)

// Parse reads and validates a Root configuration from YAML.
func Parse(bs []byte) (*Root, error) {
	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if root.Sync == nil {
		return nil, errors.New("sync configuration is required")
	}

	if err := root.Sync.Validate(); err != nil {
		return nil, err
	}

	for name := range root.Secrets {
		if root.Secrets[name] == nil {
			root.Secrets[name] = &Secret{}
		}
		root.Secrets[name].Name = name
	}

	return &root, nil
}

// ParseFile is like Parse but reads the configuration from a file.
func ParseFile(path string) (*Root, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(bs)
}

// SecretProvider exposes the file-configured secrets as a secrets.Provider.
// Values may refer to environment variables with the ${VAR} syntax.
func (r *Root) SecretProvider() secrets.Provider {
	return rootProvider{root: r}
}

type rootProvider struct {
	root *Root
}

func (p rootProvider) GetSecret(_ context.Context, name string) (string, error) {
	secret, ok := p.root.Secrets[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", secrets.ErrNotFound, name)
	}
	return os.ExpandEnv(secret.Value), nil
}

// Validate checks the invariants the orchestrator relies on and fills in
// defaults for optional fields.
func (s *Sync) Validate() error {
	if s.RemoteRepoLink == "" {
		return errors.New("remote_repo_link is required")
	}

	if s.RepoPath == "" {
		return errors.New("repo_path is required")
	}

	if !filepath.IsAbs(s.RepoPath) {
		return fmt.Errorf("repo_path %q must be an absolute path", s.RepoPath)
	}

	switch s.AuthType {
	case AuthTypeSSH, AuthTypeHTTPS:
	case "":
		return errors.New("auth_type is required")
	default:
		return fmt.Errorf("unknown auth_type %q", s.AuthType)
	}

	if s.RemoteName == "" {
		s.RemoteName = defaultRemoteName
	}

	if s.SSHKeyDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory for ssh_key_dir: %w", err)
		}
		s.SSHKeyDir = filepath.Join(home, ".ssh")
	}

	if s.KnownHostsFile == "" {
		s.KnownHostsFile = filepath.Join(s.SSHKeyDir, "known_hosts")
	}

	if s.InstallManifest == "" {
		s.InstallManifest = defaultInstallManifest
	}

	if len(s.InstallCommand) == 0 {
		s.InstallCommand = []string{"pip3", "install", "-r", defaultInstallManifest}
	}

	return nil
}

func (s *Sync) Equal(other *Sync) bool {
	return util.FastEqual(s, other, func(s, other *Sync) bool {
		return s.RemoteRepoLink == other.RemoteRepoLink &&
			s.RepoPath == other.RepoPath &&
			s.AuthType == other.AuthType &&
			s.Username == other.Username &&
			s.Email == other.Email &&
			s.AccessTokenSecretName == other.AccessTokenSecretName &&
			s.SSHPublicKeySecretName == other.SSHPublicKeySecretName &&
			s.SSHPrivateKeySecretName == other.SSHPrivateKeySecretName &&
			s.GitHubApp.Equal(other.GitHubApp) &&
			s.RemoteName == other.RemoteName &&
			s.SSHKeyDir == other.SSHKeyDir &&
			s.KnownHostsFile == other.KnownHostsFile &&
			util.SlicesEqual(s.AllowedHosts, other.AllowedHosts) &&
			s.PreferencesFile == other.PreferencesFile &&
			s.InstallManifest == other.InstallManifest &&
			util.SlicesEqual(s.InstallCommand, other.InstallCommand) &&
			s.SyncInterval == other.SyncInterval
	})
}

func (g *GitHubApp) Equal(other *GitHubApp) bool {
	return util.FastEqual(g, other, func(g, other *GitHubApp) bool {
		return g.IntegrationID == other.IntegrationID &&
			g.InstallationID == other.InstallationID &&
			g.PrivateKeySecretName == other.PrivateKeySecretName
	})
}

// Instead of marshaling and unmarshaling as int64 it uses strings, like "5m" or "0.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
