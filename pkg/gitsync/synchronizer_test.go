package gitsync

import (
	"strings"
	"testing"

	"github.com/pipelab/reposync/internal/config"
	"github.com/pipelab/reposync/internal/secrets"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		note  string
		cfg   *config.Sync
		error string
	}{
		{
			note:  "missing remote link",
			cfg:   &config.Sync{RepoPath: "/srv/repo", AuthType: config.AuthTypeSSH},
			error: "remote_repo_link is required",
		},
		{
			note:  "missing repo path",
			cfg:   &config.Sync{RemoteRepoLink: "git@github.com:org/repo.git", AuthType: config.AuthTypeSSH},
			error: "repo_path is required",
		},
		{
			note:  "missing auth type",
			cfg:   &config.Sync{RemoteRepoLink: "git@github.com:org/repo.git", RepoPath: "/srv/repo"},
			error: "auth_type is required",
		},
		{
			note: "invalid allowed hosts pattern",
			cfg: &config.Sync{
				RemoteRepoLink: "https://example.com/org/repo.git",
				RepoPath:       "/srv/repo",
				AuthType:       config.AuthTypeHTTPS,
				AllowedHosts:   []string{"[invalid"},
			},
			error: "invalid allowed_hosts pattern",
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			_, err := New(tc.cfg, secrets.Static{}, nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.error) {
				t.Fatalf("expected error containing %q, got %q", tc.error, err)
			}
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	cfg := &config.Sync{
		RemoteRepoLink: "git@github.com:org/repo.git",
		RepoPath:       "/srv/repo",
		AuthType:       config.AuthTypeSSH,
		SSHKeyDir:      t.TempDir(),
	}

	// A nil logger is accepted.
	if _, err := New(cfg, secrets.Static{}, nil); err != nil {
		t.Fatal(err)
	}

	if cfg.RemoteName != "sync-repo" {
		t.Fatalf("expected default remote name, got %q", cfg.RemoteName)
	}
	if cfg.KnownHostsFile == "" {
		t.Fatal("expected a default known-hosts file")
	}
}

func TestNewFromConfigMap(t *testing.T) {
	m := map[string]any{
		"remote_repo_link":            "git@github.com:org/pipelines.git",
		"repo_path":                   "/srv/pipelines",
		"auth_type":                   "ssh",
		"ssh_private_key_secret_name": "deploy-key",
		"ssh_key_dir":                 t.TempDir(),
	}

	if _, err := NewFromConfigMap(m, secrets.Static{}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestNewFromConfigMapRejectsUnknownField(t *testing.T) {
	m := map[string]any{
		"remote_repo_link": "git@github.com:org/repo.git",
		"repo_path":        "/srv/repo",
		"auth_type":        "ssh",
		"repo_pth":         "/typo",
	}

	if _, err := NewFromConfigMap(m, secrets.Static{}, nil); err == nil {
		t.Fatal("expected an error for an unknown configuration key")
	}
}
