package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	root, err := Parse([]byte(`
sync:
  remote_repo_link: git@github.com:org/pipelines.git
  repo_path: /srv/pipelines
  auth_type: ssh
  username: bot
  email: bot@example.com
  ssh_private_key_secret_name: deploy-key
  sync_interval: 90s
secrets:
  deploy-key:
    value: c2VjcmV0
  deploy-token: plain
`))
	if err != nil {
		t.Fatal(err)
	}

	if root.Sync.RemoteRepoLink != "git@github.com:org/pipelines.git" {
		t.Fatalf("unexpected remote link: %q", root.Sync.RemoteRepoLink)
	}
	if root.Sync.RemoteName != "sync-repo" {
		t.Fatalf("expected default remote name, got %q", root.Sync.RemoteName)
	}
	if root.Sync.InstallManifest != "requirements.txt" {
		t.Fatalf("expected default install manifest, got %q", root.Sync.InstallManifest)
	}
	if expected := []string{"pip3", "install", "-r", "requirements.txt"}; !cmp.Equal(root.Sync.InstallCommand, expected) {
		t.Fatalf("unexpected install command: %v", root.Sync.InstallCommand)
	}
	if time.Duration(root.Sync.SyncInterval) != 90*time.Second {
		t.Fatalf("unexpected sync interval: %v", root.Sync.SyncInterval)
	}

	provider := root.SecretProvider()
	for name, expected := range map[string]string{"deploy-key": "c2VjcmV0", "deploy-token": "plain"} {
		value, err := provider.GetSecret(context.Background(), name)
		if err != nil {
			t.Fatal(err)
		}
		if value != expected {
			t.Fatalf("secret %q: expected %q, got %q", name, expected, value)
		}
	}
}

func TestParseSecretEnvExpansion(t *testing.T) {
	t.Setenv("DEPLOY_TOKEN", "s3cr3t")

	root, err := Parse([]byte(`
sync:
  remote_repo_link: https://example.com/org/repo.git
  repo_path: /srv/repo
  auth_type: https
secrets:
  deploy-token: ${DEPLOY_TOKEN}
`))
	if err != nil {
		t.Fatal(err)
	}

	value, err := root.SecretProvider().GetSecret(context.Background(), "deploy-token")
	if err != nil {
		t.Fatal(err)
	}
	if value != "s3cr3t" {
		t.Fatalf("expected expanded value, got %q", value)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		note   string
		config string
		error  string
	}{
		{
			note:   "missing sync",
			config: `secrets: {}`,
			error:  "sync configuration is required",
		},
		{
			note: "missing remote link",
			config: `
sync:
  repo_path: /srv/repo
  auth_type: ssh`,
			error: "remote_repo_link is required",
		},
		{
			note: "missing repo path",
			config: `
sync:
  remote_repo_link: git@github.com:org/repo.git
  auth_type: ssh`,
			error: "repo_path is required",
		},
		{
			note: "relative repo path",
			config: `
sync:
  remote_repo_link: git@github.com:org/repo.git
  repo_path: pipelines
  auth_type: ssh`,
			error: "must be an absolute path",
		},
		{
			note: "missing auth type",
			config: `
sync:
  remote_repo_link: git@github.com:org/repo.git
  repo_path: /srv/repo`,
			error: "auth_type is required",
		},
		{
			note: "unknown auth type",
			config: `
sync:
  remote_repo_link: git@github.com:org/repo.git
  repo_path: /srv/repo
  auth_type: kerberos`,
			error: `unknown auth_type "kerberos"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			_, err := Parse([]byte(tc.config))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.error) {
				t.Fatalf("expected error containing %q, got %q", tc.error, err)
			}
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	root, err := Parse([]byte(`
sync:
  remote_repo_link: https://example.com/org/repo.git
  repo_path: /srv/repo
  auth_type: https
secrets:
  deploy-token: s3cr3t
`))
	if err != nil {
		t.Fatal(err)
	}

	bs, err := root.Secrets["deploy-token"].MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(bs), "s3cr3t") {
		t.Fatalf("marshaled secret leaks its value: %s", bs)
	}
}

func TestSyncEqual(t *testing.T) {
	base := func() *Sync {
		return &Sync{
			RemoteRepoLink: "git@github.com:org/repo.git",
			RepoPath:       "/srv/repo",
			AuthType:       AuthTypeSSH,
			RemoteName:     "sync-repo",
			AllowedHosts:   []string{"github.com"},
			GitHubApp:      &GitHubApp{IntegrationID: 1, InstallationID: 2, PrivateKeySecretName: "app-key"},
		}
	}

	a, b := base(), base()
	if !a.Equal(b) {
		t.Fatal("expected identical configurations to be equal")
	}

	b.AllowedHosts = []string{"gitlab.com"}
	if a.Equal(b) {
		t.Fatal("expected differing allowed hosts to compare unequal")
	}

	b = base()
	b.GitHubApp = nil
	if a.Equal(b) {
		t.Fatal("expected differing github_app to compare unequal")
	}

	var nilSync *Sync
	if nilSync.Equal(a) || a.Equal(nilSync) {
		t.Fatal("expected nil and non-nil to compare unequal")
	}
	if !nilSync.Equal(nil) {
		t.Fatal("expected two nils to compare equal")
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"1m30s"`)); err != nil {
		t.Fatal(err)
	}
	if time.Duration(d) != 90*time.Second {
		t.Fatalf("unexpected duration: %v", d)
	}

	bs, err := d.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(bs) != `"1m30s"` {
		t.Fatalf("unexpected marshaled duration: %s", bs)
	}
}
