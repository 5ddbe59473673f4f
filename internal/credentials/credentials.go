// Package credentials materializes transient authentication material from
// the secret store: SSH key files on disk for SSH remotes, and access tokens
// embedded into the remote URL for HTTPS remotes.
package credentials

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"golang.org/x/crypto/ssh"

	"github.com/pipelab/reposync/internal/config"
	"github.com/pipelab/reposync/internal/logging"
	"github.com/pipelab/reposync/internal/secrets"
)

// Provisioner resolves secret material into usable credentials. Failures
// while materializing SSH keys are logged and swallowed: a missing or broken
// key surfaces later as a connectivity probe failure, giving the caller one
// coherent signal instead of two.
type Provisioner struct {
	cfg      *config.Sync
	provider secrets.Provider
	gh       *githubApp
	log      *logging.Logger

	allowed []glob.Glob
}

func NewProvisioner(cfg *config.Sync, provider secrets.Provider, log *logging.Logger) (*Provisioner, error) {
	p := &Provisioner{cfg: cfg, provider: provider, gh: &githubApp{}, log: log}

	for _, pattern := range cfg.AllowedHosts {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed_hosts pattern %q: %w", pattern, err)
		}
		p.allowed = append(p.allowed, g)
	}

	return p, nil
}

// MaterializeSSHKeys writes the configured SSH key pair under the key
// directory and returns the path to use as the private key. Each secret
// name maps to its own file, so distinct keys coexist without collision.
// Existing files are never rewritten. When no private key secret is
// configured, the conventional id_rsa path is returned.
func (p *Provisioner) MaterializeSSHKeys(ctx context.Context) string {
	if err := os.MkdirAll(p.cfg.SSHKeyDir, 0o700); err != nil {
		p.log.Warnf("failed to create SSH key directory %q: %v", p.cfg.SSHKeyDir, err)
	}

	if name := p.cfg.SSHPublicKeySecretName; name != "" {
		p.materializeKey(ctx, name, p.publicKeyPath(name), false)
	}

	privateKeyPath := filepath.Join(p.cfg.SSHKeyDir, "id_rsa")
	if name := p.cfg.SSHPrivateKeySecretName; name != "" {
		privateKeyPath = p.privateKeyPath(name)
		p.materializeKey(ctx, name, privateKeyPath, true)
	}

	return privateKeyPath
}

func (p *Provisioner) publicKeyPath(secretName string) string {
	return filepath.Join(p.cfg.SSHKeyDir, "id_rsa_"+secretName+".pub")
}

func (p *Provisioner) privateKeyPath(secretName string) string {
	return filepath.Join(p.cfg.SSHKeyDir, "id_rsa_"+secretName)
}

func (p *Provisioner) materializeKey(ctx context.Context, secretName, path string, private bool) {
	if _, err := os.Stat(path); err == nil {
		return
	}

	encoded, err := p.provider.GetSecret(ctx, secretName)
	if err != nil {
		p.log.Warnf("failed to resolve SSH key secret %q: %v", secretName, err)
		return
	}
	if encoded == "" {
		return
	}

	material, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		p.log.Warnf("failed to decode SSH key secret %q: %v", secretName, err)
		return
	}

	if private {
		if _, err := ssh.ParsePrivateKey(material); err != nil {
			p.log.Warnf("SSH key secret %q does not parse as a private key: %v", secretName, err)
		}
	}

	if err := os.WriteFile(path, material, 0o600); err != nil {
		p.log.Warnf("failed to write SSH key file %q: %v", path, err)
	}
}

// InjectHTTPSToken embeds the access token into the authority component of
// rawURL ("user:token@host") and returns the rewritten URL. The result holds
// a live credential and must never be logged. The input is returned
// unchanged when the URL's host is outside the allowed set.
func (p *Provisioner) InjectHTTPSToken(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("malformed remote link: %w", err)
	}

	if !p.hostAllowed(u.Hostname()) {
		return rawURL, nil
	}

	token, err := p.accessToken(ctx)
	if err != nil {
		return "", err
	}

	u.User = url.UserPassword(p.cfg.Username, token)
	return u.String(), nil
}

func (p *Provisioner) accessToken(ctx context.Context) (string, error) {
	if app := p.cfg.GitHubApp; app != nil {
		encoded, err := p.provider.GetSecret(ctx, app.PrivateKeySecretName)
		if err != nil {
			return "", err
		}
		privateKey, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return "", fmt.Errorf("failed to decode GitHub App key secret %q: %w", app.PrivateKeySecretName, err)
		}
		return p.gh.Token(ctx, app.IntegrationID, app.InstallationID, privateKey)
	}

	return p.provider.GetSecret(ctx, p.cfg.AccessTokenSecretName)
}

func (p *Provisioner) hostAllowed(host string) bool {
	if len(p.allowed) == 0 {
		return true
	}
	for _, g := range p.allowed {
		if g.Match(host) {
			return true
		}
	}
	return false
}
