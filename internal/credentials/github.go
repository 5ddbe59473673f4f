package credentials

import (
	"bytes"
	"context"
	"net/http"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
)

// githubApp mints short-lived GitHub App installation tokens for HTTPS
// authentication.
type githubApp struct {
	integrationID  int64
	installationID int64
	privateKey     []byte
	tr             *ghinstallation.Transport
	mu             sync.Mutex
}

func (gh *githubApp) Token(ctx context.Context, integrationID, installationID int64, privateKey []byte) (string, error) {
	tr, err := gh.transport(integrationID, installationID, privateKey)
	if err != nil {
		return "", err
	}

	return tr.Token(ctx)
}

// transport returns a cached transport or creates a new one if the
// configuration has changed.
func (gh *githubApp) transport(integrationID, installationID int64, privateKey []byte) (*ghinstallation.Transport, error) {
	gh.mu.Lock()
	defer gh.mu.Unlock()

	if gh.tr == nil || gh.integrationID != integrationID || gh.installationID != installationID || !bytes.Equal(gh.privateKey, privateKey) {
		tr, err := ghinstallation.New(http.DefaultTransport, integrationID, installationID, privateKey)
		if err != nil {
			return nil, err
		}

		gh.integrationID = integrationID
		gh.installationID = installationID
		gh.privateKey = privateKey
		gh.tr = tr
	}

	return gh.tr, nil
}
