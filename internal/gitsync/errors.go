package gitsync

// ConfigError reports a fatal configuration problem, such as a remote that
// stays unreachable after host-trust recovery. It carries guidance for the
// operator and wraps the underlying failure.
type ConfigError struct {
	Guidance string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return e.Guidance + ": " + e.Err.Error()
	}
	return e.Guidance
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

const hostTrustGuidance = "Connecting to remote timed out, make sure your SSH key is set up properly" +
	" and your repository host is added as a known host"
