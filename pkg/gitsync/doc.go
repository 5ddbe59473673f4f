// Package gitsync provides credential-aware synchronization of one local
// working copy with one remote git repository.
//
// The primary type is Synchronizer, which owns the working copy at a
// configured path and exposes initialization, clone, reset, push, pull,
// commit and status operations. Remote-mutating operations never run
// without a verified connection: each one provisions credentials (SSH key
// material from a secret store, or an HTTPS access token embedded into the
// remote URL), probes the remote under a bounded timeout, and recovers
// missing host trust automatically before giving up.
//
// Example usage:
//
//	cfg := &config.Sync{
//	    RemoteRepoLink: "https://github.com/myorg/pipelines.git",
//	    RepoPath:       "/srv/pipelines",
//	    AuthType:       config.AuthTypeHTTPS,
//	    Username:       "bot",
//	    AccessTokenSecretName: "deploy-token",
//	}
//
//	syncer, err := gitsync.New(cfg, provider, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := syncer.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	err = syncer.Pull(ctx)
//
// Thread Safety: Synchronizer instances are NOT thread-safe. Each instance
// should be used by a single goroutine. Callers must also guarantee that no
// two instances own the same working-copy path.
package gitsync
