package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pipelab/reposync/internal/config"
	"github.com/pipelab/reposync/internal/gitsync"
	"github.com/pipelab/reposync/internal/logging"
	"github.com/pipelab/reposync/internal/pool"
	"github.com/pipelab/reposync/internal/secrets"
)

var (
	configFile   string
	logLevel     string
	showProgress bool
)

func main() {
	root := &cobra.Command{
		Use:           "reposync",
		Short:         "Keep a local working copy in sync with a remote git repository",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addCommonFlags(root.PersistentFlags())

	root.AddCommand(
		initCommand(),
		cloneCommand(),
		resetCommand(),
		pushCommand(),
		pullCommand(),
		commitCommand(),
		statusCommand(),
		branchesCommand(),
		checkoutCommand(),
		watchCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addCommonFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configFile, "config", "c", "reposync.yml", "path to the configuration file")
	fs.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.BoolVar(&showProgress, "progress", false, "render transfer progress")
}

// setup loads the configuration and initializes the synchronizer.
func setup(cmd *cobra.Command) (*gitsync.Synchronizer, *config.Root, *logging.Logger, error) {
	log := logging.NewLogger(logging.Config{Level: parseLevel(logLevel)})

	root, err := config.ParseFile(configFile)
	if err != nil {
		return nil, nil, nil, err
	}

	// Secrets not defined in the file are looked up in the environment.
	provider := secrets.NewCached(fallbackProvider{root.SecretProvider(), secrets.Env{}})

	syncer, err := gitsync.New(root.Sync, provider, log.WithName("sync"))
	if err != nil {
		return nil, nil, nil, err
	}
	syncer.WithProgress(showProgress)

	if err := syncer.Initialize(cmd.Context()); err != nil {
		return nil, nil, nil, err
	}
	return syncer, root, log, nil
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the working copy, cloning the remote if needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, _, err := setup(cmd)
			return err
		},
	}
}

func cloneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clone",
		Short: "Replace the working copy with a fresh clone of the remote",
		RunE: func(cmd *cobra.Command, _ []string) error {
			syncer, _, _, err := setup(cmd)
			if err != nil {
				return err
			}
			return syncer.Clone(cmd.Context())
		},
	}
}

func resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [branch]",
		Short: "Hard-reset the working copy to the remote branch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncer, _, _, err := setup(cmd)
			if err != nil {
				return err
			}
			branch := ""
			if len(args) == 1 {
				branch = args[0]
			}
			return syncer.Reset(cmd.Context(), branch)
		},
	}
}

func pushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push the current branch to the remote",
		RunE: func(cmd *cobra.Command, _ []string) error {
			syncer, _, _, err := setup(cmd)
			if err != nil {
				return err
			}
			return syncer.Push(cmd.Context())
		},
	}
}

func pullCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Pull the current branch from the remote",
		RunE: func(cmd *cobra.Command, _ []string) error {
			syncer, _, _, err := setup(cmd)
			if err != nil {
				return err
			}
			return syncer.Pull(cmd.Context())
		},
	}
}

func commitCommand() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "commit [files...]",
		Short: "Commit modified and untracked files",
		RunE: func(cmd *cobra.Command, args []string) error {
			syncer, _, log, err := setup(cmd)
			if err != nil {
				return err
			}
			committed, err := syncer.Commit(message, args...)
			if err != nil {
				return err
			}
			if !committed {
				log.Infof("nothing to commit")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the working copy status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			syncer, _, _, err := setup(cmd)
			if err != nil {
				return err
			}
			status, err := syncer.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(status)
			return nil
		},
	}
}

func branchesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "branches",
		Short: "List local branches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			syncer, _, _, err := setup(cmd)
			if err != nil {
				return err
			}
			current, err := syncer.CurrentBranch()
			if err != nil {
				return err
			}
			branches, err := syncer.Branches()
			if err != nil {
				return err
			}
			for _, branch := range branches {
				marker := "  "
				if branch == current {
					marker = "* "
				}
				fmt.Println(marker + branch)
			}
			return nil
		},
	}
}

func checkoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <branch>",
		Short: "Switch to a branch, creating it if it does not exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncer, _, _, err := setup(cmd)
			if err != nil {
				return err
			}
			return syncer.ChangeBranch(args[0])
		},
	}
}

func watchCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Pull the remote periodically; SIGHUP forces an immediate pull",
		RunE: func(cmd *cobra.Command, _ []string) error {
			syncer, root, log, err := setup(cmd)
			if err != nil {
				return err
			}

			interval := time.Duration(root.Sync.SyncInterval)
			if interval <= 0 {
				interval = 30 * time.Second
			}

			workers := pool.New(1)
			workers.Add("pull", func(ctx context.Context) time.Time {
				if err := syncer.Pull(ctx); err != nil {
					log.Errorf("pull: %v", err)
				}
				return time.Now().Add(interval)
			})

			if listen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				go func() {
					if err := http.ListenAndServe(listen, mux); err != nil {
						log.Errorf("metrics listener: %v", err)
					}
				}()
			}

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			for range hup {
				if err := workers.Trigger("pull"); err != nil {
					log.Warnf("trigger: %v", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "address to serve metrics on (e.g. :9090)")
	return cmd
}

func parseLevel(level string) int {
	switch strings.ToLower(level) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// fallbackProvider consults the primary provider first and falls back to
// the secondary for secrets the primary does not know.
type fallbackProvider struct {
	primary  secrets.Provider
	fallback secrets.Provider
}

func (p fallbackProvider) GetSecret(ctx context.Context, name string) (string, error) {
	value, err := p.primary.GetSecret(ctx, name)
	if errors.Is(err, secrets.ErrNotFound) {
		return p.fallback.GetSecret(ctx, name)
	}
	return value, err
}
