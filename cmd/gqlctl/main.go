// Command gqlctl runs GraphQL operations through the client facade from a
// terminal, sharing the credential file with the session shell.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	appctx "github.com/bassista/go_learn/internal/app"
	"github.com/bassista/go_learn/internal/config"
	"github.com/bassista/go_learn/internal/credential"
	"github.com/bassista/go_learn/internal/logger"
)

type rootOptions struct {
	ephemeral bool
	verbose   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errorColor.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "gqlctl",
		Short: "Run GraphQL operations against the learning platform backend",
		Long: `gqlctl sends queries, mutations and subscriptions through the same
client facade the session shell uses: bearer auth from the stored credential,
the normalized cache, and session invalidation on rejected credentials.

Configuration comes from config.yaml, .env and GO_LEARN_* variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.Logger.SetOutput(cmd.ErrOrStderr())
			if opts.verbose {
				return logger.Configure("debug", "text")
			}
			return logger.Configure("warn", "text")
		},
	}
	root.PersistentFlags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep the credential in memory instead of the credential file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log transport activity")

	root.AddCommand(
		newOperationCmd(opts, "query"),
		newOperationCmd(opts, "mutate"),
		newSubscribeCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
	)
	return root
}

// openApp loads configuration and wires the facade. The caller shuts it down.
func openApp(opts *rootOptions) (*appctx.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	storeType := cfg.Auth.CredentialStore
	if opts.ephemeral {
		storeType = credential.StoreTypeMemory
	}
	store, err := credential.NewStoreFromConfig(storeType, cfg.Auth.CredentialPath)
	if err != nil {
		return nil, fmt.Errorf("cannot init credential store: %w", err)
	}
	return appctx.New(cfg, store)
}

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warnColor    = color.New(color.FgYellow)
	successColor = color.New(color.FgGreen)
	labelColor   = color.New(color.FgCyan)
)
