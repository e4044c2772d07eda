package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bassista/go_learn/internal/credential"
)

func newLoginCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Store an access token as the current credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(opts)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			if err := app.Login(args[0]); err != nil {
				return err
			}
			successColor.Fprintln(cmd.OutOrStdout(), "logged in")
			return nil
		},
	}
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(opts)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			if err := app.Logout(); err != nil {
				return err
			}
			successColor.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the claims of the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(opts)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			out := cmd.OutOrStdout()
			token, ok := app.Tokens.Token()
			if !ok {
				fmt.Fprintln(out, "anonymous")
				return nil
			}
			claims, err := credential.ParseClaims(token)
			if err != nil {
				warnColor.Fprintln(out, "signed in with an opaque token")
				return nil
			}
			printClaim := func(label, value string) {
				if value == "" {
					return
				}
				labelColor.Fprintf(out, "%-8s", label)
				fmt.Fprintln(out, value)
			}
			printClaim("subject", claims.Subject)
			printClaim("email", claims.Email)
			printClaim("role", claims.Role)
			if claims.ExpiresAt != nil {
				printClaim("expires", claims.ExpiresAt.Time.Format(time.RFC3339))
			}
			if claims.Expired(time.Now()) {
				errorColor.Fprintln(out, "token expired")
			}
			return nil
		},
	}
}
