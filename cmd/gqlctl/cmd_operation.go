package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vektah/gqlparser/v2/gqlerror"

	appctx "github.com/bassista/go_learn/internal/app"
	"github.com/bassista/go_learn/internal/client"
	"github.com/bassista/go_learn/internal/operation"
)

type operationFlags struct {
	vars          string
	operationName string
	policy        string
}

func (f *operationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.vars, "vars", "", "variables as a JSON object")
	cmd.Flags().StringVar(&f.operationName, "operation-name", "", "operation to run when the document holds several")
}

// parse reads the document (inline, or @path for a file) and binds variables.
func (f *operationFlags) parse(doc string) (*operation.Operation, error) {
	if path, ok := strings.CutPrefix(doc, "@"); ok {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		doc = string(raw)
	}
	var vars map[string]any
	if f.vars != "" {
		if err := json.Unmarshal([]byte(f.vars), &vars); err != nil {
			return nil, fmt.Errorf("--vars must be a JSON object: %w", err)
		}
	}
	return operation.New(doc, vars, f.operationName)
}

var operationShort = map[string]string{
	"query":  "Run a query and print data and errors",
	"mutate": "Run a mutation and print data and errors",
}

func newOperationCmd(opts *rootOptions, verb string) *cobra.Command {
	flags := &operationFlags{}
	cmd := &cobra.Command{
		Use:   verb + " <document|@file>",
		Short: operationShort[verb],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := flags.parse(args[0])
			if err != nil {
				return err
			}
			app, err := openApp(opts)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			var res *client.Result
			switch {
			case verb == "mutate" && op.Kind() == operation.KindMutation:
				res, err = app.Client.Mutate(cmd.Context(), op)
			case verb == "query" && op.Kind() == operation.KindQuery:
				var qopts []client.QueryOption
				if flags.policy != "" {
					policy, perr := client.ParseFetchPolicy(flags.policy)
					if perr != nil {
						return perr
					}
					qopts = append(qopts, client.WithFetchPolicy(policy))
				}
				res, err = app.Client.Query(cmd.Context(), op, qopts...)
			default:
				return fmt.Errorf("%s cannot run a %s operation", verb, op.Kind())
			}
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			printErrors(cmd.ErrOrStderr(), res.Errors)
			warnIfSignedOut(cmd.ErrOrStderr(), app)
			return nil
		},
	}
	flags.register(cmd)
	if verb == "query" {
		cmd.Flags().StringVar(&flags.policy, "fetch-policy", "", "cache-first, network-only, no-cache, ...")
	}
	return cmd
}

func newSubscribeCmd(opts *rootOptions) *cobra.Command {
	flags := &operationFlags{}
	var count int
	cmd := &cobra.Command{
		Use:   "subscribe <document|@file>",
		Short: "Stream subscription events until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := flags.parse(args[0])
			if err != nil {
				return err
			}
			app, err := openApp(opts)
			if err != nil {
				return err
			}
			defer app.Shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sub, err := app.Client.Subscribe(ctx, op)
			if err != nil {
				return err
			}
			defer sub.Close()
			return streamEvents(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), sub, count)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many events (0 streams forever)")
	return cmd
}

func streamEvents(ctx context.Context, out, errOut io.Writer, sub *client.Subscription, count int) error {
	seen := 0
	for res := range sub.Results() {
		if err := printResult(out, res); err != nil {
			return err
		}
		printErrors(errOut, res.Errors)
		seen++
		if count > 0 && seen >= count {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sub.Err()
}

func printResult(w io.Writer, res *client.Result) error {
	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

func printErrors(w io.Writer, errs gqlerror.List) {
	for _, e := range errs {
		errorColor.Fprint(w, "error: ")
		if len(e.Path) > 0 {
			fmt.Fprintf(w, "%s (at %s)\n", e.Message, e.Path.String())
			continue
		}
		fmt.Fprintln(w, e.Message)
	}
}

func warnIfSignedOut(w io.Writer, app *appctx.App) {
	if path, ok := app.Navigator.Take(); ok {
		warnColor.Fprintf(w, "session expired (login page: %s); run `gqlctl login <token>`\n", path)
	}
}
