package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"catalogsync/internal/clients"
	"catalogsync/internal/httpapi"
	"catalogsync/internal/logging"
	"catalogsync/internal/runlog"

	"github.com/spf13/cobra"
)

func newTriggerCmd() *cobra.Command {
	var (
		url     string
		token   string
		timeout time.Duration
		output  string
	)
	cmd := &cobra.Command{
		Use:         "trigger",
		Short:       "Ask a running server to sync now",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("CATALOGSYNC_TRIGGER_TOKEN")
			}
			res, err := clients.NewSyncClient(url, token, timeout).Trigger(cmd.Context())
			if err != nil {
				return err
			}
			if err := render(cmd.OutOrStdout(), output, res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New("sync cycle failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&token, "token", "", "trigger token (default $CATALOGSYNC_TRIGGER_TOKEN)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait for the cycle")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func newRunsCmd(o *options) *cobra.Command {
	var (
		limit  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, o.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.journal == nil {
				return errors.New("run history is disabled (history.enabled=false)")
			}

			runs, err := a.journal.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if output != "table" {
				return render(cmd.OutOrStdout(), output, runs)
			}
			return renderRuns(cmd, runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", runlog.DefaultLimit, "number of runs to show")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func renderRuns(cmd *cobra.Command, runs []runlog.Run) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTRIGGER\tSTATUS\tADDED\tUPDATED\tDELETED\tERRORS\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Trigger, r.Status,
			r.Added, r.Updated, r.Deleted, len(r.Errors),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return tw.Flush()
}

func newMigrateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the catalog and run history tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, o.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.migrate(ctx); err != nil {
				return err
			}
			logging.FromContext(ctx).Info().Str("table", o.cfg.Store.Table).Msg("schema ready")
			return nil
		},
	}
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "hash-token <token>",
		Short:       "Print the http.token_hash and http.token_salt for a trigger token",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, salt, err := httpapi.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "http:\n  token_hash: %s\n  token_salt: %s\n", hash, salt)
			return nil
		},
	}
}
