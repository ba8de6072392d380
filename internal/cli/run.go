package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"catalogsync/internal/syncer"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

func newRunCmd(o *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync cycle and print its stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, o.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := a.newScheduler(ctx, false)
			if err != nil {
				return err
			}
			res, err := sched.RunOnce(ctx, syncer.TriggerCLI)
			if err != nil {
				return err
			}
			// flush the run history before exiting
			sched.Background().Wait()

			if err := render(cmd.OutOrStdout(), output, res.Stats); err != nil {
				return err
			}
			if res.Err != nil {
				return res.Err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func newPlanCmd(o *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what the next cycle would add, update and delete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, o.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.newSyncer(ctx)
			if err != nil {
				return err
			}
			preview, err := s.Plan(ctx)
			if err != nil {
				return err
			}
			if output == "text" {
				return renderPlan(cmd.OutOrStdout(), preview)
			}
			return render(cmd.OutOrStdout(), output, preview)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func render(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func renderPlan(w io.Writer, p *syncer.Preview) error {
	fmt.Fprintf(w, "sheet %q: %d to add, %d to update, %d to delete\n",
		p.Sheet, len(p.Plan.ToAdd), len(p.Plan.ToUpdate), len(p.Plan.ToDelete))
	for _, rec := range p.Plan.ToAdd {
		fmt.Fprintf(w, "  + %s (qty %d, price %s)\n", rec.Name, rec.Quantity, rec.Price.StringFixed(2))
	}
	for _, u := range p.Plan.ToUpdate {
		fmt.Fprintf(w, "  ~ %s [%s]\n", u.Record.Name, u.ID)
	}
	for _, id := range p.Plan.ToDelete {
		fmt.Fprintf(w, "  - %s\n", id)
	}
	for _, msg := range p.Skipped {
		fmt.Fprintf(w, "  ! %s\n", msg)
	}
	return nil
}
