// Package cli implements the catalogsync command line.
package cli

import (
	"context"

	"catalogsync/internal/config"
	"catalogsync/internal/logging"
	"catalogsync/internal/telemetry"

	"github.com/spf13/cobra"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

type options struct {
	configFile string
	logLevel   string

	cfg      *config.Config
	shutdown telemetry.Shutdown
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context, args []string) error {
	o := &options{}
	root := newRootCmd(o)
	root.SetArgs(args)
	defer o.close()
	return root.ExecuteContext(ctx)
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "catalogsync",
		Short: "Keep a product catalog in step with a spreadsheet",
		Long: `catalogsync mirrors the rows of a Google Sheets tab (or an .xlsx
workbook) into the products table, adding, updating and deleting records so
the store matches the sheet after every cycle.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: o.setup,
	}
	root.PersistentFlags().StringVar(&o.configFile, "config", "",
		"config file (default: ./catalogsync.yaml or ~/.config/catalogsync/catalogsync.yaml)")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "override log.level (trace, debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(o),
		newRunCmd(o),
		newPlanCmd(o),
		newTriggerCmd(),
		newRunsCmd(o),
		newMigrateCmd(o),
		newHashTokenCmd(),
	)
	return root
}

func (o *options) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		logger := logging.New(logging.Config{Level: o.logLevel, Format: "auto", Output: "stderr"})
		logging.SetDefault(logger)
		return nil
	}

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	o.cfg = cfg

	logger := logging.New(cfg.Log)
	logging.SetDefault(logger)
	ctx := logging.WithLogger(cmd.Context(), &logger)

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	o.shutdown = shutdown
	cmd.SetContext(ctx)

	if cfg.File != "" {
		logger.Debug().Str("file", cfg.File).Msg("config loaded")
	}
	return nil
}

func (o *options) close() {
	if o.shutdown == nil {
		return
	}
	if err := o.shutdown(context.Background()); err != nil {
		logging.Default().Warn().Err(err).Msg("telemetry shutdown")
	}
}
