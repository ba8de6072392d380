package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"catalogsync/internal/httpapi"
	"catalogsync/internal/logging"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
)

func newServeCmd(o *options) *cobra.Command {
	var noHTTP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync scheduler and the HTTP trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			a, err := openApp(ctx, o.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := a.newScheduler(ctx, o.cfg.Sync.RunOnStart)
			if err != nil {
				return err
			}

			p := pool.New().WithContext(ctx).WithCancelOnError()
			p.Go(sched.Run)
			if !noHTTP {
				srv := httpapi.NewServer(o.cfg.HTTP,
					httpapi.NewHandler(sched, a.runs(), o.cfg.HTTP), o.cfg.Sync.CycleTimeout)
				srv.BaseContext = func(net.Listener) context.Context {
					return context.WithoutCancel(ctx)
				}
				p.Go(func(ctx context.Context) error {
					return listen(ctx, srv)
				})
				log.Info().Str("addr", o.cfg.HTTP.Addr).Msg("http trigger listening")
			}
			return p.Wait()
		},
	}
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "run the scheduler without the HTTP trigger")
	return cmd
}

// listen serves until ctx is done, then shuts the server down gracefully.
func listen(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}
