package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pipedesk/dealscore/internal/engine"
	httpiface "github.com/pipedesk/dealscore/internal/interfaces/http"
	"github.com/pipedesk/dealscore/internal/notify"
	"github.com/pipedesk/dealscore/internal/pipeline"
)

func serveCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scoring API server",
		Long:  "Serves the score, ledger and aggregate read endpoints, the lifecycle\ncommand endpoints and the websocket score stream. Sweeps stay external;\nschedule `dealscore sweep` from cron.",
		RunE: func(cmd *cobra.Command, args []string) error {
			hub := httpiface.NewStreamHub()

			opts := []engine.Option{engine.WithSink(hub)}
			notifier := notify.NewWebhookNotifier(os.Getenv("WEBHOOK_URL"))
			if notifier.Enabled() {
				opts = append(opts, engine.WithSink(notifier))
				log.Info().Msg("Score webhook notifier enabled")
			}

			rt, err := buildRuntime(opts...)
			if err != nil {
				return err
			}
			defer rt.Close()

			aggregator := pipeline.NewAggregator(rt.manager.Repository().Deals, rt.cache)
			handlers := httpiface.NewHandlers(rt.engine, aggregator, rt.manager.Health(), rt.cache)

			server, err := httpiface.NewServer(httpiface.DefaultServerConfig(), handlers, hub)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	return cmd
}
