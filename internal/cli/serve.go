package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/repolens/internal/api"
	"github.com/sprite-ai/repolens/internal/auth"
	"github.com/sprite-ai/repolens/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the repolens web API.

Endpoints:
  GET  /health                              Health check
  GET  /auth/{provider}/login               Start GitHub or Bitbucket sign-in
  GET  /api/repos                           Repositories of the signed-in user
  GET  /api/repos/{owner}/{repo}/tree       File tree of a branch
  POST /api/repos/{owner}/{repo}/review     Request a file or project review
  POST /api/local/review                    Review uploaded files as a guest
  GET  /api/ws                              WebSocket for interactive review sessions`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "address to listen on (overrides config)")
	serveCmd.Flags().Duration("sweep", 10*time.Minute, "interval for dropping expired login sessions")
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Listen = addr
	}
	sweep, _ := cmd.Flags().GetDuration("sweep")

	apiLog := logging.Component(log, "api")
	mgr := auth.NewManager(auth.Options{
		BaseURL:   cfg.BaseURL,
		GitHub:    cfg.GitHub,
		Bitbucket: cfg.Bitbucket,
		Session:   cfg.Session,
	})
	srv := api.New(api.Options{
		Config:  cfg,
		Auth:    mgr,
		Reviews: newReviews(),
		Hosts:   hostOptions(),
		Logger:  apiLog,
	})

	ctx := cmd.Context()
	go sweepSessions(ctx, mgr, sweep)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	apiLog.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sweepSessions(ctx context.Context, mgr *auth.Manager, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := mgr.Sweep(); n > 0 {
				log.Debug().Int("expired", n).Int("active", mgr.Active()).Msg("swept login sessions")
			}
		}
	}
}
