package cmd

import (
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/togglehq/gatehouse/gateway"
	"github.com/togglehq/gatehouse/internal/config"
	"github.com/togglehq/gatehouse/web"
)

var edgeListen *listenOptions

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Serve the dashboard and relay API and SDK traffic upstream",
	Long: `The edge serves the dashboard build and forwards /api/* and /sdk/* to the
process named by ` + config.EnvUpstreamURL + `. The variable is read on every request,
so it may be set after start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(os.Stderr)
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dist, err := web.Dist()
		if err != nil {
			return err
		}
		handler, err := newEdgeRouter(gateway.New(
			gateway.WithUpstream(config.UpstreamURL(config.OSEnv())),
			gateway.WithMaxBodyBytes(cfg.ProxyMaxBodyBytes),
			gateway.WithTimeout(cfg.ProxyTimeout),
			gateway.WithLogger(logger),
		), dist)
		if err != nil {
			return err
		}
		if os.Getenv(config.EnvUpstreamURL) == "" {
			logger.Warn("upstream not configured, relayed requests will fail until it is set", "env", config.EnvUpstreamURL)
		}

		printBanner(cmd.ErrOrStderr(), "Edge")
		return serve(ctx, logger, handler, edgeListen)
	},
}

// newEdgeRouter routes /api/* and /sdk/* to relay and everything else to
// the dashboard build in dist.
func newEdgeRouter(relay http.Handler, dist fs.FS) (http.Handler, error) {
	spa, err := web.Handler(dist, web.Nonce)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Handle("/api/*", relay)
	r.Handle("/sdk/*", relay)
	r.With(web.ContentSecurityPolicy).Handle("/*", spa)
	return r, nil
}

func init() {
	rootCmd.AddCommand(edgeCmd)
	edgeListen = addListenFlags(edgeCmd, ":3000")
}
