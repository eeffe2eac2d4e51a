package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/togglehq/gatehouse/admin"
	"github.com/togglehq/gatehouse/api"
	"github.com/togglehq/gatehouse/internal/config"
	"github.com/togglehq/gatehouse/session"
	"github.com/togglehq/gatehouse/token"
)

var (
	dataDir      string
	serverListen *listenOptions
)

type listenOptions struct {
	addr    string
	tlsCert string
	tlsKey  string
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the dashboard API and SDK endpoints",
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

		resolver, err := admin.NewResolver(cfg, admin.WithLogger(logger))
		if err != nil {
			return err
		}

		limiter, closeLimiter := newLimiter(ctx, cfg, logger)
		defer closeLimiter()

		sessions, err := session.New(cfg, resolver, limiter, session.WithLogger(logger))
		if err != nil {
			return err
		}

		repo, err := openRepository(ctx, cfg, dataDir, logger)
		if err != nil {
			return err
		}
		defer repo.Close()

		proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return &config.Error{Key: config.EnvTrustedProxies, Msg: err.Error()}
		}

		a := api.New(sessions, token.NewService(repo, token.WithLogger(logger)), resolver,
			api.WithLogger(logger),
			api.WithTrustedProxies(proxies),
			api.WithAllowedOrigins(cfg.AllowedOrigins),
			api.WithSecureCookies(cfg.Production),
			api.WithAuditWebhook(cfg.AuditWebhookURL, cfg.AuditWebhookAuth),
			api.WithAlertFunc(func(e api.AlertEvent) {
				logger.Warn("security alert",
					"type", string(e.Type),
					"message", e.Message,
					"count", e.Count,
					"threshold", e.Threshold)
			}),
		)
		defer a.Close()

		printBanner(cmd.ErrOrStderr(), "Dashboard API")
		return serve(ctx, logger, newServerRouter(a), serverListen)
	},
}

// newServerRouter mounts the dashboard API under /api/v1 and the SDK routes
// under /sdk, the same paths the edge relays verbatim.
func newServerRouter(a *api.API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Mount("/api/v1", a.Router())
	r.Mount("/sdk", a.SDKRouter())
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

// serve runs handler until ctx is cancelled, then drains in-flight
// requests. Without a certificate it speaks HTTP/1.1 and cleartext HTTP/2.
func serve(ctx context.Context, logger *slog.Logger, handler http.Handler, opts *listenOptions) error {
	server := &http.Server{
		Addr:              opts.addr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	useTLS := opts.tlsCert != "" && opts.tlsKey != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(opts.tlsCert, opts.tlsKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		server.Handler = handler
	} else {
		server.Handler = h2c.NewHandler(handler, &http2.Server{})
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()
	logger.Info("listening", "addr", opts.addr, "tls", useTLS)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

func addListenFlags(cmd *cobra.Command, defaultAddr string) *listenOptions {
	opts := &listenOptions{}
	cmd.Flags().StringVar(&opts.addr, "addr", defaultAddr, "Address to listen on")
	cmd.Flags().StringVar(&opts.tlsCert, "tls-cert", "", "Path to TLS certificate file")
	cmd.Flags().StringVar(&opts.tlsKey, "tls-key", "", "Path to TLS key file")
	return opts
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverListen = addListenFlags(serverCmd, ":8080")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for the embedded token store when DATABASE_URL is unset")
}
