package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/attache-app/attache/internal/auth"
	"github.com/attache-app/attache/internal/config"
	"github.com/attache-app/attache/internal/engine"
	"github.com/attache-app/attache/internal/instrumentation"
	"github.com/attache-app/attache/internal/llm"
	"github.com/attache-app/attache/internal/logging"
	"github.com/attache-app/attache/internal/oauthflow"
	"github.com/attache-app/attache/internal/provider"
	"github.com/attache-app/attache/internal/provider/google"
	"github.com/attache-app/attache/internal/provider/msgraph"
	"github.com/attache-app/attache/internal/server"
	"github.com/attache-app/attache/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		httpAddr       string
		metricsAddr    string
		metricsEnabled bool
		storePath      string
		llmModel       string
		baseURL        string
		debugMode      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the attache API server",
		Long: `Start the HTTP API serving the mobile chat client: chat turns, provider
connect flow, direct action endpoints, and mail/calendar listings.

Configuration comes from environment variables; flags override them. Secrets
(IDENTITY_SECRET, LLM_API_KEY, and at least one provider OAuth client) are
required and have no flag equivalents.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()

			if cmd.Flags().Changed("http-addr") {
				cfg.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("store") {
				cfg.StorePath = storePath
			}
			if cmd.Flags().Changed("llm-model") {
				cfg.LLMModel = llmModel
			}
			if cmd.Flags().Changed("base-url") {
				cfg.BaseURL = baseURL
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debugMode
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg, metricsEnabled)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", config.DefaultHTTPAddr, "Listen address for the API server")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "Listen address for the Prometheus metrics server")
	cmd.Flags().BoolVar(&metricsEnabled, "metrics", true, "Serve Prometheus metrics on the metrics address")
	cmd.Flags().StringVar(&storePath, "store", config.DefaultStorePath, "SQLite database path ('memory' for an in-memory store)")
	cmd.Flags().StringVar(&llmModel, "llm-model", config.DefaultLLMModel, "Model name for chat completions")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Public base URL, used to derive OAuth redirect URLs")
	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	return cmd
}

func runServe(cfg config.Config, metricsEnabled bool) error {
	logger := logging.Setup(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	instrProvider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := instrProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	metrics := instrProvider.Metrics()
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close failed", logging.Err(err))
		}
	}()

	// Adapters refresh access tokens silently; persist the new credential so
	// the next call does not redo the refresh.
	persist := func(ctx context.Context, cred *provider.Credential) {
		uid := provider.UIDFromContext(ctx)
		if uid == "" {
			return
		}
		if err := st.SaveCredential(ctx, uid, cred); err != nil {
			logger.Warn("persisting refreshed credential failed",
				logging.Operation("serve.refresh"),
				logging.Provider(string(cred.Provider)),
				logging.UserHash(uid),
				logging.Err(err))
		}
	}

	clients := make(map[provider.Provider]provider.ActionClient)
	oauthConfigs := make(map[provider.Provider]*oauth2.Config)

	if cfg.Google.Configured() {
		gc := google.NewClient(cfg.Google.ClientID, cfg.Google.ClientSecret,
			cfg.Google.Scopes, cfg.UpstreamTimeout, google.RefreshFunc(persist))
		clients[provider.Google] = gc
		oauthConfigs[provider.Google] = withRedirect(gc.OAuthConfig(),
			redirectURL(cfg, cfg.Google.RedirectURL, provider.Google))
	}
	if cfg.Microsoft.Configured() {
		mc := msgraph.NewClient(cfg.Microsoft.ClientID, cfg.Microsoft.ClientSecret,
			cfg.Microsoft.Scopes, cfg.UpstreamTimeout, msgraph.RefreshFunc(persist))
		clients[provider.Microsoft] = mc
		oauthConfigs[provider.Microsoft] = withRedirect(mc.OAuthConfig(),
			redirectURL(cfg, cfg.Microsoft.RedirectURL, provider.Microsoft))
	}

	registry := provider.NewRegistry(clients)
	gateway := llm.NewGateway(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMBaseURL, cfg.UpstreamTimeout, logger)
	contexts := engine.NewContextBuilder(st, registry,
		cfg.ContextCacheTTL, cfg.ContextWindowDays, cfg.ContextMaxItems, logger)

	eng := engine.New(engine.Options{
		Store:    st,
		Registry: registry,
		Gateway:  gateway,
		Contexts: contexts,
		Logger:   logger,
		Recorder: instrumentation.NewEngineRecorder(metrics),
	})

	flow := oauthflow.New(oauthConfigs, st, cfg.OAuthStateTTL, logger)

	srv := server.New(server.Options{
		Addr:               cfg.HTTPAddr,
		Engine:             eng,
		Flow:               flow,
		Store:              st,
		Registry:           registry,
		Verifier:           auth.NewVerifier(cfg.IdentitySecret),
		Metrics:            metrics,
		Audit:              instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging),
		Logger:             logger,
		CalendarWindowDays: cfg.ContextWindowDays,
	})

	var metricsServer *server.MetricsServer
	if metricsEnabled && instrProvider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			Enabled:                 true,
			InstrumentationProvider: instrProvider,
		})
		if err != nil {
			return fmt.Errorf("initialize metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", logging.Err(err))
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	logger.Info("attache started",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("model", cfg.LLMModel),
		slog.Int("providers", len(clients)))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		return fmt.Errorf("api server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown failed", logging.Err(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", logging.Err(err))
		}
	}
	return nil
}

// openStore selects the persistence backend. "memory" (or empty) keeps
// everything in process, which loses credentials on restart; anything else
// is a sqlite path.
func openStore(cfg config.Config) (store.TokenStore, error) {
	if cfg.StorePath == "" || cfg.StorePath == "memory" {
		return store.NewMemoryStore(cfg.PendingActionTTL), nil
	}
	st, err := store.OpenSQLite(cfg.StorePath, cfg.PendingActionTTL)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.StorePath, err)
	}
	return st, nil
}

// withRedirect copies an adapter's oauth config and sets the redirect URL the
// consent flow needs.
func withRedirect(conf *oauth2.Config, redirect string) *oauth2.Config {
	c := *conf
	c.RedirectURL = redirect
	return &c
}

// redirectURL picks the configured redirect for a provider, deriving it from
// the public base URL when not set explicitly.
func redirectURL(cfg config.Config, explicit string, p provider.Provider) string {
	if explicit != "" {
		return explicit
	}
	if cfg.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(cfg.BaseURL, "/") + "/v1/oauth/" + string(p) + "/callback"
}
