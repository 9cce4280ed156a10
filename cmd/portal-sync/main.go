// Command portal-sync runs the portal sync engine as a daemon: it keeps the
// configured entity families cached, applies push deltas, and serves health
// and Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/portal-sync/pkg/cache"
	"github.com/Sternrassler/portal-sync/pkg/config"
	"github.com/Sternrassler/portal-sync/pkg/domain"
	"github.com/Sternrassler/portal-sync/pkg/engine"
	"github.com/Sternrassler/portal-sync/pkg/logging"
	"github.com/Sternrassler/portal-sync/pkg/metrics"
	"github.com/Sternrassler/portal-sync/pkg/query"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := newRootCmd(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type flags struct {
	apiBaseURL  string
	pushMode    string
	families    string
	logLevel    string
	metricsAddr string
	params      []string
}

func newRootCmd(out io.Writer) *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:           "portal-sync",
		Short:         "Keeps a local cache of portal entities in sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVar(&f.apiBaseURL, "api-base-url", "", "API base URL (overrides PORTAL_API_BASE_URL)")
	root.PersistentFlags().StringVar(&f.pushMode, "push-mode", "", "websocket, sse or off (overrides PORTAL_PUSH_MODE)")
	root.PersistentFlags().StringVar(&f.families, "families", "", "Comma-separated families (overrides PORTAL_FAMILIES)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "Log level (overrides PORTAL_LOG_LEVEL)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync engine and serve /health, /ready and /metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return runSync(cmd.Context(), cfg)
		},
	}
	runCmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Listen address (overrides PORTAL_METRICS_ADDR)")

	fetchCmd := &cobra.Command{
		Use:   "fetch <family>",
		Short: "Fetch one family list and print its records as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return fetchOnce(cmd.Context(), cfg, args[0], f.params, out)
		},
	}
	fetchCmd.Flags().StringArrayVar(&f.params, "param", nil, "Query parameter key=value (repeatable)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(out, "portal-sync version %s\n", version)
		},
	}

	root.AddCommand(runCmd, fetchCmd, versionCmd)
	return root
}

// loadConfig reads PORTAL_* variables and applies explicitly set flags.
func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	set := cmd.Flags().Changed
	if set("api-base-url") {
		cfg.APIBaseURL = f.apiBaseURL
	}
	if set("push-mode") {
		cfg.PushMode = f.pushMode
	}
	if set("families") {
		cfg.Families = strings.Split(f.families, ",")
		for i := range cfg.Families {
			cfg.Families[i] = strings.TrimSpace(cfg.Families[i])
		}
	}
	if set("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if set("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	return cfg, cfg.Validate()
}

func newHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar, Timeout: 30 * time.Second}
}

func runSync(ctx context.Context, cfg config.Config) error {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithHTTPClient(newHTTPClient()),
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis, sharing validators")
		opts = append(opts, engine.WithValidators(cache.NewRedisStore(redisClient, cfg.ValidatorTTL)))
	}

	session, err := engine.New(cfg, opts...)
	if err != nil {
		return err
	}
	session.Start(ctx)
	defer session.Stop()

	unwatch := watchChanges(session, logger)
	defer unwatch()

	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMux(session),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving health and metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info().Msg("Shutting down")
	return srv.Shutdown(shutdownCtx)
}

// watchChanges logs every change to the unfiltered list of each family.
func watchChanges(session *engine.Session, logger zerolog.Logger) func() {
	var unsubscribes []func()
	for _, f := range session.Families() {
		unsubscribes = append(unsubscribes, session.Store().Subscribe(query.List(f, nil), func(e query.Entry, ok bool) {
			if !ok || e.List == nil {
				return
			}
			logger.Info().
				Str("family", f.String()).
				Int("items", len(e.List.Items)).
				Bool("stale", e.Invalidated).
				Msg("Cache updated")
		}))
	}
	return func() {
		for _, u := range unsubscribes {
			u()
		}
	}
}

func newMux(session *engine.Session) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(session))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler probes the API once, without retries.
func readyHandler(session *engine.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if _, err := session.Probe(ctx, "/health"); err != nil {
			http.Error(w, fmt.Sprintf("API not reachable: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func fetchOnce(ctx context.Context, cfg config.Config, familyName string, rawParams []string, out io.Writer) error {
	family, err := domain.ParseFamily(familyName)
	if err != nil {
		return err
	}
	params := make(map[string]string, len(rawParams))
	for _, p := range rawParams {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid --param %q, want key=value", p)
		}
		params[k] = v
	}

	cfg.PushMode = config.PushModeOff
	logger := logging.Setup(logging.Config{Level: logging.LogLevel(cfg.LogLevel), Output: os.Stderr})
	session, err := engine.New(cfg, engine.WithLogger(logger), engine.WithHTTPClient(newHTTPClient()))
	if err != nil {
		return err
	}
	defer session.Stop()

	result, err := session.FetchList(ctx, family, params)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	for _, rec := range result.Items {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
