package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/taskgate/internal/config"
	"github.com/jkaninda/taskgate/internal/executor"
	"github.com/jkaninda/taskgate/internal/gateway"
	"github.com/jkaninda/taskgate/internal/gateway/httpapi"
	"github.com/jkaninda/taskgate/internal/llm/openai"
	"github.com/jkaninda/taskgate/internal/observability"
	"github.com/jkaninda/taskgate/internal/ratelimit"
	"github.com/jkaninda/taskgate/internal/sandbox"
	"github.com/jkaninda/taskgate/internal/tools/fetch"
	"github.com/jkaninda/taskgate/internal/tools/file"
	"github.com/jkaninda/taskgate/internal/tools/query"
	"github.com/jkaninda/taskgate/internal/translator"
)

const shutdownGrace = 15 * time.Second

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `taskgate --config path` and `taskgate serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := loadConfig(goutils.Env("TASKGATE_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTP.ListenAddr = serveAddr
	}

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}

	root, err := sandbox.NewRoot(cfg.SandboxRoot, logger)
	if err != nil {
		return fmt.Errorf("initializing sandbox root: %w", err)
	}
	runner := sandbox.NewProcessRunner(root, sandbox.ProcessConfig{
		Timeout: cfg.Executor.Timeout(),
		Limits: sandbox.ResourceLimits{
			MaxCPUSeconds: cfg.Executor.MaxCPUSeconds,
			MaxMemoryMB:   cfg.Executor.MaxMemoryMB,
		},
	}, logger)

	var providerOpts []openai.Option
	if cfg.Provider.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(cfg.Provider.BaseURL))
	}
	provider := openai.NewClient(cfg.Provider.APIKey, cfg.Provider.Model, logger, providerOpts...)

	tr, err := translator.New(provider, translator.Config{
		CacheSize: cfg.Translator.CacheSize,
		MaxTokens: cfg.Translator.MaxTokens,
		Timeout:   cfg.Provider.Timeout(),
	}, logger)
	if err != nil {
		return err
	}
	ex := executor.New(tr, runner, logger)

	if m := obs.MetricsOrNil(); m != nil {
		tr.WithMetrics(m)
		ex.WithMetrics(m)
	}

	fileTool := file.New(root, file.Config{MaxFileSizeBytes: cfg.Tools.File.MaxFileSizeBytes}, logger)
	fetchTool := fetch.New(root, fetch.Config{
		MaxResponseBytes: cfg.Tools.Fetch.MaxResponseBytes,
		Timeout:          cfg.Tools.Fetch.Timeout(),
	}, logger)
	queryTool := query.New(root, query.Config{
		MaxRows: cfg.Tools.Query.MaxRows,
		Timeout: cfg.Tools.Query.Timeout(),
	}, logger)

	var limiter *ratelimit.Limiter
	if cfg.HTTP.RateLimit != nil {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.HTTP.RateLimit.PerMinute(),
			BurstSize:         cfg.HTTP.RateLimit.BurstSize(),
		})
	}

	gwCfg := httpapi.Config{
		ListenAddr: cfg.HTTP.Addr(),
		EnableDocs: cfg.HTTP.EnableDocs,
		APIKeys:    cfg.HTTP.APIKeys,
	}
	if obs != nil {
		gwCfg.HealthChecker = obs.Health
		obs.Health.AddSandboxRootCheck(root.Path())
		if obs.Metrics != nil {
			gwCfg.Metrics = obs.Metrics
			gwCfg.MetricsRegistry = obs.Metrics.Registry
			if cfg.Observability.Metrics != nil {
				gwCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
			}
		}
		if obs.Tracer != nil {
			gwCfg.Tracer = obs.Tracer.Tracer()
		}
	}

	var gw gateway.Gateway = httpapi.NewGateway(gwCfg, ex, fileTool, fetchTool, queryTool, limiter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("taskgate starting",
		slog.String("addr", cfg.HTTP.Addr()),
		slog.String("sandbox_root", root.Path()),
		slog.String("model", cfg.Provider.Model),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	obs.Shutdown(shutdownCtx)

	logger.Info("taskgate stopped")
	return nil
}

// loadConfig reads the config file when present, falling back to environment
// defaults when the default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == config.DefaultConfigPath() {
		return config.Default()
	}
	return config.Load(path)
}
