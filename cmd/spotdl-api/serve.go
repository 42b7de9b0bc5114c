package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/spotdl-api/pkg/config"
	"github.com/psantana5/spotdl-api/pkg/logging"
)

var printConfig bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Long: `Start the HTTP API, the metrics server and the janitor.

Configuration is read from defaults, the optional --config file,
SPOTDL_* environment variables and flags, in increasing precedence.

Example:
  spotdl-api serve --port 8080 --root /data/downloads
  SPOTDL_CACHE_BACKEND=redis SPOTDL_CACHE_REDIS_ADDR=redis:6379 spotdl-api serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.Int("port", 0, "API server port")
	f.Int("metrics-port", 0, "metrics server port")
	f.String("binary", "", "path to the spotdl executable")
	f.String("cache-backend", "", "result cache backend: memory or redis")
	f.String("public-url", "", "base URL used in returned download links")
	f.String("api-key", "", "require this bearer token on API requests")
	f.Bool("tls", false, "serve HTTPS")
	f.BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")

	for key, flag := range map[string]string{
		"server.port":            "port",
		"metrics.port":           "metrics-port",
		"tool.binary":            "binary",
		"cache.backend":          "cache-backend",
		"server.public_base_url": "public-url",
		"auth.api_key":           "api-key",
		"tls.enabled":            "tls",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if printConfig {
		return writeYAML(cfg.Redacted())
	}

	logger, closeLog, err := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		JSON:      cfg.Log.JSON,
		File:      cfg.Log.File,
		Component: "spotdl-api",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	logger.Info("starting spotdl-api",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("storage_root", cfg.Storage.Root),
		zap.String("tool", cfg.Tool.Binary),
		zap.Duration("tool_timeout", cfg.Tool.Timeout),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Duration("cache_ttl", cfg.Cache.TTL))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return err
	}
	if err := a.run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func writeYAML(cfg config.Config) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}
