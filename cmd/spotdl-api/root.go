package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/spotdl-api/pkg/config"
)

// Set at build time with -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "unknown"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "spotdl-api",
	Short:         "HTTP service for asynchronous spotdl downloads",
	Long:          `spotdl-api wraps the spotdl command-line tool behind an HTTP API with background jobs, a result cache and periodic cleanup of temporary files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("root", "", "storage root for downloads and cache")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = v.BindPFlag("storage.root", rootCmd.PersistentFlags().Lookup("root"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func loadConfig() (*config.Config, error) {
	return config.Load(v, cfgFile)
}
