package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Client configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective client configuration",
	Long: `Print the settings spotctl resolved from flags, SPOTCTL_* environment
variables and the config file. The API key is masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configShowFormat string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configShowCmd.Flags().StringVarP(&configShowFormat, "format", "f", "yaml", "output format: yaml or json")
}

type clientConfig struct {
	Server     string `json:"server" yaml:"server"`
	APIKey     string `json:"api-key,omitempty" yaml:"api-key,omitempty"`
	CAFile     string `json:"ca-file,omitempty" yaml:"ca-file,omitempty"`
	Insecure   bool   `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	Output     string `json:"output" yaml:"output"`
	ConfigFile string `json:"config-file,omitempty" yaml:"config-file,omitempty"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg := clientConfig{
		Server:     GetServerURL(),
		CAFile:     caFile,
		Insecure:   insecure,
		Output:     outputFormat,
		ConfigFile: viper.ConfigFileUsed(),
	}
	if apiKey != "" {
		cfg.APIKey = "***"
	}

	out := cmd.OutOrStdout()
	switch configShowFormat {
	case "json":
		return printJSON(out, cfg)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unknown format %q", configShowFormat)
	}
}
