package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	tlsutil "github.com/psantana5/spotdl-api/pkg/tls"
)

const defaultServerURL = "http://localhost:8080"

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	apiKey       string
	caFile       string
	insecure     bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "spotctl",
	Short: "CLI for the spotdl API",
	Long: `spotctl submits download jobs to a spotdl-api server, follows their
progress and fetches the results.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.spotctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API server URL (default from config or "+defaultServerURL+")")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "bearer token for the API")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca-file", "", "CA certificate to trust for https servers")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		path, err := homedir.Expand(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error expanding config path: %v\n", err)
			os.Exit(1)
		}
		viper.SetConfigFile(path)
	} else if home, err := homedir.Dir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".spotctl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SPOTCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// a missing default config file is fine
	_ = viper.ReadInConfig()

	if serverURL == "" {
		serverURL = viper.GetString("server")
	}
	if apiKey == "" {
		apiKey = viper.GetString("api-key")
	}
	if caFile == "" {
		caFile = viper.GetString("ca-file")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// CreateAuthenticatedRequest creates an HTTP request with authentication header if API key is configured
func CreateAuthenticatedRequest(method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// GetHTTPClient returns a client honouring --ca-file and --insecure.
// Synchronous link requests run the download inline, so the timeout is
// generous.
func GetHTTPClient() (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if strings.HasPrefix(GetServerURL(), "https://") {
		tlsCfg, err := tlsutil.ClientConfig(caFile, insecure)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
	}
	return &http.Client{Transport: transport, Timeout: 10 * time.Minute}, nil
}
