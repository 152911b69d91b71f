package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is stamped at build time
var version = "dev"

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	apiKey       string
	logLevel     string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sweepctl",
	Short: "Watch and control a remote node-check job",
	Long: `sweepctl follows a long-running node-check job on a remote server. It
polls the status and log endpoints, reconciles them into a single progress
view with an ETA, and can start or stop a run.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sweepctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "job server URL (default from config or http://localhost:8199)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key sent as X-API-Key (default from config or SWEEP_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	setDefaults()
}

func setDefaults() {
	viper.SetDefault("server_url", "http://localhost:8199")
	viper.SetDefault("location", "Local")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("log_file", "")
	viper.SetDefault("poll.status_fast", "800ms")
	viper.SetDefault("poll.status_slow", "3s")
	viper.SetDefault("poll.log_fast", "1s")
	viper.SetDefault("poll.log_slow", "3s")
	viper.SetDefault("log_capacity", 1000)
	viper.SetDefault("failure_window", "10s")
	viper.SetDefault("request_timeout", "15s")
	viper.SetDefault("confirm_timeout", "10m")
	viper.SetDefault("confirm_interval", "600ms")
	viper.SetDefault("freshness", "5s")
	viper.SetDefault("eta.low_progress_percent", 15.0)
	viper.SetDefault("eta.base_weight", 0.3)
	viper.SetDefault("eta.window", "60s")
	viper.SetDefault("tls.ca_file", "")
	viper.SetDefault("tls.cert_file", "")
	viper.SetDefault("tls.key_file", "")
	viper.SetDefault("tls.insecure_skip_verify", false)
	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("feed.listen", "")
	viper.SetDefault("feed.token_hash", "")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".sweepctl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SWEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.BindEnv("api_key", "SWEEP_API_KEY")
	viper.BindEnv("server_url", "SWEEP_SERVER_URL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}

	// Flags win over config and environment
	if serverURL == "" {
		serverURL = viper.GetString("server_url")
	}
	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if logLevel == "" {
		logLevel = viper.GetString("log_level")
	}
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// GetAPIKey returns the configured API key
func GetAPIKey() string {
	return apiKey
}
