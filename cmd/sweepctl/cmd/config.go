package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/sweepwatch/pkg/auth"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML",
	Long: `Prints defaults, the config file and environment overrides merged into
one document. The API key is masked.`,
	RunE: runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use",
	Run: func(cmd *cobra.Command, args []string) {
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Println(used)
			return
		}
		fmt.Println("no config file found, using defaults and environment")
	},
}

var configTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a feed action token and its hash",
	Long: `Generates a random bearer token for the feed's /actions routes. Put the
printed hash under feed.token_hash in the config file and hand the token to
the renderer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := auth.GenerateToken()
		if err != nil {
			return err
		}
		hash, err := auth.HashToken(token)
		if err != nil {
			return err
		}
		fmt.Printf("token:      %s\n", token)
		fmt.Printf("token_hash: %s\n", hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configTokenCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	settings := effectiveSettings()

	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(settings)
}

func effectiveSettings() map[string]interface{} {
	settings := viper.AllSettings()
	settings["server_url"] = GetServerURL()
	settings["api_key"] = maskKey(GetAPIKey())
	settings["log_level"] = logLevel
	return settings
}

func maskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 4:
		return "****"
	default:
		return key[:2] + "****" + key[len(key)-2:]
	}
}
