package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/agentuity/go-common/env"
	cstr "github.com/agentuity/go-common/string"
	"github.com/agentuity/go-common/tui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/memflow/memflowup/internal/registry"
)

// configKeys is the fixed set of supported configuration keys.
var configKeys = map[string]string{
	"registry":      "The default plugin registry",
	"token":         "The registry access token",
	"pub_key_file":  "Path to the PEM verifying key used by pull",
	"priv_key_file": "Path to the PEM signing key used by push",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Args:  cobra.NoArgs,
	Short: "Manage memflowup configuration",
	Long: `Manage memflowup configuration.

Supported keys: registry, token, pub_key_file, priv_key_file.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Args:  cobra.MaximumNArgs(1),
	Short: "Show configuration values",
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		if len(args) == 1 {
			key := args[0]
			if _, ok := configKeys[key]; !ok {
				logger.Fatal("unknown configuration key: %s", key)
			}
			fmt.Println(renderConfigValue(key))
			return
		}
		keys := make([]string, 0, len(configKeys))
		for key := range configKeys {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Println(tui.Title(key) + " " + tui.Muted(configKeys[key]))
			fmt.Println("  " + renderConfigValue(key))
		}
	},
}

// renderConfigValue masks the token so it never lands in terminal scrollback.
func renderConfigValue(key string) string {
	val := viper.GetString(key)
	if val == "" {
		return tui.Muted("(unset)")
	}
	if key == "token" {
		return cstr.Mask(val)
	}
	return val
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Args:  cobra.ExactArgs(2),
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Key files are validated before being persisted: pub_key_file must parse as a
PEM verifying key, priv_key_file as a PEM signing key.

Examples:
  memflowup config set registry registry.example.io
  memflowup config set priv_key_file ~/.memflow/signing.pem`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		key, value := args[0], args[1]
		if _, ok := configKeys[key]; !ok {
			logger.Fatal("unknown configuration key: %s", key)
		}

		switch key {
		case "pub_key_file":
			if _, err := registry.NewVerifier(value); err != nil {
				logger.Fatal("%s is not a usable verifying key: %s", value, err)
			}
		case "priv_key_file":
			if _, err := registry.NewGenerator(value); err != nil {
				logger.Fatal("%s is not a usable signing key: %s", value, err)
			}
		}

		viper.Set(key, value)
		if err := viper.WriteConfig(); err != nil {
			logger.Fatal("unable to write config: %s", err)
		}
		printSuccess("%s set", key)
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Args:  cobra.ExactArgs(1),
	Short: "Remove a configuration value",
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		key := args[0]
		if _, ok := configKeys[key]; !ok {
			logger.Fatal("unknown configuration key: %s", key)
		}

		// viper has no delete; rewrite the settings without the key
		settings := viper.AllSettings()
		delete(settings, key)
		if err := os.Remove(cfgFile); err != nil && !os.IsNotExist(err) {
			logger.Fatal("unable to rewrite config: %s", err)
		}
		viper.Reset()
		viper.SetConfigFile(cfgFile)
		for k, v := range settings {
			viper.Set(k, v)
		}
		if err := viper.WriteConfig(); err != nil {
			logger.Fatal("unable to write config: %s", err)
		}
		printSuccess("%s unset", key)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
