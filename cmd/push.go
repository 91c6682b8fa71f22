package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentuity/go-common/env"
	"github.com/agentuity/go-common/tui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/memflow/memflowup/internal/registry"
)

var pushCmd = &cobra.Command{
	Use:   "push <file>",
	Args:  cobra.ExactArgs(1),
	Short: "Sign and publish a plugin to the registry",
	Long: `Sign and publish a plugin to the registry.

The file is signed with your private key and uploaded together with the
signature. Publishing requires an access token, either via --token or the
configured token.

Examples:
  memflowup push target/release/libmemflow_qemu.so
  memflowup push plugin.so --registry registry.example.io --priv-key ~/.memflow.pem`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			token = viper.GetString("token")
		}
		if token == "" {
			logger.Fatal("an access token is required, set one with `memflowup config set token <value>`")
		}

		privKey, _ := cmd.Flags().GetString("priv-key")
		if privKey == "" {
			privKey = viper.GetString("priv_key_file")
		}
		if privKey == "" {
			logger.Fatal("a signing key is required, set one with `memflowup config set priv_key_file <path>`")
		}
		gen, err := registry.NewGenerator(privKey)
		if err != nil {
			logger.Fatal("unable to load signing key %s: %s", privKey, err)
		}

		client := registryClient(logger, cmd)
		path := args[0]

		var uploadErr error
		showSpinner(logger, "Uploading "+path, func() {
			uploadErr = client.Upload(ctx, token, path, gen)
		})
		if uploadErr != nil {
			printWarning("%s", uploadErr)
			os.Exit(1)
		}
		tui.ShowSuccess("published %s", path)
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().String("registry", "", "The registry to push to (defaults to the configured registry)")
	pushCmd.Flags().String("token", "", "The registry access token")
	pushCmd.Flags().String("priv-key", "", "Path to a PEM signing key")
}
