package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentuity/go-common/env"
	"github.com/agentuity/go-common/tui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/memflow/memflowup/internal/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Args:  cobra.NoArgs,
	Short: "Inspect and manage a plugin registry",
	Long: `Inspect and manage a plugin registry.

Use the subcommands to list published plugins and remove published variants.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var registryListCmd = &cobra.Command{
	Use:     "list [plugin]",
	Aliases: []string{"ls"},
	Args:    cobra.MaximumNArgs(1),
	Short:   "List plugins published in the registry",
	Long: `List plugins published in the registry.

Without arguments the plugin names are listed. With a plugin name its
published variants for this platform are shown, newest first.

Examples:
  memflowup registry list
  memflowup registry list memflow-win32
  memflowup registry list memflow-win32 --limit 5 --format json`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		client := registryClient(logger, cmd)
		format, _ := cmd.Flags().GetString("format")

		if len(args) == 0 {
			plugins, err := client.Plugins(ctx)
			if err != nil {
				logger.Fatal("unable to list registry plugins: %s", err)
			}
			switch format {
			case "text":
				if len(plugins) == 0 {
					tui.ShowWarning("The registry has no plugins")
					return
				}
				for _, plugin := range plugins {
					fmt.Println(tui.Title(plugin.Name))
					if plugin.Description != "" {
						fmt.Println("  " + tui.Muted(plugin.Description))
					}
				}
			case "json":
				json.NewEncoder(os.Stdout).Encode(plugins)
			default:
				logger.Fatal("invalid format: %s", format)
			}
			return
		}

		limit, _ := cmd.Flags().GetInt("limit")
		variants, err := client.Versions(ctx, args[0], limit)
		if err != nil {
			logger.Fatal("unable to list versions of %s: %s", args[0], err)
		}
		switch format {
		case "text":
			if len(variants) == 0 {
				tui.ShowWarning("No variants of %s for this platform", args[0])
				return
			}
			for _, variant := range variants {
				renderVariant(variant)
			}
		case "json":
			json.NewEncoder(os.Stdout).Encode(variants)
		default:
			logger.Fatal("invalid format: %s", format)
		}
	},
}

func renderVariant(variant registry.Variant) {
	desc := variant.Descriptor
	fmt.Println(tui.Title(desc.Name+" "+desc.Version) + " " + tui.Muted("("+maxString(variant.Digest, 12)+")"))
	fmt.Println("  " + tui.Text(fmt.Sprintf("%s/%s abi %d, published %s",
		desc.FileType, desc.Architecture, desc.PluginVersion, variant.CreatedAt.Format("2006-01-02 15:04"))))
}

var registryRemoveCmd = &cobra.Command{
	Use:     "remove <digest>",
	Aliases: []string{"rm", "delete"},
	Args:    cobra.ExactArgs(1),
	Short:   "Remove a published plugin variant",
	Long: `Remove a published plugin variant by its digest.

Removal requires an access token with publish rights for the plugin.`,
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

		client := registryClient(logger, cmd)
		if err := client.Delete(ctx, token, args[0]); err != nil {
			printWarning("%s", err)
			os.Exit(1)
		}
		tui.ShowSuccess("removed %s from the registry", args[0])
	},
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryListCmd)
	registryCmd.AddCommand(registryRemoveCmd)
	registryCmd.PersistentFlags().String("registry", "", "The registry to talk to (defaults to the configured registry)")
	registryListCmd.Flags().Int("limit", 10, "Maximum number of variants to list")
	registryListCmd.Flags().String("format", "text", "The format to output the listing in")
	registryRemoveCmd.Flags().String("token", "", "The registry access token")
}
