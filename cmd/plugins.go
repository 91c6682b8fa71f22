package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentuity/go-common/env"
	"github.com/agentuity/go-common/tui"
	"github.com/spf13/cobra"

	"github.com/memflow/memflowup/internal/registry"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Args:  cobra.NoArgs,
	Short: "Manage locally installed registry plugins",
	Long: `Manage locally installed registry plugins.

These subcommands operate on plugins pulled from a registry, identified by
their sidecar metadata in the plugin directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var pluginsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	Short:   "List locally installed registry plugins",
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		systemWide, _ := cmd.Flags().GetBool("system")
		format, _ := cmd.Flags().GetString("format")

		paths := defaultPaths(logger)
		plugins, err := registry.LocalPlugins(logger, paths, systemWide)
		if err != nil {
			logger.Fatal("unable to scan the plugin directory: %s", err)
		}

		switch format {
		case "text":
			if len(plugins) == 0 {
				tui.ShowWarning("No registry plugins installed")
				return
			}
			for _, plugin := range plugins {
				renderVariant(plugin.Variant)
				fmt.Println("  " + tui.Muted(plugin.PluginFile))
			}
		case "json":
			json.NewEncoder(os.Stdout).Encode(plugins)
		default:
			logger.Fatal("invalid format: %s", format)
		}
	},
}

var pluginsRemoveCmd = &cobra.Command{
	Use:     "remove <plugin>",
	Aliases: []string{"rm", "delete"},
	Args:    cobra.ExactArgs(1),
	Short:   "Remove a locally installed registry plugin",
	Long: `Remove a locally installed registry plugin.

The plugin can be addressed by name, name:version, name:digest-prefix or
bare digest. Binary and metadata are removed together.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		systemWide, _ := cmd.Flags().GetBool("system")

		paths := defaultPaths(logger)
		plugin, err := registry.FindLocal(logger, paths, systemWide, args[0])
		if err != nil {
			printWarning("%s", err)
			os.Exit(1)
		}
		removed := registry.Remove(logger, plugin)
		for _, path := range removed {
			logger.Info("removed %s", path)
		}
		tui.ShowSuccess("removed %s %s", plugin.Variant.Descriptor.Name, plugin.Variant.Descriptor.Version)
	},
}

var pluginsCleanCmd = &cobra.Command{
	Use:   "clean",
	Args:  cobra.NoArgs,
	Short: "Remove orphaned and superseded plugin files",
	Long: `Remove orphaned and superseded plugin files.

Deletes binaries whose metadata is missing, unparsable or stale, then prunes
older versions so only the newest variant of each plugin remains.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		systemWide, _ := cmd.Flags().GetBool("system")

		paths := defaultPaths(logger)
		orphans, err := registry.RemoveOrphans(logger, paths, systemWide)
		if err != nil {
			logger.Fatal("unable to clean orphaned plugins: %s", err)
		}
		pruned, err := registry.Prune(logger, paths, systemWide)
		if err != nil {
			logger.Fatal("unable to prune old plugin versions: %s", err)
		}
		for _, path := range append(orphans, pruned...) {
			logger.Info("removed %s", path)
		}
		tui.ShowSuccess("cleaned %d file(s)", len(orphans)+len(pruned))
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsRemoveCmd)
	pluginsCmd.AddCommand(pluginsCleanCmd)
	pluginsCmd.PersistentFlags().BoolP("system", "s", false, "Operate on the system-wide plugin directory")
	pluginsListCmd.Flags().String("format", "text", "The format to output the listing in")
}
