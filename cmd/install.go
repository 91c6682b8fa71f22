package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentuity/go-common/env"
	"github.com/agentuity/go-common/logger"
	"github.com/agentuity/go-common/tui"
	"github.com/spf13/cobra"

	"github.com/memflow/memflowup/internal/buildtool"
	"github.com/memflow/memflowup/internal/installer"
	"github.com/memflow/memflowup/internal/pkgindex"
)

var installCmd = &cobra.Command{
	Use:     "install [packages...]",
	Aliases: []string{"add"},
	Short:   "Install memflow plugins",
	Long: `Install memflow plugins.

Packages come from the merged catalog (user fragments, upstream index,
builtin fallback). Without arguments an interactive picker is shown.

Examples:
  memflowup install memflow-win32 memflow-qemu
  memflowup install memflow-kvm --dev --from-source
  memflowup install memflow-coredump --system --reinstall`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		dev, _ := cmd.Flags().GetBool("dev")
		systemWide, _ := cmd.Flags().GetBool("system")
		reinstall, _ := cmd.Flags().GetBool("reinstall")
		fromSource, _ := cmd.Flags().GetBool("from-source")
		noCopy, _ := cmd.Flags().GetBool("no-copy")

		if fromSource {
			if err := buildtool.EnsureToolchain(logger); err != nil {
				logger.Fatal("%s", err)
			}
		}

		ch := pkgindex.ChannelFromDev(dev)
		opts := installer.Options{
			NoCopy:     noCopy,
			SystemWide: systemWide,
			Reinstall:  reinstall,
			FromSource: fromSource,
		}

		inst, paths := newInstaller(logger)
		descs := resolveIndex(logger, cmd, paths, systemWide)

		names := args
		if len(names) == 0 {
			names = pickPackages(logger, descs, ch, fromSource)
			if len(names) == 0 {
				tui.ShowWarning("nothing selected")
				return
			}
		}

		failures := inst.InstallBatch(ctx, descs, names, ch, opts)
		if reportFailures(failures) {
			os.Exit(1)
		}
		printSuccess("installed %d package(s) (%s)", len(names)-len(failures), channelSuffix(ch, systemWide))
	},
}

// pickPackages shows a multi-select over the packages installable in the
// requested channel and mode on this platform.
func pickPackages(logger logger.Logger, descs []pkgindex.Descriptor, ch pkgindex.Channel, fromSource bool) []string {
	var items []tui.Option
	for _, desc := range descs {
		if !desc.SupportedByPlatform() || !desc.SupportsInstallMode(ch, fromSource) {
			continue
		}
		items = append(items, tui.Option{
			Text: desc.Name + " (" + string(desc.Kind) + ")",
			ID:   desc.Name,
		})
	}
	if len(items) == 0 {
		return nil
	}
	return tui.MultiSelect(logger, "Select plugins to install", "Toggle selection by pressing the spacebar\nPress enter to confirm\n", items)
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().BoolP("dev", "d", false, "Install from the development channel")
	installCmd.Flags().BoolP("system", "s", false, "Install system-wide instead of per-user")
	installCmd.Flags().BoolP("reinstall", "r", false, "Reinstall even if the same version is already installed")
	installCmd.Flags().Bool("from-source", false, "Build from source instead of downloading a binary release")
	installCmd.Flags().Bool("no-copy", false, "Build but only print artifact names, do not install")
	addIndexFlags(installCmd)
}
