package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/agentuity/go-common/env"
	"github.com/agentuity/go-common/tui"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/memflow/memflowup/internal/buildtool"
	"github.com/memflow/memflowup/internal/installer"
	"github.com/memflow/memflowup/internal/pkgindex"
)

var interactiveCmd = &cobra.Command{
	Use:     "interactive",
	Aliases: []string{"i"},
	Args:    cobra.NoArgs,
	Short:   "Guided plugin installation",
	Long: `Guided plugin installation.

Walks through channel, scope and package selection and then installs the
chosen plugins.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		channel := tui.Select(logger, "Which channel do you want to install from?", "", []tui.Option{
			{Text: "Stable (binary releases)", ID: "stable", Selected: true},
			{Text: "Development (latest changes)", ID: "dev"},
		})
		ch := pkgindex.ChannelFromDev(channel == "dev")

		fromSource := false
		if err := huh.NewConfirm().
			Title("Build from source?").
			Description("Requires a working cargo toolchain.").
			Value(&fromSource).
			WithTheme(theme).Run(); err != nil {
			logger.Fatal("%s", err)
		}

		if fromSource {
			if err := buildtool.EnsureToolchain(logger); err != nil {
				install := false
				if err := huh.NewConfirm().
					Title("cargo was not found. Install Rust via rustup now?").
					Description("Source builds need the Rust toolchain.").
					Value(&install).
					WithTheme(theme).Run(); err != nil {
					logger.Fatal("%s", err)
				}
				if !install {
					logger.Fatal("a Rust toolchain is required to build from source")
				}
				if err := buildtool.InstallToolchain(ctx, logger); err != nil {
					logger.Fatal("%s", err)
				}
				if err := buildtool.EnsureToolchain(logger); err != nil {
					logger.Fatal("%s", err)
				}
			}
		}

		systemWide := false
		if err := huh.NewConfirm().
			Title("Install system-wide?").
			Description("System-wide installs may prompt for elevation.").
			Value(&systemWide).
			WithTheme(theme).Run(); err != nil {
			logger.Fatal("%s", err)
		}

		inst, paths := newInstaller(logger)
		descs := resolveIndex(logger, cmd, paths, systemWide)

		names := pickPackages(logger, descs, ch, fromSource)
		if len(names) == 0 {
			tui.ShowWarning("nothing selected")
			return
		}

		if !tui.Ask(logger, "Install "+strings.Join(names, ", ")+"?", true) {
			return
		}

		opts := installer.Options{
			SystemWide: systemWide,
			FromSource: fromSource,
		}
		failures := inst.InstallBatch(ctx, descs, names, ch, opts)
		if reportFailures(failures) {
			os.Exit(1)
		}
		printSuccess("installed %d package(s) (%s)", len(names)-len(failures), channelSuffix(ch, systemWide))
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
	addIndexFlags(interactiveCmd)
}
