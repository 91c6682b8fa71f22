package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentuity/go-common/env"
	"github.com/spf13/cobra"

	"github.com/memflow/memflowup/internal/installer"
	"github.com/memflow/memflowup/internal/pkgindex"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Args:  cobra.NoArgs,
	Short: "Update all installed plugins",
	Long: `Update all installed plugins.

Every package recorded in the installation database is re-resolved against
its channel and reinstalled when the upstream version changed. Unchanged
packages are skipped. Locally built packages are left alone; rebuild those
with 'memflowup build'.

Examples:
  memflowup update
  memflowup update --dev --system`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		dev, _ := cmd.Flags().GetBool("dev")
		systemWide, _ := cmd.Flags().GetBool("system")

		ch := pkgindex.ChannelFromDev(dev)
		inst, paths := newInstaller(logger)
		descs := resolveIndex(logger, cmd, paths, systemWide)

		failures := inst.Update(ctx, descs, ch, installer.Options{SystemWide: systemWide})
		if reportFailures(failures) {
			os.Exit(1)
		}
		printSuccess("all packages up to date (%s)", channelSuffix(ch, systemWide))
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().BoolP("dev", "d", false, "Update the development channel")
	updateCmd.Flags().BoolP("system", "s", false, "Update the system-wide installation")
	addIndexFlags(updateCmd)
}
