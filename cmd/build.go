package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/agentuity/go-common/env"
	"github.com/spf13/cobra"

	"github.com/memflow/memflowup/internal/buildtool"
	"github.com/memflow/memflowup/internal/installer"
	"github.com/memflow/memflowup/internal/pkgindex"
)

var buildCmd = &cobra.Command{
	Use:   "build [repository]",
	Args:  cobra.MaximumNArgs(1),
	Short: "Build a plugin from a repository or local source tree",
	Long: `Build a plugin from a repository or local source tree.

With a repository URL the source is fetched at the given branch and built.
With --path the local tree is built in place and installed into the local
channel. Both require a working cargo toolchain.

Examples:
  memflowup build https://github.com/memflow/memflow-qemu --branch main
  memflowup build --path ~/src/memflow-qemu
  memflowup build --path . --system --no-copy`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		path, _ := cmd.Flags().GetString("path")
		branch, _ := cmd.Flags().GetString("branch")
		script, _ := cmd.Flags().GetString("script")
		unsafeCmds, _ := cmd.Flags().GetBool("unsafe")
		dev, _ := cmd.Flags().GetBool("dev")
		systemWide, _ := cmd.Flags().GetBool("system")
		noCopy, _ := cmd.Flags().GetBool("no-copy")

		if path == "" && len(args) == 0 {
			logger.Fatal("either a repository URL or --path is required")
		}
		if path != "" && len(args) > 0 {
			logger.Fatal("a repository URL and --path are mutually exclusive")
		}

		if err := buildtool.EnsureToolchain(logger); err != nil {
			logger.Fatal("%s", err)
		}

		inst, _ := newInstaller(logger)

		var (
			desc pkgindex.Descriptor
			ch   pkgindex.Channel
			opts installer.Options
		)
		if path != "" {
			abs, err := filepath.Abs(path)
			if err != nil {
				logger.Fatal("unable to resolve %s: %s", path, err)
			}
			desc = pkgindex.Descriptor{
				Name:              packageName(abs),
				Kind:              pkgindex.KindCorePlugin,
				RepoRootURL:       abs,
				InstallScriptPath: script,
				UnsafeCommands:    unsafeCmds,
			}
			ch = pkgindex.Local
			opts = installer.Options{IsLocal: true, NoCopy: noCopy, SystemWide: systemWide, Reinstall: true}
		} else {
			repo := args[0]
			desc = pkgindex.Descriptor{
				Name:              packageName(repo),
				Kind:              pkgindex.KindCorePlugin,
				RepoRootURL:       repo,
				StableBranch:      branch,
				DevBranch:         branch,
				InstallScriptPath: script,
				UnsafeCommands:    unsafeCmds,
			}
			ch = pkgindex.ChannelFromDev(dev)
			opts = installer.Options{FromSource: true, NoCopy: noCopy, SystemWide: systemWide, Reinstall: true}
		}

		artifacts, err := inst.InstallPackage(ctx, desc, ch, opts)
		if err != nil {
			printWarning("%s: %s", desc.Name, err)
			os.Exit(1)
		}
		for _, artifact := range artifacts {
			logger.Info("built %s", artifact)
		}
		printSuccess("built %s (%s)", desc.Name, channelSuffix(ch, systemWide))
	},
}

// packageName derives a package name from a repository URL or directory.
func packageName(repoOrPath string) string {
	base := filepath.Base(strings.TrimSuffix(repoOrPath, "/"))
	return strings.TrimSuffix(base, ".git")
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringP("path", "p", "", "Build a local source tree instead of a repository")
	buildCmd.Flags().StringP("branch", "b", "main", "The branch to build from")
	buildCmd.Flags().String("script", "", "Path to the install script inside the source tree")
	buildCmd.Flags().Bool("unsafe", false, "Allow the install script to run privileged setup steps")
	buildCmd.Flags().BoolP("dev", "d", false, "Record the build in the development channel")
	buildCmd.Flags().BoolP("system", "s", false, "Install system-wide instead of per-user")
	buildCmd.Flags().Bool("no-copy", false, "Build but only print artifact names, do not install")
}
