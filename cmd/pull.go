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
	"github.com/spf13/viper"

	"github.com/memflow/memflowup/internal/merr"
	"github.com/memflow/memflowup/internal/platform"
	"github.com/memflow/memflowup/internal/registry"
	"github.com/memflow/memflowup/internal/util"
)

var pullCmd = &cobra.Command{
	Use:   "pull [plugins...]",
	Short: "Download signed plugins from the registry",
	Long: `Download signed plugins from the registry.

Plugins are addressed as [registry/]name[:version]; the version defaults to
latest. A plugin already present with a matching digest is skipped unless
--force is given. Signatures are verified before anything touches disk.

Examples:
  memflowup pull memflow-win32
  memflowup pull memflow-qemu:0.2.0 --system
  memflowup pull --all --registry registry.example.io`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		all, _ := cmd.Flags().GetBool("all")
		force, _ := cmd.Flags().GetBool("force")
		systemWide, _ := cmd.Flags().GetBool("system")

		if !all && len(args) == 0 {
			logger.Fatal("at least one plugin is required (or --all)")
		}

		client := registryClient(logger, cmd)
		verifier := pullVerifier(logger, cmd)
		paths := defaultPaths(logger)
		writer := platform.NewWriter(logger)

		uris := args
		if all {
			plugins, err := client.Plugins(ctx)
			if err != nil {
				logger.Fatal("unable to list registry plugins: %s", err)
			}
			uris = nil
			for _, plugin := range plugins {
				uris = append(uris, plugin.Name)
			}
		}

		var failed int
		for _, uriStr := range uris {
			if err := pullOne(ctx, logger, client, verifier, paths, writer, uriStr, systemWide, force); err != nil {
				printWarning("%s: %s: %s", uriStr, merr.Classify(err), err)
				failed++
			}
		}
		if failed > 0 {
			os.Exit(1)
		}
		printSuccess("pulled %d plugin(s)", len(uris))
	},
}

// pullOne fetches and installs a single plugin variant. The signature gate
// sits before the first filesystem write: a bad signature leaves no file and
// no metadata behind.
func pullOne(ctx context.Context, log logger.Logger, client *registry.Client, verifier *registry.Verifier,
	paths platform.Paths, writer platform.PrivilegedWriter, uriStr string, systemWide, force bool) error {

	uri, err := registry.ParseUri(uriStr, viper.GetString("registry"))
	if err != nil {
		return err
	}
	variant, err := client.FindByUri(ctx, uri)
	if err != nil {
		return err
	}

	pluginFile := registry.PluginFileName(paths, systemWide, variant)
	if !force && util.Exists(pluginFile) {
		digest, err := util.Sha256File(pluginFile)
		if err == nil && digest == variant.Digest {
			tui.ShowSuccess("%s is up to date (%s)", uri.Name(), maxString(variant.Digest, 12))
			return nil
		}
		log.Warn("%s exists but does not match the registry digest, re-downloading", pluginFile)
	}

	data, err := client.Download(ctx, variant)
	if err != nil {
		return err
	}
	if digest := util.Sha256Hex(data); digest != variant.Digest {
		return merr.Errorf(merr.ErrRegistry, "downloaded file digest %s does not match advertised %s", digest, variant.Digest)
	}
	if err := verifier.Verify(data, variant.Signature); err != nil {
		return err
	}

	if err := writer.MkdirAll(paths.InstallDir(systemWide), 0755); err != nil {
		return err
	}
	if err := writer.WriteFile(pluginFile, data, 0755); err != nil {
		return err
	}
	if err := registry.WriteMeta(pluginFile, variant); err != nil {
		return err
	}
	tui.ShowSuccess("pulled %s %s (%s)", variant.Descriptor.Name, variant.Descriptor.Version, maxString(variant.Digest, 12))
	return nil
}

func init() {
	rootCmd.AddCommand(pullCmd)
	pullCmd.Flags().Bool("all", false, "Pull the latest version of every plugin in the registry")
	pullCmd.Flags().Bool("force", false, "Re-download even when the local file matches")
	pullCmd.Flags().BoolP("system", "s", false, "Install system-wide instead of per-user")
	pullCmd.Flags().String("registry", "", "The registry to pull from (defaults to the configured registry)")
	pullCmd.Flags().String("pub-key", "", "Path to a PEM verifying key (defaults to the configured or bundled key)")
}
