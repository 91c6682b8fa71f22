package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentuity/go-common/logger"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/memflow/memflowup/internal/installer"
	"github.com/memflow/memflowup/internal/pkgindex"
	"github.com/memflow/memflowup/internal/platform"
	"github.com/memflow/memflowup/internal/registry"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "memflowup",
	Short: "memflow plugin setup tool",
	Long: `memflowup installs, updates and publishes memflow connector and
OS-layer plugins, from binary releases, source builds or a plugin registry.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/memflowup/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "The log level to use")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		dir := filepath.Join(home, ".config", "memflowup")
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0700); err != nil {
				log.Fatalf("failed to create config directory (%s): %s", dir, err)
			}
		}
		cfgFile = filepath.Join(dir, "config.yaml")
		viper.SetConfigFile(cfgFile)
	}

	viper.AutomaticEnv() // read in environment variables that match
	viper.ReadInConfig()

	viper.SetDefault("registry", registry.DefaultRegistry)
}

func printSuccess(msg string, args ...any) {
	fmt.Printf("%s %s", color.GreenString("✓"), fmt.Sprintf(msg, args...))
	fmt.Println()
}

func printWarning(msg string, args ...any) {
	fmt.Printf("%s %s", color.RedString("✕"), fmt.Sprintf(msg, args...))
	fmt.Println()
}

func maxString(val string, max int) string {
	if len(val) > max {
		return val[:max] + "..."
	}
	return val
}

func showSpinner(logger logger.Logger, title string, action func()) {
	if err := spinner.New().Title(title).Action(action).Run(); err != nil {
		logger.Fatal("%s", err)
	}
}

var theme = huh.ThemeCatppuccin()

// defaultPaths resolves the platform directory layout or dies trying.
func defaultPaths(logger logger.Logger) platform.Paths {
	paths, err := platform.DefaultPaths()
	if err != nil {
		logger.Fatal("unable to determine platform directories: %s", err)
	}
	return paths
}

// newInstaller builds the fully wired orchestrator every install-like command
// shares.
func newInstaller(logger logger.Logger) (*installer.Installer, platform.Paths) {
	paths := defaultPaths(logger)
	return installer.New(logger, paths, platform.NewWriter(logger)), paths
}

// resolveIndex loads the merged package catalog honoring the index tier
// flags.
func resolveIndex(logger logger.Logger, cmd *cobra.Command, paths platform.Paths, systemWide bool) []pkgindex.Descriptor {
	ignoreUser, _ := cmd.Flags().GetBool("ignore-user-index")
	ignoreUpstream, _ := cmd.Flags().GetBool("ignore-upstream")
	ignoreBuiltin, _ := cmd.Flags().GetBool("ignore-builtin")
	resolver := &pkgindex.Resolver{
		Paths:  paths,
		Writer: platform.NewWriter(logger),
		Log:    logger,
	}
	descs, err := resolver.Resolve(systemWide, pkgindex.LoadOpts{
		IgnoreUserIndex: ignoreUser,
		IgnoreUpstream:  ignoreUpstream,
		IgnoreBuiltin:   ignoreBuiltin,
	})
	if err != nil {
		logger.Fatal("unable to load the package index: %s", err)
	}
	return descs
}

// registryClient builds a registry client from the --registry flag, falling
// back to the configured registry.
func registryClient(logger logger.Logger, cmd *cobra.Command) *registry.Client {
	base, _ := cmd.Flags().GetString("registry")
	if base == "" {
		base = viper.GetString("registry")
	}
	return registry.NewClient(logger, base)
}

// pullVerifier builds the signature verifier from the --pub-key flag, the
// configured key file, or the bundled default key.
func pullVerifier(logger logger.Logger, cmd *cobra.Command) *registry.Verifier {
	path, _ := cmd.Flags().GetString("pub-key")
	if path == "" {
		path = viper.GetString("pub_key_file")
	}
	if path == "" {
		verifier, err := registry.NewVerifierFromPEM(registry.DefaultVerifyingKey)
		if err != nil {
			logger.Fatal("bundled verifying key is invalid: %s", err)
		}
		return verifier
	}
	verifier, err := registry.NewVerifier(path)
	if err != nil {
		logger.Fatal("unable to load verifying key %s: %s", path, err)
	}
	return verifier
}

// addIndexFlags registers the catalog tier toggles shared by commands that
// resolve the package index.
func addIndexFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("ignore-user-index", false, "Skip user catalog fragments in <config>/index.d")
	cmd.Flags().Bool("ignore-upstream", false, "Skip the cached upstream catalog")
	cmd.Flags().Bool("ignore-builtin", false, "Skip the catalog compiled into the binary")
}

// reportFailures prints one classified line per failed package and returns
// true if anything failed.
func reportFailures(failures []error) bool {
	for _, err := range failures {
		printWarning("%s", err)
	}
	return len(failures) > 0
}

func channelSuffix(ch pkgindex.Channel, systemWide bool) string {
	scope := "user"
	if systemWide {
		scope = "system"
	}
	return strings.Join([]string{ch.Filename(), scope}, ", ")
}
