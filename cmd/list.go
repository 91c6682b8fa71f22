package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentuity/go-common/env"
	"github.com/agentuity/go-common/tui"
	"github.com/spf13/cobra"

	"github.com/memflow/memflowup/internal/database"
	"github.com/memflow/memflowup/internal/pkgindex"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	Short:   "List available and installed plugins",
	Long: `List available and installed plugins.

Shows every package in the merged catalog together with its install state
in the selected channel.

Examples:
  memflowup list
  memflowup list --dev
  memflowup list --system --format json`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := env.NewLogger(cmd)
		dev, _ := cmd.Flags().GetBool("dev")
		systemWide, _ := cmd.Flags().GetBool("system")
		format, _ := cmd.Flags().GetString("format")

		ch := pkgindex.ChannelFromDev(dev)
		paths := defaultPaths(logger)
		descs := resolveIndex(logger, cmd, paths, systemWide)

		records, err := database.Load(paths, ch, systemWide)
		if err != nil {
			logger.Fatal("unable to read the installation database: %s", err)
		}

		type row struct {
			Name      string   `json:"name"`
			Kind      string   `json:"ty"`
			Installed bool     `json:"installed"`
			Version   string   `json:"version,omitempty"`
			Artifacts []string `json:"artifacts,omitempty"`
		}
		var rows []row
		for _, desc := range descs {
			if !desc.InChannel(ch) {
				continue
			}
			r := row{Name: desc.Name, Kind: string(desc.Kind)}
			if rec, ok := records[desc.Name]; ok {
				r.Installed = true
				r.Version = rec.Ty.String()
				r.Artifacts = rec.Artifacts
			}
			rows = append(rows, r)
		}

		switch format {
		case "text":
			if len(rows) == 0 {
				tui.ShowWarning("No packages found in the %s channel", ch)
				return
			}
			fmt.Println(tui.Bold(fmt.Sprintf("Packages (%s)", channelSuffix(ch, systemWide))))
			fmt.Println()
			for _, r := range rows {
				state := tui.Muted("not installed")
				if r.Installed {
					state = tui.Text(maxString(r.Version, 48))
				}
				fmt.Println(tui.Title(r.Name) + " " + tui.Muted("("+r.Kind+")"))
				fmt.Println("  " + state)
			}
		case "json":
			json.NewEncoder(os.Stdout).Encode(rows)
		default:
			logger.Fatal("invalid format: %s", format)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolP("dev", "d", false, "List the development channel")
	listCmd.Flags().BoolP("system", "s", false, "List the system-wide installation")
	listCmd.Flags().String("format", "text", "The format to output the list in")
	addIndexFlags(listCmd)
}
