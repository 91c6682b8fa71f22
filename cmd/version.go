package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// set from main.go at startup
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of memflowup",
	Long: `Print the version of memflowup.

Flags:
  --long    Print the long version including commit hash and build date

Examples:
  memflowup version
  memflowup version --long`,
	Run: func(cmd *cobra.Command, args []string) {
		long, _ := cmd.Flags().GetBool("long")
		if long {
			fmt.Println("Version: " + Version)
			fmt.Println("Commit: " + Commit)
			fmt.Println("Date: " + Date)
		} else {
			fmt.Println(Version)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("long", false, "Print the long version")
}
