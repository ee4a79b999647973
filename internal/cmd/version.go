package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fluentlens/fluentlens/internal/config"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version. --extended adds build metadata, configured backends and dependency versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !extended {
			_, err := fmt.Fprintf(out, "%s %s\n", config.AppName, versionInfo.Version)
			return err
		}

		deps := crucible.GetVersion()
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleLight)
		t.SetTitle(config.AppName + " " + versionInfo.Version)
		t.AppendRows([]table.Row{
			{"Commit", versionInfo.Commit},
			{"Built", versionInfo.BuildDate},
			{"Go", runtime.Version()},
			{"Platform", runtime.GOOS + "/" + runtime.GOARCH},
		})
		if cfg := config.GetConfig(); cfg != nil {
			t.AppendSeparator()
			t.AppendRows([]table.Row{
				{"Store driver", cfg.Store.Driver},
				{"Cache driver", cfg.Cache.Driver},
			})
		}
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Gofulmen", deps.Gofulmen},
			{"Crucible", deps.Crucible},
		})
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show build, backend and dependency details")
}
