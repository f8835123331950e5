package cli

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kvidx-db/kvidx/internal/store"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List the registered storage engines",
	Long: `List every storage engine compiled into this binary, with its
durability class and on-disk layout.`,
	Run: func(cmd *cobra.Command, args []string) {
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"name", "durability", "layout", "suffix"})
		table.SetAutoFormatHeaders(false)

		for _, info := range store.Adapters() {
			durability := "persistent"
			if !info.Persistent {
				durability = "volatile"
			}
			layout := "file"
			if info.Directory {
				layout = "directory"
			}
			suffix := info.PathSuffix
			if suffix == "" {
				suffix = "-"
			}
			table.Append([]string{info.Name, durability, layout, suffix})
		}
		table.Render()
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
