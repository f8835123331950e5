package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kvidx-db/kvidx/internal/kvidx"
)

var (
	// Export flags
	exportFormat   string
	exportStart    uint64
	exportEnd      uint64
	exportDataOnly bool
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the index to a dump file",
	Long: `Export writes every record, or the records of a key range, to a dump
file. Binary dumps round-trip through import; JSON and CSV dumps are for
inspection and downstream tooling.

Example:
    kvidx export backup.kvidx
    kvidx export --format json --start 100 --end 200 slice.json
    kvidx export --format csv --data-only payloads.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "binary", "dump format: binary, json or csv")
	exportCmd.Flags().Uint64Var(&exportStart, "start", 0, "first key included")
	exportCmd.Flags().Uint64Var(&exportEnd, "end", 0, "last key included (0 means through the last key)")
	exportCmd.Flags().BoolVar(&exportDataOnly, "data-only", false, "omit term and cmd from json and csv output")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	format, err := kvidx.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	db, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	progress, progressDone := progressMeter("exporting")
	count, err := db.ExportFile(args[0], kvidx.ExportOptions{
		Format:   format,
		StartKey: exportStart,
		EndKey:   exportEnd,
		DataOnly: exportDataOnly,
		Progress: progress,
	})
	progressDone()
	if err != nil {
		return err
	}
	fmt.Printf("exported %d entries to %s (%s)\n", count, args[0], format)
	return nil
}

// progressMeter returns a progress callback that repaints one stderr line
// plus a finisher that terminates the line. The callback is nil when not
// verbose.
func progressMeter(verb string) (kvidx.ProgressFunc, func()) {
	if !verbose {
		return nil, func() {}
	}
	printed := false
	fn := func(processed, total uint64) bool {
		fmt.Fprintf(os.Stderr, "\r%s %d/%d", verb, processed, total)
		printed = true
		return true
	}
	done := func() {
		if printed {
			fmt.Fprintln(os.Stderr)
		}
	}
	return fn, done
}
