package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kvidx-db/kvidx/internal/kvidx"
)

var (
	// Import flags
	importPreClear  bool
	importSkipDupes bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a binary dump into the index",
	Long: `Import loads a binary dump produced by export. The load is atomic: every
record, and the wipe when --pre-clear is given, lands in one transaction,
so a failed import leaves the index untouched.

Example:
    kvidx import backup.kvidx
    kvidx import --pre-clear backup.kvidx
    kvidx import --skip-duplicates delta.kvidx`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importPreClear, "pre-clear", false, "wipe the index before loading")
	importCmd.Flags().BoolVar(&importSkipDupes, "skip-duplicates", false, "keep existing records instead of overwriting")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	db, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	progress, progressDone := progressMeter("importing")
	count, err := db.ImportFile(args[0], kvidx.ImportOptions{
		PreClear:       importPreClear,
		SkipDuplicates: importSkipDupes,
		Progress:       progress,
	})
	progressDone()
	if err != nil {
		return err
	}
	fmt.Printf("imported %d entries from %s\n", count, args[0])
	return nil
}
