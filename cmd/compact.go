package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/imagetrove/dcmdir/internal/dirindex"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite the index without deleted records",
	Long: `Copies every in-use record into a fresh index beside the current
one and swaps the two files. The previous index is kept with a .bak
suffix. An interrupted compact is rolled forward or discarded the next
time the file is opened.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer func() { _ = log.Sync() }()

		eng, err := openEngine(nil, dirindex.Options{}, log)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		before := eng.Session().Size()
		if err := eng.Compact(); err != nil {
			return err
		}
		after := eng.Session().Size()
		fmt.Printf("Compacted %s: %s -> %s (reclaimed %s)\n", filePath,
			humanize.IBytes(uint64(before)),
			humanize.IBytes(uint64(after)),
			humanize.IBytes(uint64(before-after)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compactCmd)
}
