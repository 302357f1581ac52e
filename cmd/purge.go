package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imagetrove/dcmdir/internal/dirindex"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Mark childless PATIENT, STUDY and SERIES records deleted",
	Long: `Walks the hierarchy bottom-up and marks every structural record
whose children are all deleted (or that never had any) as deleted
itself, then unlinks inactive records from the sibling chains. Space is
reclaimed by compact, not by purge.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer func() { _ = log.Sync() }()

		eng, err := openEngine(nil, dirindex.Options{}, log)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		n, err := eng.Purge()
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d records from %s\n", n, filePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
