package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the index for structural damage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngineReadOnly(newLogger())
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		st, err := eng.Verify()
		if err != nil {
			return fmt.Errorf("verify %s: %w", filePath, err)
		}
		fmt.Printf("%s: %d records, %d in use, %d reachable, %d orphaned, %s reclaimable\n",
			filePath, st.Records, st.InUse, st.Reachable, st.Orphans,
			humanize.IBytes(uint64(st.DeadBytes)))
		if eng.Session().Dirty() {
			fmt.Println("warning: the consistency flag is set, the last update may not have completed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
