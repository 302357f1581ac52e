package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imagetrove/dcmdir/internal/dirfile"
	"github.com/imagetrove/dcmdir/internal/uid"
)

var (
	createID         string
	createUID        string
	createDescriptor string
	createCharset    string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an empty directory index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		u := createUID
		if u == "" {
			u = uid.New()
		} else if !uid.Valid(u) {
			return fmt.Errorf("invalid file-set UID %q", u)
		}
		sess, err := dirfile.Create(filePath, dirfile.FilesetInfo{
			UID:               u,
			ID:                createID,
			DescriptorFile:    createDescriptor,
			DescriptorCharset: createCharset,
		})
		if err != nil {
			return err
		}
		if err := sess.Close(); err != nil {
			return err
		}
		fmt.Printf("Created %s (file-set UID %s)\n", filePath, u)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createID, "id", "", "file-set ID, up to 16 characters")
	createCmd.Flags().StringVar(&createUID, "uid", "", "file-set instance UID (generated when empty)")
	createCmd.Flags().StringVar(&createDescriptor, "descriptor", "", "file ID of the file-set descriptor")
	createCmd.Flags().StringVar(&createCharset, "charset", "", "character set of the descriptor file")
	rootCmd.AddCommand(createCmd)
}
