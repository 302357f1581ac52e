package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imagetrove/dcmdir/internal/dirindex"
	"github.com/imagetrove/dcmdir/internal/factory"
	"github.com/imagetrove/dcmdir/internal/fileset"
	"github.com/imagetrove/dcmdir/internal/source"
)

var rmCmd = &cobra.Command{
	Use:   "rm [file|directory]...",
	Short: "Drop object references from the directory index",
	Long: `Reads each named object file and marks the IMAGE record that
references it as deleted. The record's space is not reclaimed until the
next compact. Objects without a matching record are reported and the
on-disk files are never touched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer func() { _ = log.Sync() }()

		fac := factory.Default()
		eng, err := openEngine(fac, dirindex.Options{}, log)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		reader := &source.Reader{Tags: fac.Tags()}
		scanner := &fileset.Scanner{FS: osfs.New("/")}

		var removed, missing int
		for _, arg := range args {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			err = scanner.Scan(abs, func(path string) error {
				src, meta, err := reader.Read(path)
				if err != nil {
					log.Warn("skipping unreadable object", zap.String("path", path), zap.Error(err))
					missing++
					return nil
				}
				ok, err := eng.RemoveReference(src, meta)
				if err != nil {
					return err
				}
				if ok {
					removed++
				} else {
					missing++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		fmt.Printf("Removed %d references from %s", removed, filePath)
		if missing > 0 {
			fmt.Printf(", %d not referenced", missing)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
