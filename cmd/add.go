package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imagetrove/dcmdir/internal/dirindex"
	"github.com/imagetrove/dcmdir/internal/fileset"
	"github.com/imagetrove/dcmdir/internal/source"
)

var (
	addMapping          string
	addNoCheck          bool
	addPatientFromStudy bool
	addStrict           bool
)

var addCmd = &cobra.Command{
	Use:   "add [file|directory]...",
	Short: "Reference objects from the directory index",
	Long: `Reads each named object file (directories are walked recursively),
derives its referenced file ID relative to the index file's directory
and inserts the PATIENT, STUDY, SERIES and IMAGE records it needs.
Files that cannot be parsed are skipped with a warning.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer func() { _ = log.Sync() }()

		fac, err := loadFactory(addMapping)
		if err != nil {
			return err
		}
		eng, err := openEngine(fac, dirindex.Options{
			CheckDuplicate:     !addNoCheck,
			PatientIDFromStudy: addPatientFromStudy,
		}, log)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		root, err := filepath.Abs(filepath.Dir(filePath))
		if err != nil {
			return err
		}
		reader := &source.Reader{Tags: fac.Tags()}
		scanner := &fileset.Scanner{FS: osfs.New("/")}

		var added, records, duplicates, skipped int
		for _, arg := range args {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			err = scanner.Scan(abs, func(path string) error {
				comps, err := fileset.Components(root, path, addStrict)
				if err != nil {
					return err
				}
				src, meta, err := reader.Read(path)
				if err != nil {
					log.Warn("skipping unreadable object", zap.String("path", path), zap.Error(err))
					skipped++
					return nil
				}
				n, err := eng.AddReference(src, meta, comps)
				if err != nil {
					if dirindex.Structural(err) {
						return err
					}
					log.Warn("object rejected", zap.String("path", path), zap.Error(err))
					skipped++
					return nil
				}
				records += n
				if n > 0 {
					added++
				} else {
					duplicates++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		fmt.Printf("Added %d objects (%d records) to %s", added, records, filePath)
		if duplicates > 0 {
			fmt.Printf(", %d already referenced", duplicates)
		}
		if skipped > 0 {
			fmt.Printf(", %d skipped", skipped)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addMapping, "mapping", "", "HCL file overriding the per-record attribute selection")
	addCmd.Flags().BoolVar(&addNoCheck, "no-check-duplicate", false, "insert records without checking for existing references")
	addCmd.Flags().BoolVar(&addPatientFromStudy, "patient-id-from-study", false, "default a missing patient ID to the study instance UID")
	addCmd.Flags().BoolVar(&addStrict, "strict-fileid", false, "enforce the eight-character uppercase file-ID component syntax")
	rootCmd.AddCommand(addCmd)
}
