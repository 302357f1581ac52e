package cmd

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/imagetrove/dcmdir/internal/csvtab"
	"github.com/imagetrove/dcmdir/internal/dirindex"
)

var (
	importMapping          string
	importDelimiter        string
	importQuote            string
	importNoCheck          bool
	importPatientFromStudy bool
)

var importCmd = &cobra.Command{
	Use:   "import [table.csv]",
	Short: "Build directory records from a tabular description",
	Long: `Reads a delimited table whose header names the attribute carried by
each column, either as a DICOM keyword (PatientID, StudyInstanceUID,
...) or as an eight-digit hex tag, and inserts one object reference per
row. With no argument, or with "-", the table is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		delim, err := singleRune("delimiter", importDelimiter)
		if err != nil {
			return err
		}
		quote, err := singleRune("quote", importQuote)
		if err != nil {
			return err
		}

		var in io.Reader = os.Stdin
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			in = f
		}

		log := newLogger()
		defer func() { _ = log.Sync() }()

		fac, err := loadFactory(importMapping)
		if err != nil {
			return err
		}
		eng, err := openEngine(fac, dirindex.Options{
			CheckDuplicate:     !importNoCheck,
			PatientIDFromStudy: importPatientFromStudy,
		}, log)
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		imp := &csvtab.Importer{
			Engine: eng,
			Opts:   csvtab.Options{Delimiter: delim, Quote: quote},
			Log:    log,
		}
		res, err := imp.Import(in)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d of %d rows (%d records) into %s", res.Created, res.Rows, res.Records, filePath)
		if res.Duplicates > 0 {
			fmt.Printf(", %d already referenced", res.Duplicates)
		}
		if res.Malformed > 0 {
			fmt.Printf(", %d malformed", res.Malformed)
		}
		if res.Failed > 0 {
			fmt.Printf(", %d rejected", res.Failed)
		}
		fmt.Println()
		return nil
	},
}

func singleRune(name, s string) (rune, error) {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || size != len(s) || r == utf8.RuneError {
		return 0, fmt.Errorf("--%s must be a single character, got %q", name, s)
	}
	return r, nil
}

func init() {
	importCmd.Flags().StringVar(&importMapping, "mapping", "", "HCL file overriding the per-record attribute selection")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", ",", "column delimiter")
	importCmd.Flags().StringVar(&importQuote, "quote", `"`, "quote character for fields containing the delimiter")
	importCmd.Flags().BoolVar(&importNoCheck, "no-check-duplicate", false, "insert records without checking for existing references")
	importCmd.Flags().BoolVar(&importPatientFromStudy, "patient-id-from-study", false, "default a missing patient ID to the study instance UID")
	rootCmd.AddCommand(importCmd)
}
