package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/imagetrove/dcmdir/internal/dirfile"
	"github.com/imagetrove/dcmdir/internal/dirindex"
)

var (
	lsAll  bool
	lsJSON bool
)

var typeColors = map[dirfile.RecordType]*color.Color{
	dirfile.Patient: color.New(color.FgCyan, color.Bold),
	dirfile.Study:   color.New(color.FgGreen),
	dirfile.Series:  color.New(color.FgYellow),
	dirfile.Image:   color.New(color.FgWhite),
}

type lsNode struct {
	Type     string    `json:"type"`
	Key      string    `json:"key"`
	InUse    bool      `json:"inUse"`
	FileID   string    `json:"fileID,omitempty"`
	Children []*lsNode `json:"children,omitempty"`
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Print the directory record hierarchy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngineReadOnly(newLogger())
		if err != nil {
			return err
		}
		defer func() { _ = eng.Close() }()

		if lsJSON {
			return printJSON(eng)
		}
		return eng.List(!lsAll, func(depth int, rec *dirfile.Record) error {
			c, ok := typeColors[rec.Type]
			if !ok {
				c = color.New(color.FgWhite)
			}
			line := strings.Repeat("  ", depth) + c.Sprint(string(rec.Type)) + " " + rec.Key()
			if ids := rec.FileIDs(); len(ids) > 0 {
				line += "  " + strings.Join(ids, "/")
			}
			if !rec.InUse {
				line += " (deleted)"
			}
			fmt.Println(line)
			return nil
		})
	},
}

func printJSON(eng *dirindex.Engine) error {
	var roots []*lsNode
	stack := make([]*lsNode, 0, 4)
	err := eng.List(!lsAll, func(depth int, rec *dirfile.Record) error {
		n := &lsNode{
			Type:   string(rec.Type),
			Key:    rec.Key(),
			InUse:  rec.InUse,
			FileID: strings.Join(rec.FileIDs(), "/"),
		}
		stack = stack[:depth]
		if depth == 0 {
			roots = append(roots, n)
		} else {
			parent := stack[depth-1]
			parent.Children = append(parent.Children, n)
		}
		stack = append(stack, n)
		return nil
	})
	if err != nil {
		return err
	}
	out, err := oj.Marshal(roots, 2)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func init() {
	lsCmd.Flags().BoolVarP(&lsAll, "all", "a", false, "include records marked deleted")
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "emit the hierarchy as JSON")
	rootCmd.AddCommand(lsCmd)
}
