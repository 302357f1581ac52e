// Package cmd wires the dcmdir command-line surface. Every subcommand
// operates on one directory index file named by the --file flag.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imagetrove/dcmdir/internal/dirfile"
	"github.com/imagetrove/dcmdir/internal/dirindex"
	"github.com/imagetrove/dcmdir/internal/factory"
)

var (
	filePath string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:          "dcmdir",
	Short:        "Create and maintain DICOMDIR file-set indexes",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&filePath, "file", "f", "DICOMDIR", "path to the directory index file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
}

// newLogger builds the console logger shared by the subcommands.
// Warnings (skipped files, rejected rows) always show; --verbose opens
// the debug level.
func newLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func loadFactory(mappingPath string) (*factory.Factory, error) {
	if mappingPath == "" {
		return factory.Default(), nil
	}
	return factory.Load(mappingPath)
}

func openEngine(fac *factory.Factory, opts dirindex.Options, log *zap.Logger) (*dirindex.Engine, error) {
	sess, err := dirfile.Open(filePath)
	if err != nil {
		return nil, err
	}
	var rf dirindex.RecordFactory
	if fac != nil {
		rf = fac
	}
	return dirindex.New(sess, rf, opts, log), nil
}

func openEngineReadOnly(log *zap.Logger) (*dirindex.Engine, error) {
	sess, err := dirfile.OpenReadOnly(filePath)
	if err != nil {
		return nil, err
	}
	return dirindex.New(sess, nil, dirindex.Options{}, log), nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
