// =============================================================================
// CSV to XLSM Transfer - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Run without a
// subcommand it performs a transfer, the same as 'csv2xlsm transfer'.
//
// COBRA CLI STRUCTURE:
//   rootCmd (csv2xlsm)
//   ├── transferCmd (csv2xlsm transfer)
//   ├── cleanupCmd  (csv2xlsm cleanup)
//   ├── configCmd   (csv2xlsm config)
//   └── versionCmd  (csv2xlsm version)
//
// EXIT CODES:
//   0  success, or nothing to transfer
//   1  usage or configuration error
//   2  the CSV export could not be read, or its rows failed strict validation
//   3  the destination workbook is missing or locked
//   4  any other failure
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shinseikai/csv2xlsm/internal/config"
	"github.com/shinseikai/csv2xlsm/internal/logging"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the configuration file.
var cfgFile string

// verbose forces debug logging regardless of the configured level.
var verbose bool

// Exit codes.
const (
	ExitOK          = 0
	ExitConfig      = 1
	ExitUnreadable  = 2
	ExitDestination = 3
	ExitFailure     = 4
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// ExitCode returns the process exit code for an error returned by a command.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitConfig
}

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "csv2xlsm",
	Short: "Transfer the latest document report export into the shared workbook",
	Long: `csv2xlsm picks up the newest document report CSV from the downloads
folder, reshapes and filters it, and appends the rows that are not yet in
the shared macro-enabled workbook. The workbook is then backed up and
opened, sorted and shared in Excel for the operator.

Example Usage:
  csv2xlsm                       # Run a transfer (same as 'transfer')
  csv2xlsm transfer --no-automation
  csv2xlsm cleanup               # Prune old archived CSVs and backups
  csv2xlsm config                # Print the effective configuration`,

	SilenceUsage:  true,
	SilenceErrors: true,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(cmd)
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the CLI and exits with the command's exit code.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(ExitCode(err))
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"Path to the configuration file (default is config.yaml next to the executable)",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)

	addTransferFlags(rootCmd)
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// loadConfig resolves the configuration file path and loads it.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, withExitCode(ExitConfig, err)
	}
	return cfg, nil
}

// setup loads the configuration and builds the logger. The closer must be
// closed when the command finishes.
func setup() (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}

	log, closer, err := logging.Setup(logging.Options{
		Format: cfg.Logging.Format,
		Level:  level,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return nil, zerolog.Nop(), nil, withExitCode(ExitConfig, err)
	}

	log.Debug().Str("config", cfgFile).Msg("configuration loaded")
	return cfg, log, closer, nil
}
