// =============================================================================
// CSV to XLSM Transfer - Transfer Command
// =============================================================================
//
// This file defines the 'transfer' command, which wires the configured
// components into a pipeline and runs it once.
//
// COMMAND USAGE:
//   csv2xlsm transfer [flags]
//
// FLAGS:
//   --no-automation : Skip opening, sorting and sharing the workbook in Excel
//   --dialogs       : Report outcomes in message boxes (default on Windows)
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shinseikai/csv2xlsm/internal/automation"
	"github.com/shinseikai/csv2xlsm/internal/config"
	"github.com/shinseikai/csv2xlsm/internal/csvparser"
	"github.com/shinseikai/csv2xlsm/internal/notify"
	"github.com/shinseikai/csv2xlsm/internal/transfer"
	"github.com/shinseikai/csv2xlsm/internal/transform"
	"github.com/shinseikai/csv2xlsm/internal/types"
	"github.com/shinseikai/csv2xlsm/internal/validation"
	"github.com/shinseikai/csv2xlsm/internal/workbook"
	"github.com/shinseikai/csv2xlsm/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

// noAutomation skips the post-write spreadsheet automation.
var noAutomation bool

// dialogs selects message boxes over console output for notifications.
var dialogs bool

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Transfer the newest CSV export into the workbook",
	Long: `The transfer command looks for the newest report export in the downloads
folder and appends its rows to the destination workbook.

On success:
  - New rows are appended; rows already present are skipped
  - The CSV is moved to the processed folder
  - A timestamped copy of the workbook is written to the backup folder
  - Excel opens the workbook, clears filters, sorts it and shares it

On error:
  - A critical message names the problem
  - The CSV stays in the downloads folder for the next run
  - A locked workbook is left untouched`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(cmd)
	},
}

func init() {
	rootCmd.AddCommand(transferCmd)
	addTransferFlags(transferCmd)
}

// addTransferFlags registers the transfer flags on cmd. The root command
// carries them too since it runs a transfer by default.
func addTransferFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(
		&noAutomation,
		"no-automation",
		false,
		"Skip opening, sorting and sharing the workbook in Excel",
	)

	cmd.Flags().BoolVar(
		&dialogs,
		"dialogs",
		runtime.GOOS == "windows",
		"Show warnings and errors in message boxes",
	)
}

// =============================================================================
// MAIN TRANSFER FUNCTION
// =============================================================================

func runTransfer(cmd *cobra.Command) error {
	cfg, log, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	pipeline := buildPipeline(cfg, log)
	result := pipeline.Run()

	printSummary(cmd, result)

	if result.Error != nil {
		return withExitCode(exitCodeFor(result.Error), result.Error)
	}
	return nil
}

// buildPipeline constructs every component from the configuration.
func buildPipeline(cfg *config.Config, log zerolog.Logger) *transfer.Pipeline {
	files := utils.NewFileManager(cfg.DownloadsPath(), cfg.ProcessedPath(), cfg.BackupPath(), log)

	reader := csvparser.NewReader(csvparser.Options{
		IdentifierHeader: cfg.IdentifierHeader(),
	}, log)

	transformer := transform.NewTransformer(transform.Options{
		DocumentColumn: cfg.DocumentColumn(),
		DoctorColumn:   cfg.DoctorColumn(),
		ExcludeDocs:    cfg.ExcludeDocs(),
		ExcludeDoctors: cfg.ExcludeDoctors(),
	}, log)

	validator := validation.NewValidatorWithOptions(validation.Layout{
		DateColumn:       transform.DateColumn,
		IdentifierColumn: transform.IdentifierColumn,
		DocumentColumn:   cfg.DocumentColumn(),
		MinWidth:         types.KeyWidth,
	}, validation.ValidationOptions{
		StrictDates:       cfg.StrictDates(),
		StrictIdentifiers: cfg.StrictIdentifiers(),
		RequireDocument:   true,
	})

	var notifier notify.Notifier
	if dialogs {
		notifier = notify.NewDialog(log)
	} else {
		notifier = notify.NewConsole(os.Stderr, log)
	}

	deps := transfer.Deps{
		Files:       files,
		Reader:      reader,
		Transformer: transformer,
		Validator:   validator,
		Merger:      workbook.NewMerger(log),
		Notifier:    notifier,
	}

	if cfg.AutomationEnabled() && !noAutomation {
		x, y := cfg.ShareButtonPosition()
		deps.Automator = automation.New(
			automation.NewExcelHost(log),
			automation.NewScreenClicker(),
			automation.Options{Wait: cfg.ShareButtonWaitTime(), X: x, Y: y},
			log,
		)
	}

	return transfer.New(deps, transfer.Options{
		ExcelPath:     cfg.ExcelPath(),
		ProcessedDir:  cfg.ProcessedPath(),
		BackupDir:     cfg.BackupPath(),
		RetentionDays: cfg.BackupRetentionDays(),
	}, log)
}

// exitCodeFor maps a fatal pipeline error onto the exit code table.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, csvparser.ErrUnreadable),
		errors.Is(err, transfer.ErrInvalidRows):
		return ExitUnreadable
	case errors.Is(err, workbook.ErrDestinationMissing),
		errors.Is(err, workbook.ErrNotMacroEnabled),
		errors.Is(err, workbook.ErrLocked):
		return ExitDestination
	default:
		return ExitFailure
	}
}

func printSummary(cmd *cobra.Command, result transfer.Result) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "=== Transfer Complete ===")
	fmt.Fprintf(out, "Status:          %s\n", result.Status)
	if result.CSVPath != "" {
		fmt.Fprintf(out, "CSV:             %s (%s)\n", result.CSVPath, result.Encoding)
		fmt.Fprintf(out, "Rows read:       %d\n", result.Stats.RowsRead)
		fmt.Fprintf(out, "Transferred:     %d\n", result.Stats.RowsTransferred)
		fmt.Fprintf(out, "Appended:        %d\n", result.Stats.RowsAppended)
		fmt.Fprintf(out, "Already present: %d\n", result.Stats.RowsSkipped)
	}
	if result.Stats.Findings > 0 {
		fmt.Fprintf(out, "Findings:        %d\n", result.Stats.Findings)
		rules := make([]string, 0, len(result.Stats.FindingsByRule))
		for rule := range result.Stats.FindingsByRule {
			rules = append(rules, rule)
		}
		sort.Strings(rules)
		for _, rule := range rules {
			fmt.Fprintf(out, "  %-15s %d\n", rule+":", result.Stats.FindingsByRule[rule])
		}
	}
	if result.BackupPath != "" {
		fmt.Fprintf(out, "Backup:          %s\n", result.BackupPath)
	}
	if result.AutomationError != nil {
		fmt.Fprintf(out, "Automation:      %v\n", result.AutomationError)
	}
	fmt.Fprintf(out, "Time elapsed:    %s\n", result.Stats.Duration)
}
