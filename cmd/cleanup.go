package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shinseikai/csv2xlsm/pkg/utils"
)

// cleanupCmd prunes archived CSVs and workbook backups without transferring.
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune archived CSV exports and workbook backups past retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		files := utils.NewFileManager(cfg.DownloadsPath(), cfg.ProcessedPath(), cfg.BackupPath(), log)
		days := cfg.BackupRetentionDays()

		exports, err := files.PruneOlderThan(cfg.ProcessedPath(), "*.csv", days)
		if err != nil {
			return withExitCode(ExitFailure, err)
		}
		backups, err := files.PruneOlderThan(cfg.BackupPath(), utils.BackupPattern(cfg.ExcelPath()), days)
		if err != nil {
			return withExitCode(ExitFailure, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d archived CSV(s) and %d backup(s) older than %d day(s)\n", exports, backups, days)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
