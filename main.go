// =============================================================================
// CSV to XLSM Transfer - Main Entry Point
// =============================================================================
//
// USAGE:
//   csv2xlsm                - Transfer the newest CSV export into the workbook
//   csv2xlsm cleanup        - Prune archived exports and workbook backups
//   csv2xlsm config         - Print the effective configuration
//   csv2xlsm version        - Display the application version
//
// ARCHITECTURE:
//   - cmd/           : CLI command definitions (Cobra)
//   - internal/      : Pipeline stages and their orchestration
//   - pkg/utils/     : Filesystem housekeeping
//
// =============================================================================

package main

import (
	"github.com/shinseikai/csv2xlsm/cmd"
)

func main() {
	cmd.Execute()
}
