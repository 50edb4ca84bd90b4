// =============================================================================
// CSV to XLSM Transfer - Pipeline
// =============================================================================
//
// This module orchestrates one transfer run, from locating the newest report
// export to handing the updated workbook to the operator.
//
// TRANSFER PIPELINE:
//   1. Ensure the working directories exist
//   2. Prune archived exports and workbook backups past retention
//   3. Locate the newest export (none: one warning, clean stop)
//   4. Read it with the encoding fallback
//   5. Reshape and filter the rows, then convert the date column
//   6. Validate the rows (warnings are logged; strict-mode errors stop the run)
//   7. Merge into the destination workbook
//   8. Archive the export (failure is logged only)
//   9. Back up the workbook (failure is fatal)
//  10. Open, sort and share the workbook (failure is reported; data stays)
//
// ERROR POLICY:
//   Every fatal error ends the run with exactly one critical notification
//   and is returned in Result.Error. Nothing after a failed step runs; in
//   particular a locked workbook is never archived or backed up.
//
// =============================================================================

package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shinseikai/csv2xlsm/internal/notify"
	"github.com/shinseikai/csv2xlsm/internal/types"
	"github.com/shinseikai/csv2xlsm/internal/validation"
	"github.com/shinseikai/csv2xlsm/internal/workbook"
	"github.com/shinseikai/csv2xlsm/pkg/utils"
)

// ErrInvalidRows is returned when validation reports error-severity findings,
// which happens only with the strict validation options.
var ErrInvalidRows = errors.New("rows failed validation")

// =============================================================================
// COLLABORATORS
// =============================================================================

// Files covers the filesystem side of a run.
type Files interface {
	EnsureDirectories() error
	FindLatestCSV() (string, error)
	ArchiveProcessedCSV(path string) (string, error)
	BackupWorkbook(excelPath string) (string, error)
	PruneOlderThan(dir, pattern string, days int) (int, error)
}

// Reader loads a report export.
type Reader interface {
	ReadFile(path string) (*types.Table, string, error)
}

// Transformer reshapes the export into TransferRows.
type Transformer interface {
	Process(table *types.Table) (*types.Table, error)
	ConvertDates(table *types.Table) *types.Table
}

// Validator inspects TransferRows before the merge.
type Validator interface {
	ValidateAll(table *types.Table) *validation.ValidationResult
}

// Merger appends TransferRows to the destination workbook.
type Merger interface {
	Merge(path string, table *types.Table) (*workbook.Result, error)
}

// Automator hands the saved workbook to the operator.
type Automator interface {
	Run(path string) error
}

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Status is the overall outcome of a run.
type Status int

const (
	// StatusFailed means a fatal error stopped the run.
	StatusFailed Status = iota

	// StatusNoInput means there was no export to transfer.
	StatusNoInput

	// StatusSuccess means the workbook was merged and backed up.
	StatusSuccess
)

func (s Status) String() string {
	switch s {
	case StatusNoInput:
		return "no_input"
	case StatusSuccess:
		return "success"
	default:
		return "failed"
	}
}

// Result represents the outcome of one run.
type Result struct {
	RunID  string
	Status Status

	// CSVPath is the export that was transferred ("" when none was found).
	CSVPath string

	// Encoding is the encoding the export was decoded with.
	Encoding string

	// Error is the fatal error, if any.
	Error error

	// AutomationError is set when the post-write automation failed. The
	// workbook write stands regardless.
	AutomationError error

	ArchivePath string
	BackupPath  string

	Stats Stats
}

// Stats contains run statistics.
type Stats struct {
	RowsRead        int
	RowsTransferred int
	RowsAppended    int
	RowsSkipped     int
	Findings        int
	PrunedFiles     int

	// FindingsByRule counts validation findings per rule name.
	FindingsByRule map[string]int

	Duration        time.Duration
}

// =============================================================================
// PIPELINE
// =============================================================================

// Options carries the values the pipeline needs beyond its collaborators.
type Options struct {
	ExcelPath     string
	ProcessedDir  string
	BackupDir     string
	RetentionDays int
}

// Pipeline runs transfers.
type Pipeline struct {
	files       Files
	reader      Reader
	transformer Transformer
	validator   Validator
	merger      Merger
	automator   Automator
	notifier    notify.Notifier
	opts        Options
	log         zerolog.Logger
}

// Deps groups the collaborators. Automator may be nil to skip the post-write
// automation.
type Deps struct {
	Files       Files
	Reader      Reader
	Transformer Transformer
	Validator   Validator
	Merger      Merger
	Automator   Automator
	Notifier    notify.Notifier
}

// New creates a Pipeline.
func New(deps Deps, opts Options, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		files:       deps.Files,
		reader:      deps.Reader,
		transformer: deps.Transformer,
		validator:   deps.Validator,
		merger:      deps.Merger,
		automator:   deps.Automator,
		notifier:    deps.Notifier,
		opts:        opts,
		log:         log.With().Str("component", "transfer").Logger(),
	}
}

// Operator-facing messages.
const (
	msgNoInput    = "ダウンロードフォルダにCSVファイルが見つかりません。"
	msgLocked     = "Excelファイルが別のプロセスで開かれています。\nファイルを閉じてから再度実行してください。"
	msgMissing    = "Excelファイルが見つかりません: %s"
	msgFailed     = "CSVファイルの取り込み中にエラーが発生しました:\n%v"
	msgAutomation = "Excelファイルの処理中にエラーが発生しました: %v"
)

// Run executes one transfer.
func (p *Pipeline) Run() Result {
	startTime := time.Now()
	result := Result{
		RunID:  uuid.NewString(),
		Status: StatusFailed,
	}
	log := p.log.With().Str("run_id", result.RunID).Logger()

	fail := func(err error) Result {
		result.Error = err
		result.Stats.Duration = time.Since(startTime)
		log.Error().Err(err).Msg("transfer failed")
		p.notifier.Critical(notify.TitleCritical, failureMessage(err, p.opts.ExcelPath))
		return result
	}

	// =========================================================================
	// STEP 1-2: DIRECTORIES AND RETENTION
	// =========================================================================

	if err := p.files.EnsureDirectories(); err != nil {
		return fail(err)
	}

	result.Stats.PrunedFiles = p.prune(log)

	// =========================================================================
	// STEP 3: LOCATE
	// =========================================================================

	csvPath, err := p.files.FindLatestCSV()
	if err != nil {
		return fail(err)
	}
	if csvPath == "" {
		result.Status = StatusNoInput
		result.Stats.Duration = time.Since(startTime)
		log.Info().Msg("no export to transfer")
		p.notifier.Warning(notify.TitleWarning, msgNoInput)
		return result
	}
	result.CSVPath = csvPath
	log = log.With().Str("csv", csvPath).Logger()

	// =========================================================================
	// STEP 4: READ
	// =========================================================================

	table, encoding, err := p.reader.ReadFile(csvPath)
	if err != nil {
		return fail(err)
	}
	result.Encoding = encoding
	result.Stats.RowsRead = table.NumRows()

	// =========================================================================
	// STEP 5: TRANSFORM
	// =========================================================================

	table, err = p.transformer.Process(table)
	if err != nil {
		return fail(err)
	}
	table = p.transformer.ConvertDates(table)
	result.Stats.RowsTransferred = table.NumRows()

	// =========================================================================
	// STEP 6: VALIDATE
	// =========================================================================

	findings := p.validator.ValidateAll(table)
	result.Stats.Findings = len(findings.Errors)
	result.Stats.FindingsByRule = findings.CountByRule()
	for _, f := range findings.Errors {
		log.Warn().Int("row", f.RowNumber).Int("column", f.Column).Str("rule", f.Rule).Str("severity", f.Severity).Msg(f.Message)
	}
	if len(findings.Errors) > 0 {
		log.Info().
			Interface("by_rule", result.Stats.FindingsByRule).
			Int("errors", findings.ErrorCount).
			Int("warnings", findings.WarningCount).
			Msg("rows validated")
	}

	if !findings.IsValid {
		var rejected []*validation.ValidationError
		for _, f := range findings.Errors {
			if f.Severity == validation.SeverityError {
				rejected = append(rejected, f)
			}
		}
		return fail(fmt.Errorf("%w: %s", ErrInvalidRows, validation.FormatErrors(rejected)))
	}

	// =========================================================================
	// STEP 7: MERGE
	// =========================================================================

	merged, err := p.merger.Merge(p.opts.ExcelPath, table)
	if err != nil {
		return fail(err)
	}
	result.Stats.RowsAppended = merged.Appended
	result.Stats.RowsSkipped = merged.Skipped

	// =========================================================================
	// STEP 8: ARCHIVE
	// =========================================================================

	archived, err := p.files.ArchiveProcessedCSV(csvPath)
	if err != nil {
		log.Warn().Err(err).Msg("failed to archive export; it will be picked up again next run")
	}
	result.ArchivePath = archived

	// =========================================================================
	// STEP 9: BACKUP
	// =========================================================================

	backup, err := p.files.BackupWorkbook(p.opts.ExcelPath)
	if err != nil {
		return fail(err)
	}
	result.BackupPath = backup
	result.Status = StatusSuccess
	result.Stats.Duration = time.Since(startTime)

	log.Info().
		Str("encoding", encoding).
		Int("rows_read", result.Stats.RowsRead).
		Int("rows_transferred", result.Stats.RowsTransferred).
		Int("appended", merged.Appended).
		Int("skipped", merged.Skipped).
		Int("findings", result.Stats.Findings).
		Msg("transfer complete")

	// =========================================================================
	// STEP 10: AUTOMATE
	// =========================================================================

	if p.automator != nil {
		if err := p.automator.Run(p.opts.ExcelPath); err != nil {
			result.AutomationError = err
			log.Error().Err(err).Msg("post-write automation failed; workbook left open")
			p.notifier.Critical(notify.TitleCritical, fmt.Sprintf(msgAutomation, err))
		}
	}

	return result
}

// prune removes expired archived exports and backups. Failures are logged;
// they never stop a run.
func (p *Pipeline) prune(log zerolog.Logger) int {
	targets := []struct{ dir, pattern string }{
		{p.opts.ProcessedDir, "*.csv"},
		{p.opts.BackupDir, utils.BackupPattern(p.opts.ExcelPath)},
	}

	total := 0
	for _, t := range targets {
		n, err := p.files.PruneOlderThan(t.dir, t.pattern, p.opts.RetentionDays)
		if err != nil {
			log.Warn().Str("dir", t.dir).Err(err).Msg("failed to prune expired files")
		}
		total += n
	}
	return total
}

// failureMessage picks the operator message for a fatal error.
func failureMessage(err error, excelPath string) string {
	switch {
	case errors.Is(err, workbook.ErrLocked):
		return msgLocked
	case errors.Is(err, workbook.ErrDestinationMissing), errors.Is(err, workbook.ErrNotMacroEnabled):
		return fmt.Sprintf(msgMissing, excelPath)
	default:
		return fmt.Sprintf(msgFailed, err)
	}
}
