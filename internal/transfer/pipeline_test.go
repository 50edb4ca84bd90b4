package transfer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinseikai/csv2xlsm/internal/notify"
	"github.com/shinseikai/csv2xlsm/internal/types"
	"github.com/shinseikai/csv2xlsm/internal/validation"
	"github.com/shinseikai/csv2xlsm/internal/workbook"
)

// =============================================================================
// FAKES
// =============================================================================

type recorder struct {
	calls []string
}

func (r *recorder) add(call string) { r.calls = append(r.calls, call) }

type fakeFiles struct {
	rec        *recorder
	latest     string
	ensureErr  error
	findErr    error
	archiveErr error
	backupErr  error
	pruneErr   error
	pruned     []string
}

func (f *fakeFiles) EnsureDirectories() error {
	f.rec.add("ensure")
	return f.ensureErr
}

func (f *fakeFiles) FindLatestCSV() (string, error) {
	f.rec.add("find")
	return f.latest, f.findErr
}

func (f *fakeFiles) ArchiveProcessedCSV(path string) (string, error) {
	f.rec.add("archive")
	if f.archiveErr != nil {
		return "", f.archiveErr
	}
	return "processed/" + path, nil
}

func (f *fakeFiles) BackupWorkbook(excelPath string) (string, error) {
	f.rec.add("backup")
	if f.backupErr != nil {
		return "", f.backupErr
	}
	return "backup/" + excelPath, nil
}

func (f *fakeFiles) PruneOlderThan(dir, pattern string, days int) (int, error) {
	f.rec.add("prune")
	f.pruned = append(f.pruned, fmt.Sprintf("%s|%s|%d", dir, pattern, days))
	return 1, f.pruneErr
}

type fakeReader struct {
	rec   *recorder
	table *types.Table
	err   error
}

func (r *fakeReader) ReadFile(path string) (*types.Table, string, error) {
	r.rec.add("read")
	if r.err != nil {
		return nil, "", r.err
	}
	return r.table, "shift_jis", nil
}

type fakeTransformer struct {
	rec *recorder
	err error
}

func (t *fakeTransformer) Process(table *types.Table) (*types.Table, error) {
	t.rec.add("process")
	if t.err != nil {
		return nil, t.err
	}
	return table, nil
}

func (t *fakeTransformer) ConvertDates(table *types.Table) *types.Table {
	t.rec.add("dates")
	return table
}

type fakeValidator struct {
	rec    *recorder
	errors []*validation.ValidationError
}

func (v *fakeValidator) ValidateAll(table *types.Table) *validation.ValidationResult {
	v.rec.add("validate")
	result := &validation.ValidationResult{IsValid: true, Errors: v.errors, RowsValidated: table.NumRows()}
	for _, e := range v.errors {
		if e.Severity == validation.SeverityError {
			result.ErrorCount++
			result.IsValid = false
		} else {
			result.WarningCount++
		}
	}
	return result
}

type fakeMerger struct {
	rec    *recorder
	err    error
	target string
}

func (m *fakeMerger) Merge(path string, table *types.Table) (*workbook.Result, error) {
	m.rec.add("merge")
	m.target = path
	if m.err != nil {
		return nil, m.err
	}
	return &workbook.Result{LastRow: 10, Appended: table.NumRows() - 1, Skipped: 1}, nil
}

type fakeAutomator struct {
	rec *recorder
	err error
}

func (a *fakeAutomator) Run(path string) error {
	a.rec.add("automate")
	return a.err
}

type notice struct {
	level, title, message string
}

type fakeNotifier struct {
	notices []notice
}

func (n *fakeNotifier) Warning(title, message string) {
	n.notices = append(n.notices, notice{"warning", title, message})
}

func (n *fakeNotifier) Critical(title, message string) {
	n.notices = append(n.notices, notice{"critical", title, message})
}

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	rec       *recorder
	files     *fakeFiles
	reader    *fakeReader
	trans     *fakeTransformer
	validator *fakeValidator
	merger    *fakeMerger
	automator *fakeAutomator
	notifier  *fakeNotifier
}

func newFixture() *fixture {
	rec := &recorder{}
	table := &types.Table{
		Columns: []string{"a", "b"},
		Rows: [][]types.Value{
			{types.Text("20240105"), types.Int(1)},
			{types.Text("20240106"), types.Int(2)},
			{types.Text("20240107"), types.Int(3)},
		},
	}
	return &fixture{
		rec:       rec,
		files:     &fakeFiles{rec: rec, latest: "T01_20240105100000.csv"},
		reader:    &fakeReader{rec: rec, table: table},
		trans:     &fakeTransformer{rec: rec},
		validator: &fakeValidator{rec: rec},
		merger:    &fakeMerger{rec: rec},
		automator: &fakeAutomator{rec: rec},
		notifier:  &fakeNotifier{},
	}
}

func (f *fixture) pipeline(withAutomation bool) *Pipeline {
	deps := Deps{
		Files:       f.files,
		Reader:      f.reader,
		Transformer: f.trans,
		Validator:   f.validator,
		Merger:      f.merger,
		Notifier:    f.notifier,
	}
	if withAutomation {
		deps.Automator = f.automator
	}
	opts := Options{
		ExcelPath:     "医療文書担当一覧.xlsm",
		ProcessedDir:  "processed",
		BackupDir:     "backup",
		RetentionDays: 14,
	}
	return New(deps, opts, zerolog.Nop())
}

// =============================================================================
// TESTS
// =============================================================================

func TestRun_Success(t *testing.T) {
	f := newFixture()

	result := f.pipeline(true).Run()

	require.NoError(t, result.Error)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []string{
		"ensure", "prune", "prune", "find", "read", "process", "dates",
		"validate", "merge", "archive", "backup", "automate",
	}, f.rec.calls)

	assert.Equal(t, "医療文書担当一覧.xlsm", f.merger.target)
	assert.Equal(t, "shift_jis", result.Encoding)
	assert.Equal(t, "T01_20240105100000.csv", result.CSVPath)
	assert.Equal(t, "processed/T01_20240105100000.csv", result.ArchivePath)
	assert.Equal(t, "backup/医療文書担当一覧.xlsm", result.BackupPath)
	assert.Equal(t, 3, result.Stats.RowsRead)
	assert.Equal(t, 3, result.Stats.RowsTransferred)
	assert.Equal(t, 2, result.Stats.RowsAppended)
	assert.Equal(t, 1, result.Stats.RowsSkipped)
	assert.Equal(t, 2, result.Stats.PrunedFiles)
	assert.Empty(t, f.notifier.notices)
}

func TestRun_PrunesExportsAndBackups(t *testing.T) {
	f := newFixture()

	f.pipeline(false).Run()

	assert.Equal(t, []string{
		"processed|*.csv|14",
		"backup|医療文書担当一覧_*.xlsm|14",
	}, f.files.pruned)
}

func TestRun_PruneFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.files.pruneErr = errors.New("permission denied")

	result := f.pipeline(false).Run()

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Empty(t, f.notifier.notices)
}

func TestRun_NoInput(t *testing.T) {
	f := newFixture()
	f.files.latest = ""

	result := f.pipeline(true).Run()

	require.NoError(t, result.Error)
	assert.Equal(t, StatusNoInput, result.Status)
	assert.NotContains(t, f.rec.calls, "read")
	assert.NotContains(t, f.rec.calls, "merge")

	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, notice{"warning", notify.TitleWarning, msgNoInput}, f.notifier.notices[0])
}

func TestRun_LockedWorkbook(t *testing.T) {
	f := newFixture()
	f.merger.err = fmt.Errorf("open dest.xlsm: %w", workbook.ErrLocked)

	result := f.pipeline(true).Run()

	assert.Equal(t, StatusFailed, result.Status)
	assert.True(t, errors.Is(result.Error, workbook.ErrLocked))
	assert.NotContains(t, f.rec.calls, "archive")
	assert.NotContains(t, f.rec.calls, "backup")
	assert.NotContains(t, f.rec.calls, "automate")

	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, notice{"critical", notify.TitleCritical, msgLocked}, f.notifier.notices[0])
}

func TestRun_MissingWorkbook(t *testing.T) {
	f := newFixture()
	f.merger.err = workbook.ErrDestinationMissing

	result := f.pipeline(false).Run()

	assert.Equal(t, StatusFailed, result.Status)
	require.Len(t, f.notifier.notices, 1)
	assert.Contains(t, f.notifier.notices[0].message, "医療文書担当一覧.xlsm")
}

func TestRun_FatalStepsNotifyOnce(t *testing.T) {
	tests := []struct {
		name      string
		breakStep func(f *fixture)
		last      string
	}{
		{"directories", func(f *fixture) { f.files.ensureErr = errors.New("read-only") }, "ensure"},
		{"locate", func(f *fixture) { f.files.findErr = errors.New("unreadable") }, "find"},
		{"read", func(f *fixture) { f.reader.err = errors.New("no encoding") }, "read"},
		{"transform", func(f *fixture) { f.trans.err = errors.New("schema drift") }, "process"},
		{"backup", func(f *fixture) { f.files.backupErr = errors.New("disk full") }, "backup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.breakStep(f)

			result := f.pipeline(true).Run()

			require.Error(t, result.Error)
			assert.Equal(t, StatusFailed, result.Status)
			assert.Equal(t, tt.last, f.rec.calls[len(f.rec.calls)-1])

			require.Len(t, f.notifier.notices, 1)
			assert.Equal(t, "critical", f.notifier.notices[0].level)
			assert.Contains(t, f.notifier.notices[0].message, result.Error.Error())
		})
	}
}

func TestRun_ArchiveFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.files.archiveErr = errors.New("file in use")

	result := f.pipeline(false).Run()

	require.NoError(t, result.Error)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Empty(t, result.ArchivePath)
	assert.Contains(t, f.rec.calls, "backup")
	assert.Empty(t, f.notifier.notices)
}

func TestRun_AutomationFailureKeepsData(t *testing.T) {
	f := newFixture()
	f.automator.err = errors.New("excel not installed")

	result := f.pipeline(true).Run()

	require.NoError(t, result.Error)
	assert.Equal(t, StatusSuccess, result.Status)
	require.Error(t, result.AutomationError)
	assert.NotEmpty(t, result.BackupPath)

	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, "critical", f.notifier.notices[0].level)
	assert.Contains(t, f.notifier.notices[0].message, "excel not installed")
}

func TestRun_AutomationDisabled(t *testing.T) {
	f := newFixture()

	result := f.pipeline(false).Run()

	assert.Equal(t, StatusSuccess, result.Status)
	assert.NotContains(t, f.rec.calls, "automate")
}

func TestRun_FindingsAreNotBlocking(t *testing.T) {
	f := newFixture()
	f.validator.errors = []*validation.ValidationError{
		{Severity: validation.SeverityWarning, Column: 3, Rule: validation.RuleRequiredDoc, Message: "document is empty", RowNumber: 2},
	}

	result := f.pipeline(false).Run()

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 1, result.Stats.Findings)
	assert.Equal(t, map[string]int{validation.RuleRequiredDoc: 1}, result.Stats.FindingsByRule)
	assert.Contains(t, f.rec.calls, "merge")
}

func TestRun_StrictFindingsStopBeforeMerge(t *testing.T) {
	f := newFixture()
	f.validator.errors = []*validation.ValidationError{
		{Severity: validation.SeverityWarning, Column: 3, Rule: validation.RuleRequiredDoc, Message: "document is empty", RowNumber: 1},
		{Severity: validation.SeverityError, Column: 0, Rule: validation.RuleDate, Value: "2024/13/45", Message: "not a date", RowNumber: 2},
	}

	result := f.pipeline(true).Run()

	assert.Equal(t, StatusFailed, result.Status)
	assert.True(t, errors.Is(result.Error, ErrInvalidRows))
	assert.Equal(t, "validate", f.rec.calls[len(f.rec.calls)-1])
	assert.Equal(t, map[string]int{validation.RuleRequiredDoc: 1, validation.RuleDate: 1}, result.Stats.FindingsByRule)

	require.Len(t, f.notifier.notices, 1)
	assert.Equal(t, "critical", f.notifier.notices[0].level)
	assert.Contains(t, f.notifier.notices[0].message, "row 2, column 0: not a date")
	assert.NotContains(t, f.notifier.notices[0].message, "document is empty")
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "no_input", StatusNoInput.String())
	assert.Equal(t, "failed", StatusFailed.String())
}
