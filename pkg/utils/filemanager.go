// =============================================================================
// CSV to XLSM Transfer - File Manager Utility
// =============================================================================
//
// This module provides the filesystem side of a transfer run:
//   - Locating the newest report export in the downloads directory
//   - Archiving a consumed export into the processed directory
//   - Backing up the destination workbook under a timestamped name
//   - Pruning archived exports and backups past the retention period
//   - Directory management
//
// ARCHIVAL STRATEGY:
//   - Exports are moved (same file name) after a successful merge
//   - The workbook is copied, with its modification time preserved
//   - Failed runs leave the export where it was so the operator can retry
//
// FAILURE POLICY:
//   - Archive and prune failures are reported but never abort a run;
//     per-file prune failures are logged and the sweep continues
//   - Backup failures are returned to the caller as fatal
//
// =============================================================================

package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for a transfer run.
type FileManager struct {
	// DownloadsDir is where the browser saves report exports.
	DownloadsDir string

	// ProcessedDir is the archive directory for consumed exports.
	ProcessedDir string

	// BackupDir is where workbook backups are written.
	BackupDir string

	log zerolog.Logger

	// now is the clock used for backup names and retention ages.
	now func() time.Time

	// remove deletes an expired file.
	remove func(path string) error
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(downloadsDir, processedDir, backupDir string, log zerolog.Logger) *FileManager {
	return &FileManager{
		DownloadsDir: downloadsDir,
		ProcessedDir: processedDir,
		BackupDir:    backupDir,
		log:          log.With().Str("component", "files").Logger(),
		now:          time.Now,
		remove:       os.Remove,
	}
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates all required directories if they don't exist.
//
// RETURNS:
//   - An error if any directory cannot be created.
func (fm *FileManager) EnsureDirectories() error {
	dirs := []string{
		fm.DownloadsDir,
		fm.BackupDir,
		fm.ProcessedDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

const (
	exportExt          = ".csv"
	maxOperatorIDRunes = 5
	timestampDigits    = 14
)

// IsExportName reports whether name follows the export naming convention
// <operator id, 0-5 chars>_<14-digit timestamp>.csv. The extension is
// matched without regard to case.
//
// EXAMPLE:
//   "T01_20240105093000.csv"  -> true
//   "_20240105093000.csv"     -> true  (operator id may be empty)
//   "T01_2024010509.csv"      -> false
//   "a_b_20240105093000.csv"  -> false
func IsExportName(name string) bool {
	ext := filepath.Ext(name)
	if !strings.EqualFold(ext, exportExt) {
		return false
	}

	parts := strings.Split(strings.TrimSuffix(name, ext), "_")
	if len(parts) != 2 {
		return false
	}

	if utf8.RuneCountInString(parts[0]) > maxOperatorIDRunes {
		return false
	}

	stamp, _, _ := strings.Cut(parts[1], ".")
	if len(stamp) != timestampDigits {
		return false
	}
	for _, r := range stamp {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FindLatestCSV returns the export with the newest modification time, or ""
// when the downloads directory holds none. On a tie the entry that sorts last
// by name wins. A missing downloads directory counts as holding none.
func (fm *FileManager) FindLatestCSV() (string, error) {
	entries, err := os.ReadDir(fm.DownloadsDir)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to scan downloads directory: %w", err)
	}

	var (
		latest     string
		latestTime time.Time
	)

	for _, entry := range entries {
		if entry.IsDir() || !IsExportName(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Deleted between ReadDir and Info.
			continue
		}

		if latest == "" || !info.ModTime().Before(latestTime) {
			latest = filepath.Join(fm.DownloadsDir, entry.Name())
			latestTime = info.ModTime()
		}
	}

	if latest != "" {
		fm.log.Debug().Str("file", latest).Time("modified", latestTime).Msg("latest export found")
	}
	return latest, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveProcessedCSV moves a consumed export into the processed directory.
// A source that no longer exists is treated as already archived.
//
// RETURNS:
//   - The archived path ("" when there was nothing to move).
//   - An error if the move fails.
func (fm *FileManager) ArchiveProcessedCSV(filePath string) (string, error) {
	if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
		fm.log.Debug().Str("file", filePath).Msg("export already gone; nothing to archive")
		return "", nil
	}

	if err := os.MkdirAll(fm.ProcessedDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	archivePath := filepath.Join(fm.ProcessedDir, filepath.Base(filePath))

	// Move the file.
	if err := os.Rename(filePath, archivePath); err != nil {
		// If rename fails (e.g., cross-device), try copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", fmt.Errorf("failed to copy file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}

	fm.log.Info().Str("file", archivePath).Msg("export archived")
	return archivePath, nil
}

// BackupTimestampLayout is the timestamp embedded in backup file names.
const BackupTimestampLayout = "200601021504"

// BackupWorkbook copies the workbook to the backup directory as
// <base>_<YYYYMMDDHHMM><ext>, preserving its modification time.
//
// RETURNS:
//   - The backup path.
//   - An error if the copy fails. Callers treat this as fatal.
func (fm *FileManager) BackupWorkbook(excelPath string) (string, error) {
	if err := os.MkdirAll(fm.BackupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	ext := filepath.Ext(excelPath)
	base := strings.TrimSuffix(filepath.Base(excelPath), ext)
	backupPath := filepath.Join(fm.BackupDir, base+"_"+fm.now().Format(BackupTimestampLayout)+ext)

	if err := copyFile(excelPath, backupPath); err != nil {
		return "", fmt.Errorf("failed to back up workbook: %w", err)
	}

	info, err := os.Stat(excelPath)
	if err != nil {
		return "", fmt.Errorf("failed to back up workbook: %w", err)
	}
	if err := os.Chtimes(backupPath, info.ModTime(), info.ModTime()); err != nil {
		return "", fmt.Errorf("failed to preserve backup timestamp: %w", err)
	}

	fm.log.Info().Str("file", backupPath).Msg("workbook backed up")
	return backupPath, nil
}

// BackupPattern returns the pattern matching backups of the given workbook,
// in the form PruneOlderThan accepts.
func BackupPattern(excelPath string) string {
	ext := filepath.Ext(excelPath)
	base := strings.TrimSuffix(filepath.Base(excelPath), ext)
	return base + "_*" + ext
}

// =============================================================================
// RETENTION
// =============================================================================

// PruneOlderThan deletes the files in dir whose names match pattern and whose
// age in whole days is at least days. A missing directory is not an error.
// Failures on individual files are logged and the sweep continues.
//
// The pattern is literal except for its last '*', which matches any run of
// characters; see MatchName.
//
// RETURNS:
//   - The number of files removed.
//   - An error only if the directory listing itself fails.
func (fm *FileManager) PruneOlderThan(dir, pattern string, days int) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	now := fm.now()
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !MatchName(pattern, entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			fm.log.Warn().Str("file", path).Err(err).Msg("failed to stat file; skipped")
			continue
		}

		if AgeInDays(now, info.ModTime()) < days {
			continue
		}

		if err := fm.remove(path); err != nil {
			fm.log.Warn().Str("file", path).Err(err).Msg("failed to delete expired file; skipped")
			continue
		}
		removed++
	}

	if removed > 0 {
		fm.log.Info().Str("dir", dir).Str("pattern", pattern).Int("removed", removed).Msg("expired files pruned")
	}
	return removed, nil
}

// MatchName reports whether name matches pattern. Everything before the last
// '*' must be a literal prefix of name and everything after it a suffix, the
// suffix compared without regard to case so "*.csv" also takes "X.CSV".
// Workbook names may contain '[' or '*', which a glob would misread.
// A pattern without '*' must equal name.
//
// EXAMPLE:
//   MatchName("*.csv", "T01_20240105093000.CSV")            -> true
//   MatchName("一覧[2]_*.xlsm", "一覧[2]_202401010900.xlsm") -> true
//   MatchName("一覧_*.xlsm", "一覧.xlsm")                    -> false
func MatchName(pattern, name string) bool {
	star := strings.LastIndexByte(pattern, '*')
	if star < 0 {
		return pattern == name
	}

	prefix, suffix := pattern[:star], pattern[star+1:]
	if len(name) < len(prefix)+len(suffix) {
		return false
	}
	return strings.HasPrefix(name, prefix) &&
		strings.EqualFold(name[len(name)-len(suffix):], suffix)
}

// AgeInDays returns the number of whole days between modTime and now.
func AgeInDays(now, modTime time.Time) int {
	return int(now.Sub(modTime) / (24 * time.Hour))
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	if err != nil {
		return err
	}

	return destFile.Sync()
}
