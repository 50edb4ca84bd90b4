// =============================================================================
// CSV to XLSM Transfer - Configuration Module
// =============================================================================
//
// This module is responsible for loading the key-value settings the transfer
// pipeline needs and exposing them through accessor methods. Nothing below the
// cmd package reads configuration directly: the command layer resolves a
// *Config once and passes plain values into each component's constructor.
//
// LOADING ORDER:
//   1. YAML file (config.yaml next to the executable or given via --config)
//   2. Environment overrides, prefix CSV2XLSM (e.g. CSV2XLSM_PATHS_EXCEL)
//   3. Defaults for anything still unset
//   4. Struct validation
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "CSV2XLSM"

// DefaultWorkbookName is the file name of the shared destination workbook.
const DefaultWorkbookName = "医療文書担当一覧.xlsm"

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the application configuration.
type Config struct {
	Paths       PathsConfig       `yaml:"paths" envconfig:"PATHS"`
	Exclude     ExcludeConfig     `yaml:"exclude" envconfig:"EXCLUDE"`
	Backup      BackupConfig      `yaml:"backup" envconfig:"BACKUP"`
	ShareButton ShareButtonConfig `yaml:"share_button" envconfig:"SHARE_BUTTON"`
	Automation  AutomationConfig  `yaml:"automation" envconfig:"AUTOMATION"`
	Columns     ColumnsConfig     `yaml:"columns" envconfig:"COLUMNS"`
	Validation  ValidationConfig  `yaml:"validation" envconfig:"VALIDATION"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
}

// PathsConfig holds the filesystem locations.
type PathsConfig struct {
	// Downloads is the directory watched for new CSV exports.
	// Default: ~/Downloads
	Downloads string `yaml:"downloads" envconfig:"DOWNLOADS"`

	// Excel is the destination macro-enabled workbook.
	// Default: ~/Documents/医療文書担当一覧.xlsm
	Excel string `yaml:"excel" envconfig:"EXCEL" validate:"required"`

	// Backup is where workbook copies are written after each save.
	// Default: <dir of Excel>/backup
	Backup string `yaml:"backup" envconfig:"BACKUP"`

	// Processed is where consumed CSV files are archived.
	// Default: <Downloads>/processed
	Processed string `yaml:"processed" envconfig:"PROCESSED"`
}

// ExcludeConfig holds the exclusion lists. Each list is stored comma-joined,
// matching the layout the settings dialogs write.
type ExcludeConfig struct {
	Docs    string `yaml:"docs" envconfig:"DOCS"`
	Doctors string `yaml:"doctors" envconfig:"DOCTORS"`
}

// BackupConfig controls retention of backups and archived CSVs.
type BackupConfig struct {
	// RetentionDays is the age in whole days at which archived CSVs and
	// workbook backups are pruned. Nil means "use the default".
	RetentionDays *int `yaml:"retention_days" envconfig:"RETENTION_DAYS" validate:"omitempty,gte=0"`
}

// ShareButtonConfig locates the share control for the synthetic click.
type ShareButtonConfig struct {
	// WaitSeconds is the delay before clicking, giving the host
	// application time to finish rendering after being maximized.
	WaitSeconds *float64 `yaml:"wait_seconds" envconfig:"WAIT_SECONDS" validate:"omitempty,gte=0"`

	X int `yaml:"x" envconfig:"X" validate:"gte=0"`
	Y int `yaml:"y" envconfig:"Y" validate:"gte=0"`
}

// AutomationConfig toggles the post-write spreadsheet automation.
type AutomationConfig struct {
	Enabled *bool `yaml:"enabled" envconfig:"ENABLED"`
}

// ColumnsConfig pins the positional layout of the reshaped table.
// document=1, doctor=3 reproduces the layout of the latest export revision.
type ColumnsConfig struct {
	// Document is the index of the document-name column after removals.
	Document *int `yaml:"document" envconfig:"DOCUMENT" validate:"omitempty,gte=0"`

	// Doctor is the index of the doctor/department-name column after removals.
	Doctor *int `yaml:"doctor" envconfig:"DOCTOR" validate:"omitempty,gte=0"`

	// IdentifierHeader is the CSV header text of the column coerced to int64
	// at read time.
	IdentifierHeader string `yaml:"identifier_header" envconfig:"IDENTIFIER_HEADER"`
}

// ValidationConfig turns row findings into run-stopping errors. Both off by
// default: questionable dates and identifiers are written as text.
type ValidationConfig struct {
	StrictDates       bool `yaml:"strict_dates" envconfig:"STRICT_DATES"`
	StrictIdentifiers bool `yaml:"strict_identifiers" envconfig:"STRICT_IDENTIFIERS"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	// Level: "debug", "info", "warn", "error". Default: "info"
	Level string `yaml:"level" envconfig:"LEVEL" validate:"omitempty,oneof=debug info warn error"`

	// Format: "text" (console) or "json". Default: "text"
	Format string `yaml:"format" envconfig:"FORMAT" validate:"omitempty,oneof=text json"`

	// File optionally duplicates log output to a file.
	File string `yaml:"file" envconfig:"FILE"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	defaultRetentionDays = 14
	defaultWaitSeconds   = 2.0
	defaultDocumentCol   = 3
	defaultDoctorCol     = 5
	defaultIdentifier    = "患者ID"
)

// =============================================================================
// LOADING FUNCTIONS
// =============================================================================

// Load reads the configuration file at path, applies environment overrides
// and defaults, and validates the result.
//
// A missing file is not an error: the tool runs on defaults plus environment.
// An unreadable or malformed file is.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// Defaults only.
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment wins over the file. envconfig leaves fields untouched when
	// the variable is unset.
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns config.yaml next to the running executable if it
// exists, else config.yaml in the working directory.
func DefaultPath() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "config.yaml"
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() error {
	home, err := os.UserHomeDir()
	if err != nil && (c.Paths.Downloads == "" || c.Paths.Excel == "") {
		return fmt.Errorf("failed to resolve home directory for default paths: %w", err)
	}

	if c.Paths.Downloads == "" {
		c.Paths.Downloads = filepath.Join(home, "Downloads")
	}
	if c.Paths.Excel == "" {
		c.Paths.Excel = filepath.Join(home, "Documents", DefaultWorkbookName)
	}
	if c.Paths.Backup == "" {
		c.Paths.Backup = filepath.Join(filepath.Dir(c.Paths.Excel), "backup")
	}
	if c.Paths.Processed == "" {
		c.Paths.Processed = filepath.Join(c.Paths.Downloads, "processed")
	}

	if c.Backup.RetentionDays == nil {
		c.Backup.RetentionDays = intPtr(defaultRetentionDays)
	}
	if c.ShareButton.WaitSeconds == nil {
		v := defaultWaitSeconds
		c.ShareButton.WaitSeconds = &v
	}
	if c.Automation.Enabled == nil {
		v := true
		c.Automation.Enabled = &v
	}
	if c.Columns.Document == nil {
		c.Columns.Document = intPtr(defaultDocumentCol)
	}
	if c.Columns.Doctor == nil {
		c.Columns.Doctor = intPtr(defaultDoctorCol)
	}
	if c.Columns.IdentifierHeader == "" {
		c.Columns.IdentifierHeader = defaultIdentifier
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	return nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func intPtr(v int) *int { return &v }

// =============================================================================
// ACCESSORS
// =============================================================================

// DownloadsPath returns the directory watched for CSV exports.
func (c *Config) DownloadsPath() string { return c.Paths.Downloads }

// ExcelPath returns the destination workbook path.
func (c *Config) ExcelPath() string { return c.Paths.Excel }

// BackupPath returns the workbook backup directory.
func (c *Config) BackupPath() string { return c.Paths.Backup }

// ProcessedPath returns the archive directory for consumed CSVs.
func (c *Config) ProcessedPath() string { return c.Paths.Processed }

// ExcludeDocs returns the document-name exclusion substrings.
func (c *Config) ExcludeDocs() []string { return SplitList(c.Exclude.Docs) }

// ExcludeDoctors returns the doctor-name exclusion substrings.
func (c *Config) ExcludeDoctors() []string { return SplitList(c.Exclude.Doctors) }

// BackupRetentionDays returns the retention period in days.
func (c *Config) BackupRetentionDays() int {
	if c.Backup.RetentionDays == nil {
		return defaultRetentionDays
	}
	return *c.Backup.RetentionDays
}

// ShareButtonWaitTime returns the delay before the automated click.
func (c *Config) ShareButtonWaitTime() time.Duration {
	secs := defaultWaitSeconds
	if c.ShareButton.WaitSeconds != nil {
		secs = *c.ShareButton.WaitSeconds
	}
	return time.Duration(secs * float64(time.Second))
}

// ShareButtonPosition returns the absolute screen coordinate of the share
// control.
func (c *Config) ShareButtonPosition() (x, y int) {
	return c.ShareButton.X, c.ShareButton.Y
}

// AutomationEnabled reports whether the post-write automation should run.
func (c *Config) AutomationEnabled() bool {
	return c.Automation.Enabled == nil || *c.Automation.Enabled
}

// DocumentColumn returns the post-removal index of the document-name column.
func (c *Config) DocumentColumn() int {
	if c.Columns.Document == nil {
		return defaultDocumentCol
	}
	return *c.Columns.Document
}

// DoctorColumn returns the post-removal index of the doctor-name column.
func (c *Config) DoctorColumn() int {
	if c.Columns.Doctor == nil {
		return defaultDoctorCol
	}
	return *c.Columns.Doctor
}

// IdentifierHeader returns the header text of the int64 identifier column.
func (c *Config) IdentifierHeader() string {
	if c.Columns.IdentifierHeader == "" {
		return defaultIdentifier
	}
	return c.Columns.IdentifierHeader
}

// StrictDates reports whether a malformed date stops the run.
func (c *Config) StrictDates() bool { return c.Validation.StrictDates }

// StrictIdentifiers reports whether a non-integer identifier stops the run.
func (c *Config) StrictIdentifiers() bool { return c.Validation.StrictIdentifiers }

// SplitList splits a comma-joined list, trimming entries and discarding
// empty ones. Order is preserved.
func SplitList(joined string) []string {
	var out []string
	for _, item := range strings.Split(joined, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
