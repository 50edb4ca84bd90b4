package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
paths:
  downloads: /data/dl
  excel: /share/list.xlsm
exclude:
  docs: " 検査 , 処方箋,, "
  doctors: 田中
backup:
  retention_days: 7
share_button:
  wait_seconds: 1.5
  x: 1200
  y: 45
automation:
  enabled: false
validation:
  strict_dates: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/dl", cfg.DownloadsPath())
	assert.Equal(t, "/share/list.xlsm", cfg.ExcelPath())
	assert.Equal(t, filepath.Join("/share", "backup"), cfg.BackupPath())
	assert.Equal(t, filepath.Join("/data/dl", "processed"), cfg.ProcessedPath())
	assert.Equal(t, []string{"検査", "処方箋"}, cfg.ExcludeDocs())
	assert.Equal(t, []string{"田中"}, cfg.ExcludeDoctors())
	assert.Equal(t, 7, cfg.BackupRetentionDays())
	assert.Equal(t, 1500*time.Millisecond, cfg.ShareButtonWaitTime())

	x, y := cfg.ShareButtonPosition()
	assert.Equal(t, 1200, x)
	assert.Equal(t, 45, y)
	assert.False(t, cfg.AutomationEnabled())
	assert.True(t, cfg.StrictDates())
	assert.False(t, cfg.StrictIdentifiers())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "Downloads"), cfg.DownloadsPath())
	assert.Equal(t, filepath.Join(home, "Documents", DefaultWorkbookName), cfg.ExcelPath())
	assert.Equal(t, 14, cfg.BackupRetentionDays())
	assert.Equal(t, 2*time.Second, cfg.ShareButtonWaitTime())
	assert.True(t, cfg.AutomationEnabled())
	assert.Equal(t, 3, cfg.DocumentColumn())
	assert.Equal(t, 5, cfg.DoctorColumn())
	assert.Equal(t, "患者ID", cfg.IdentifierHeader())
	assert.Empty(t, cfg.ExcludeDocs())
	assert.False(t, cfg.StrictDates())
	assert.False(t, cfg.StrictIdentifiers())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_ZeroRetentionIsKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "backup:\n  retention_days: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.BackupRetentionDays())
}

func TestLoad_LatestRevisionColumns(t *testing.T) {
	cfg, err := Load(writeConfig(t, "columns:\n  document: 1\n  doctor: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.DocumentColumn())
	assert.Equal(t, 3, cfg.DoctorColumn())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "paths:\n  excel: /from/file.xlsm\n")
	t.Setenv("CSV2XLSM_PATHS_EXCEL", "/from/env.xlsm")
	t.Setenv("CSV2XLSM_EXCLUDE_DOCS", "a,b")
	t.Setenv("CSV2XLSM_BACKUP_RETENTION_DAYS", "3")
	t.Setenv("CSV2XLSM_VALIDATION_STRICT_IDENTIFIERS", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env.xlsm", cfg.ExcelPath())
	assert.Equal(t, []string{"a", "b"}, cfg.ExcludeDocs())
	assert.Equal(t, 3, cfg.BackupRetentionDays())
	assert.True(t, cfg.StrictIdentifiers())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative retention", "backup:\n  retention_days: -1\n"},
		{"negative coordinate", "share_button:\n  x: -5\n"},
		{"unknown log level", "logging:\n  level: chatty\n"},
		{"malformed yaml", "paths: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList(" , ,"))
	assert.Equal(t, []string{"a", "b c"}, SplitList("a, b c ,"))
}
