package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinseikai/csv2xlsm/internal/csvparser"
	"github.com/shinseikai/csv2xlsm/internal/transfer"
	"github.com/shinseikai/csv2xlsm/internal/workbook"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitConfig, ExitCode(errors.New("unknown flag: --nope")))
	assert.Equal(t, ExitDestination, ExitCode(withExitCode(ExitDestination, workbook.ErrLocked)))
	assert.Nil(t, withExitCode(ExitFailure, nil))

	wrapped := fmt.Errorf("run: %w", withExitCode(ExitUnreadable, csvparser.ErrUnreadable))
	assert.Equal(t, ExitUnreadable, ExitCode(wrapped))
	assert.True(t, errors.Is(wrapped, csvparser.ErrUnreadable))
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("read: %w", csvparser.ErrUnreadable), ExitUnreadable},
		{fmt.Errorf("%w: 1 finding(s)", transfer.ErrInvalidRows), ExitUnreadable},
		{workbook.ErrDestinationMissing, ExitDestination},
		{workbook.ErrNotMacroEnabled, ExitDestination},
		{fmt.Errorf("open dest.xlsm: %w", workbook.ErrLocked), ExitDestination},
		{errors.New("disk full"), ExitFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCodeFor(tt.err), tt.err.Error())
	}
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	excel := filepath.Join(dir, "dest.xlsm")
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("paths:\n  downloads: %s\n  excel: %s\nexclude:\n  docs: 死亡診断書,証明書\n", dir, excel)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "--config", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		cfgFile = ""
	})

	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "excel: "+excel)
	assert.Contains(t, out.String(), "docs: 死亡診断書,証明書")
	assert.Contains(t, out.String(), "retention_days: 14")
	assert.Contains(t, out.String(), "strict_dates: false")
	assert.Contains(t, out.String(), "processed: "+filepath.Join(dir, "processed"))
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "CSV to XLSM Transfer")
	assert.Contains(t, out.String(), "Version:    "+Version)
}
