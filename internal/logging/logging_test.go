package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_FileSinkReceivesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "transfer.log")

	log, closer, err := Setup(Options{Format: "json", Level: "debug", File: path})
	require.NoError(t, err)

	log.Info().Str("component", "test").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestSetup_InvalidLevel(t *testing.T) {
	_, closer, err := Setup(Options{Level: "loud"})
	assert.Error(t, err)
	assert.NotNil(t, closer)
}

func TestSetup_NoFile(t *testing.T) {
	_, closer, err := Setup(Options{Format: "text"})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
}
