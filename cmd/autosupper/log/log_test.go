package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(true, dir, "test")
	require.NoError(t, err)

	logger.Debug("debug line", "mission", "t3_abc")
	FlushAndClose()

	files, err := filepath.Glob(filepath.Join(dir, "test-*.txt"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	content, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "debug line")
	assert.Contains(t, string(content), "mission=t3_abc")

	// writes after close are dropped
	logger.Info("after close")
	FlushLog()
}
