package monitoring_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/rlm-proxy/internal/monitoring"
)

func TestOpenCallLog_EmptyPathIsNoop(t *testing.T) {
	cl, err := monitoring.OpenCallLog("")
	require.NoError(t, err)
	require.Nil(t, cl)

	// Nil logs swallow everything without panicking.
	cl.Record("filesystem_read_file", "default", 100, 50, false, time.Millisecond)
	n, err := cl.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	assert.NoError(t, cl.Close())
}

func TestCallLog_RecordAndCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.db")
	cl, err := monitoring.OpenCallLog(path)
	require.NoError(t, err)
	require.NotNil(t, cl)
	defer cl.Close()

	cl.Record("filesystem_read_file", "agent-1", 9000, 8000, true, 12*time.Millisecond)
	cl.Record("proxy_search", "agent-1", 9000, 120, false, 3*time.Millisecond)

	n, err := cl.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestCallLog_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.db")

	cl, err := monitoring.OpenCallLog(path)
	require.NoError(t, err)
	cl.Record("proxy_filter", "default", 500, 100, false, time.Millisecond)
	require.NoError(t, cl.Close())

	cl, err = monitoring.OpenCallLog(path)
	require.NoError(t, err)
	defer cl.Close()

	n, err := cl.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
