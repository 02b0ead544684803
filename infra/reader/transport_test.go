package reader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/dispenser/core/reader"
	"github.com/carebridge/dispenser/infra/logger"
)

func waitForLine(t *testing.T, tr reader.Transport) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		line, err := tr.ReadLine()
		if err == nil {
			return line
		}
		require.ErrorIs(t, err, reader.ErrNoData)
		select {
		case <-deadline:
			t.Fatal("no line arrived in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLineTransportDeliversLines(t *testing.T) {
	tr := newLineTransport(strings.NewReader("K001\nABCDEF\n"))
	defer func() { _ = tr.Close() }()

	assert.Equal(t, "K001", waitForLine(t, tr))
	assert.Equal(t, "ABCDEF", waitForLine(t, tr))
	_, err := tr.ReadLine()
	assert.ErrorIs(t, err, reader.ErrNoData)
}

func TestLineTransportCloseIdempotent(t *testing.T) {
	tr := newLineTransport(strings.NewReader(""))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestSerialTransportReadsDeviceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyUSB0")
	require.NoError(t, os.WriteFile(path, []byte("K001\n"), 0o644))

	tr := NewSerialTransport(path, logger.NopLogger{})
	defer func() { _ = tr.Close() }()

	assert.Equal(t, "K001", waitForLine(t, tr))
}

func TestSerialTransportRejectsReadAfterClose(t *testing.T) {
	tr := NewSerialTransport(filepath.Join(t.TempDir(), "missing"), logger.NopLogger{})
	require.NoError(t, tr.Close())
	_, err := tr.ReadLine()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, reader.ErrNoData)
}
