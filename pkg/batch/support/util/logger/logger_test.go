package logger_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		logger.SetLogLevel("INFO")
	})

	logger.SetLogLevel("WARN")
	logger.Infof("chunk %d committed", 1)
	logger.Warnf("skip limit nearly reached: %d/%d", 9, 10)
	logger.Errorf("write failed")

	out := buf.String()
	assert.NotContains(t, out, "chunk 1 committed")
	assert.Contains(t, out, "skip limit nearly reached: 9/10")
	assert.Contains(t, out, "write failed")

	buf.Reset()
	logger.SetLogLevel("debug")
	logger.Debugf("reading position %d", 42)
	assert.Contains(t, buf.String(), "reading position 42")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		logger.SetLogLevel("INFO")
	})

	logger.SetLogLevel("verbose")
	logger.Debugf("hidden")
	logger.Infof("visible")

	out := buf.String()
	assert.Contains(t, out, "Unknown log level 'verbose'")
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}
