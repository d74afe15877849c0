package logger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crossflow/crossflow/logger"
)

func TestConfigure(t *testing.T) {
	require.NoError(t, logger.Configure("debug"))
	require.Error(t, logger.Configure("not-a-level"))
}

func TestSyncReturnsError(t *testing.T) {
	require.NoError(t, logger.Configure(""))
	logger.Info("sync check")

	// Syncing stderr can return EINVAL on linux, only the shape of the
	// call matters here.
	var err error = logger.Sync()
	_ = err
}
