package service_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blockyard/internal/config"
)

func setup(t *testing.T) (*config.Config, *zap.Logger, context.Context) {
	t.Helper()
	cfg := config.DefaultConfig()
	tmp := t.TempDir()
	cfg.Server.WorkingDir = filepath.Join(tmp, "server")
	cfg.Server.RAMMB = 1024
	cfg.Server.StopGrace = 2
	cfg.Server.StartupTimeout = 5
	cfg.Server.SampleIntervalMS = -1
	cfg.Paths.Logs = filepath.Join(tmp, "logs")
	cfg.Logging.FileEnabled = false
	require.NoError(t, cfg.Validate())

	for _, p := range []string{cfg.Server.WorkingDir, cfg.Paths.Logs} {
		require.NoError(t, os.MkdirAll(p, 0o750))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	return cfg, zap.NewNop(), ctx
}
