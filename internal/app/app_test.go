package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradegate/internal/config"
	"github.com/alanyoungcy/tradegate/internal/metrics"
)

func testApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Defaults()
	if mutate != nil {
		mutate(&cfg)
	}
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestArchiveJobDisabled(t *testing.T) {
	a := testApp(t, nil)
	assert.Nil(t, a.archiveJob(&Dependencies{}, metrics.New()))
}

func TestArchiveJobNeedsArchiver(t *testing.T) {
	a := testApp(t, func(c *config.Config) { c.Archive.Enabled = true })
	assert.Nil(t, a.archiveJob(&Dependencies{}, metrics.New()))
}

func TestArchiveModeWithoutStorage(t *testing.T) {
	a := testApp(t, func(c *config.Config) { c.Mode = "archive" })
	err := a.ArchiveMode(context.Background(), &Dependencies{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs s3 and postgres")
}

func TestRunRejectsUnknownModeBeforeWiring(t *testing.T) {
	a := testApp(t, func(c *config.Config) { c.Mode = "bogus" })
	defer a.Close()
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "bogus"`)
	assert.Empty(t, a.closers)
}
