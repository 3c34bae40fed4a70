package app

import (
	"context"
	"path/filepath"
	"testing"

	"racewatch/internal/core/config"
	"racewatch/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthService_Check(t *testing.T) {
	a, dir := newTestApp(t, nil, WithHistory(&fakeHistory{}))
	health := NewHealthService(a)

	status := health.Check(context.Background())
	assert.Equal(t, "up", status.Status)
	assert.Equal(t, "ok", status.Components["engine"])
	assert.Equal(t, "ok", status.Components["history"])
	assert.Equal(t, "pending", status.Components["last_run"])
	assert.Equal(t, "ok (0/16)", status.Components["result_cache"])

	_, err := a.Analyze(context.Background(), ports.AnalyzeRequest{})
	require.NoError(t, err)
	status = health.Check(context.Background())
	assert.Equal(t, "up", status.Status)
	assert.Contains(t, status.Components["last_run"], "ok (3 races, 0 warnings")
	assert.Equal(t, "ok (1/16)", status.Components["result_cache"])

	_, err = a.Analyze(context.Background(), ports.AnalyzeRequest{SnapshotPath: filepath.Join(dir, "missing.json")})
	require.Error(t, err)
	status = health.Check(context.Background())
	assert.Equal(t, "degraded", status.Status)
	assert.Contains(t, status.Components["last_run"], "error: ")
}

func TestHealthService_HistoryStates(t *testing.T) {
	a, _ := newTestApp(t, nil)
	assert.Equal(t, "disabled", NewHealthService(a).Check(context.Background()).Components["history"])

	cfg := config.Default()
	cfg.DB.Enabled = true
	broken := &App{Config: cfg, engine: a.engine, results: a.results}
	status := NewHealthService(broken).Check(context.Background())
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "missing but enabled in config", status.Components["history"])
}

func TestHealthService_NoEngine(t *testing.T) {
	status := NewHealthService(nil).Check(context.Background())
	assert.Equal(t, "down", status.Status)
	assert.Equal(t, "missing", status.Components["engine"])
}
