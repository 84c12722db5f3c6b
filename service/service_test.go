package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-media/types"
)

func writeServiceConfig(t *testing.T, cacheDir, sweep string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	body := fmt.Sprintf(`
logger:
  level: error
cache:
  dir: %q
  sweep_interval: %q
server:
  enabled: false
metrics:
  go_metrics: false
`, cacheDir, sweep)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestServiceLifecycle(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))

	expired := filepath.Join(cacheDir, "1_old.jpg")
	fresh := filepath.Join(cacheDir, "2_new.jpg")
	require.NoError(t, os.WriteFile(expired, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(expired, old, old))

	svc, err := NewService(context.Background(), writeServiceConfig(t, cacheDir, "@every 1h"))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start() }()

	require.Eventually(t, svc.IsRunning, 5*time.Second, 10*time.Millisecond)

	assert.NoFileExists(t, expired)
	assert.FileExists(t, fresh)

	jobs := map[string]bool{}
	for _, job := range svc.cron.Jobs() {
		jobs[job.Name] = true
	}
	assert.True(t, jobs[JobCacheExpirySweep])
	assert.True(t, jobs[JobCacheGauges])

	report := svc.health.Check(context.Background())
	assert.Equal(t, types.StatusHealthy, report.Status)

	result, err := svc.Router().Handle(context.Background(), "ops", "cache status")
	require.NoError(t, err)
	require.Len(t, result.Replies, 1)
	assert.Contains(t, result.Replies[0], "Cache: 1 files")

	require.NoError(t, svc.Stop())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}

	assert.False(t, svc.IsRunning())
	assert.False(t, svc.scheduler.IsRunning())
	assert.False(t, svc.cron.IsRunning())
	assert.ErrorIs(t, svc.Stop(), types.ErrServiceIsNotRunning)
}

func TestServiceStartFailsOnBadSweepInterval(t *testing.T) {
	svc, err := NewService(context.Background(), writeServiceConfig(t, filepath.Join(t.TempDir(), "cache"), "every so often"))
	require.NoError(t, err)

	err = svc.Start()
	assert.ErrorIs(t, err, types.ErrCronExpressionInvalid)
	assert.False(t, svc.IsRunning())
}
