package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, level string) {
	t.Helper()
	content := sampleConfig + "logging:\n  level: " + level + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "apiguard.yaml")
	writeConfig(t, path, "info")

	var lastLevel atomic.Value
	w, err := NewWatcher(path, func(r Reload) {
		assert.Empty(t, r.Pending)
		lastLevel.Store(r.Current.Logging.Level)
	}, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	assert.Equal(t, "info", w.LastConfig().Logging.Level)

	writeConfig(t, path, "debug")

	require.Eventually(t, func() bool {
		v, _ := lastLevel.Load().(string)
		return v == "debug"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "debug", w.LastConfig().Logging.Level)
}

func TestWatcher_RejectsInvalidReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "apiguard.yaml")
	writeConfig(t, path, "info")

	var errs atomic.Int32
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(10*time.Millisecond),
		WithErrorCallback(func(error) { errs.Add(1) }),
	)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	broken := strings.Replace(sampleConfig, "capacity: 5", "capacity: -1", 1)
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o600))

	require.Eventually(t, func() bool { return errs.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 5, w.LastConfig().RateLimit.Capacity)
}

func TestWatcher_StartFailsOnInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "apiguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rateLimit:\n  capacity: 0\n"), 0o600))

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
	assert.NoError(t, w.Stop())
}

func TestWatcher_ReportsRestartOnlySections(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "apiguard.yaml")
	writeConfig(t, path, "info")

	reloads := make(chan Reload, 4)
	w, err := NewWatcher(path, func(r Reload) { reloads <- r }, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	changed := strings.Replace(sampleConfig, "capacity: 5", "capacity: 7", 1) + "logging:\n  level: warn\n"
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o600))

	select {
	case r := <-reloads:
		assert.Equal(t, []string{"rateLimit"}, r.Pending)
		assert.Equal(t, 5, r.Previous.RateLimit.Capacity)
		assert.Equal(t, 7, r.Current.RateLimit.Capacity)
		assert.Equal(t, "warn", r.Current.Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload reported")
	}
}

func TestPendingSections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{name: "unchanged", mutate: func(*Config) {}},
		{name: "logging only", mutate: func(c *Config) { c.Logging.Level = "debug" }},
		{
			name:   "public paths and upstream",
			mutate: func(c *Config) {
				c.PublicPaths = append(c.PublicPaths, "/docs/**")
				c.Upstream.URL = "http://backend:9000"
			},
			want:   []string{"publicPaths", "upstream"},
		},
		{name: "jwt secret", mutate: func(c *Config) { c.JWT.Secret = "rotated" }, want: []string{"jwt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			prev := DefaultConfig()
			next := DefaultConfig()
			tt.mutate(next)
			assert.Equal(t, tt.want, PendingSections(prev, next))
		})
	}

	assert.Nil(t, PendingSections(nil, DefaultConfig()))
}
