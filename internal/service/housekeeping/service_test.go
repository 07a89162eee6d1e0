package housekeeping

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	mu      sync.Mutex
	calls   []time.Duration
	removed int
}

func (p *fakePruner) Prune(olderThan time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, olderThan)
	return p.removed
}

func (p *fakePruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("print(1)\n"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweepRemovesOnlyStaleScratchFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := filepath.Join(dir, "old.py")
	fresh := filepath.Join(dir, "new.py")
	touch(t, stale, now.Add(-48*time.Hour))
	touch(t, fresh, now.Add(-time.Hour))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	runs := &fakePruner{removed: 2}
	sessions := &fakePruner{removed: 1}
	svc := NewService(Dependencies{
		ScratchDir: dir,
		Retention:  24 * time.Hour,
		Runs:       runs,
		Sessions:   sessions,
		Now:        func() time.Time { return now },
	})

	report := svc.Sweep()
	assert.Equal(t, Report{ScratchFiles: 1, Runs: 2, Sessions: 1}, report)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.DirExists(t, filepath.Join(dir, "nested"))
	assert.Equal(t, []time.Duration{24 * time.Hour}, runs.calls)
	assert.Equal(t, []time.Duration{24 * time.Hour}, sessions.calls)
}

func TestSweepToleratesMissingScratchDir(t *testing.T) {
	svc := NewService(Dependencies{
		ScratchDir: filepath.Join(t.TempDir(), "absent"),
		Retention:  time.Hour,
	})
	assert.Equal(t, Report{}, svc.Sweep())
}

func TestSweepDisabledWithoutRetention(t *testing.T) {
	runs := &fakePruner{removed: 5}
	svc := NewService(Dependencies{Runs: runs})
	assert.Equal(t, Report{}, svc.Sweep())
	assert.Empty(t, runs.calls)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	svc := NewService(Dependencies{Retention: time.Hour})
	for _, spec := range []string{"", "every tuesday", "61 * * * *"} {
		err := svc.Start(spec)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "spec %q: %v", spec, err)
		assert.Equal(t, "invalid_schedule", verr.Code)
	}
}

func TestStartRunsSweepOnSchedule(t *testing.T) {
	runs := &fakePruner{}
	svc := NewService(Dependencies{Retention: time.Hour, Runs: runs})
	require.NoError(t, svc.Start("@every 1s"))
	assert.ErrorIs(t, svc.Start("@every 1s"), ErrAlreadyStarted)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if runs.count() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	svc.Stop()
	assert.Positive(t, runs.count())
	svc.Stop()
}
