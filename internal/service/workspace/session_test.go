package workspace

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestSessionsIsolateClients(t *testing.T) {
	t.Parallel()
	reg := NewSessions()
	a := reg.Get("a")
	b := reg.Get("b")
	a.setFile("/w/a.py")
	b.setFile("/w/b.py")

	if reg.Get("a").CurrentFile() != "/w/a.py" || reg.Get("b").CurrentFile() != "/w/b.py" {
		t.Fatalf("sessions must not share state")
	}
	if reg.Get("").ID() != DefaultSessionID {
		t.Fatalf("blank id must map to the default session")
	}
}

func TestSessionsPruneKeepsDefault(t *testing.T) {
	t.Parallel()
	reg := NewSessions()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }
	var evicted []string
	reg.OnEvict(func(s *Session) { evicted = append(evicted, s.ID()) })
	reg.Get(DefaultSessionID)
	reg.Get("stale")

	now = now.Add(2 * time.Hour)
	reg.Get("fresh")

	if removed := reg.Prune(time.Hour); removed != 1 {
		t.Fatalf("expected one pruned session, got=%d", removed)
	}
	if len(evicted) != 1 || evicted[0] != "stale" {
		t.Fatalf("expected the stale session to be evicted, got=%v", evicted)
	}
	if reg.Count() != 2 {
		t.Fatalf("unexpected remaining sessions: %d", reg.Count())
	}
	if _, ok := reg.sessions["fresh"]; !ok {
		t.Fatalf("fresh session must survive")
	}
}

func TestSessionMovedRebasesNestedPaths(t *testing.T) {
	t.Parallel()
	s := NewSession("x")
	oldDir := filepath.Join("/w", "pkg")
	newDir := filepath.Join("/w", "lib")
	s.setDirectory(oldDir)
	s.setFile(filepath.Join(oldDir, "sub", "m.py"))

	s.moved(oldDir, newDir)

	if got := s.CurrentFile(); got != filepath.Join(newDir, "sub", "m.py") {
		t.Fatalf("unexpected rebased file: %q", got)
	}
	if got := s.CurrentDirectory(); got != newDir {
		t.Fatalf("unexpected rebased dir: %q", got)
	}
}

func TestIsWithin(t *testing.T) {
	t.Parallel()
	root := filepath.Join("/w", "pkg")
	cases := []struct {
		path string
		want bool
	}{
		{filepath.Join("/w", "pkg"), true},
		{filepath.Join("/w", "pkg", "a.py"), true},
		{filepath.Join("/w", "pkg2", "a.py"), false},
		{filepath.Join("/w"), false},
	}
	for _, tc := range cases {
		if got := isWithin(tc.path, root); got != tc.want {
			t.Fatalf("isWithin(%q, %q)=%v want=%v", tc.path, root, got, tc.want)
		}
	}
}

func TestSessionConcurrentAccess(t *testing.T) {
	t.Parallel()
	s := NewSession("race")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.setFile(filepath.Join("/w", "f.py"))
			s.setModified(i%2 == 0)
			_ = s.State()
		}(i)
	}
	wg.Wait()
	if s.CurrentFile() != filepath.Join("/w", "f.py") {
		t.Fatalf("unexpected current file: %q", s.CurrentFile())
	}
}
