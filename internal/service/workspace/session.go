package workspace

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codepad/apps/editor/internal/domain"
)

const DefaultSessionID = "default"

// Session is one client's view of the workspace: the open file, its dirty
// flag and the directory shown in the tree.
type Session struct {
	id string

	mu               sync.RWMutex
	currentFile      string
	modified         bool
	currentDirectory string
	watched          string
	lastSeen         time.Time
}

func NewSession(id string) *Session {
	if strings.TrimSpace(id) == "" {
		id = DefaultSessionID
	}
	return &Session{id: id, lastSeen: time.Now()}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() domain.WorkspaceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.WorkspaceState{
		SessionID:        s.id,
		CurrentFile:      s.currentFile,
		FileModified:     s.modified,
		CurrentDirectory: s.currentDirectory,
	}
}

func (s *Session) CurrentFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentFile
}

func (s *Session) CurrentDirectory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentDirectory
}

// setFile marks path as the open, clean file.
func (s *Session) setFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentFile = path
	s.modified = false
}

func (s *Session) setDirectory(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentDirectory = path
}

func (s *Session) watchedDirectory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watched
}

func (s *Session) setWatchedDirectory(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watched = dir
}

func (s *Session) setModified(modified bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified = modified
}

// forget clears any state that pointed at or below a deleted path.
func (s *Session) forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentFile != "" && isWithin(s.currentFile, path) {
		s.currentFile = ""
		s.modified = false
	}
	if s.currentDirectory != "" && isWithin(s.currentDirectory, path) {
		s.currentDirectory = ""
	}
}

// moved rewrites state under oldPath to live under newPath.
func (s *Session) moved(oldPath, newPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentFile = rebase(s.currentFile, oldPath, newPath)
	s.currentDirectory = rebase(s.currentDirectory, oldPath, newPath)
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

func rebase(path, oldPath, newPath string) string {
	if path == "" || !isWithin(path, oldPath) {
		return path
	}
	rel, err := filepath.Rel(oldPath, path)
	if err != nil || rel == "." {
		return newPath
	}
	return filepath.Join(newPath, rel)
}

func isWithin(path, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Sessions hands out one Session per client id. The default session is
// never pruned, so a single client behaves like process-wide state.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
	onEvict  func(*Session)
}

func NewSessions() *Sessions {
	return &Sessions{
		sessions: map[string]*Session{},
		now:      time.Now,
	}
}

func (r *Sessions) Get(id string) *Session {
	id = strings.TrimSpace(id)
	if id == "" {
		id = DefaultSessionID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = NewSession(id)
		r.sessions[id] = s
	}
	s.touch(r.now())
	return s
}

// OnEvict registers fn to run for every session Prune drops.
func (r *Sessions) OnEvict(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// Count reports the live sessions, the default one included.
func (r *Sessions) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Prune drops non-default sessions not seen for olderThan.
func (r *Sessions) Prune(olderThan time.Duration) int {
	cutoff := r.now().Add(-olderThan)
	r.mu.Lock()
	var evicted []*Session
	for id, s := range r.sessions {
		if id == DefaultSessionID {
			continue
		}
		if s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, s)
		}
	}
	onEvict := r.onEvict
	r.mu.Unlock()

	if onEvict != nil {
		for _, s := range evicted {
			onEvict(s)
		}
	}
	return len(evicted)
}
