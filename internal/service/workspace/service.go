package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"codepad/apps/editor/internal/domain"
	"codepad/apps/editor/internal/events"
	"codepad/apps/editor/internal/logging"
	"codepad/apps/editor/internal/metrics"
	"codepad/apps/editor/internal/service/ports"
)

const (
	CodeMissingArgument = "missing_argument"
	CodeInvalidPath     = "invalid_path"
	CodeInvalidArgument = "invalid_argument"
	CodeIOError         = "io_error"

	DefaultTempFilename = "temp_script.py"
)

var ErrInvalidPath = errors.New("workspace_invalid_path")

type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Is lets callers test invalid-path failures with errors.Is(err, ErrInvalidPath).
func (e *ValidationError) Is(target error) bool {
	return e != nil && target == ErrInvalidPath && e.Code == CodeInvalidPath
}

type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *FileError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func missingArgument(message string) error {
	return &ValidationError{Code: CodeMissingArgument, Message: message}
}

func invalidPath(message string) error {
	return &ValidationError{Code: CodeInvalidPath, Message: message}
}

type Dependencies struct {
	Store      ports.ConfigStore
	Publisher  ports.EventPublisher
	Watcher    ports.DirectoryWatcher
	Ignore     []string
	ScratchDir string
}

type Service struct {
	deps   Dependencies
	ignore []glob.Glob
}

// NewService compiles the ignore globs up front; a bad pattern fails here
// rather than on every listing.
func NewService(deps Dependencies) (*Service, error) {
	if strings.TrimSpace(deps.ScratchDir) == "" {
		deps.ScratchDir = filepath.Join(os.TempDir(), "codepad-scratch")
	}
	s := &Service{deps: deps}
	for _, pattern := range deps.Ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		s.ignore = append(s.ignore, g)
	}
	return s, nil
}

func (s *Service) ScratchDir() string {
	return s.deps.ScratchDir
}

func (s *Service) List(session *Session, path string) (domain.DirectoryListing, error) {
	listing, err := s.list(session, path)
	metrics.RecordFileOperation("list", err == nil)
	return listing, err
}

func (s *Service) list(session *Session, path string) (domain.DirectoryListing, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = session.CurrentDirectory()
	}
	if path == "" {
		return domain.DirectoryListing{}, missingArgument("Path is required")
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return domain.DirectoryListing{}, invalidPath("Invalid path")
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return domain.DirectoryListing{}, &FileError{Op: "list", Path: path, Err: err}
	}

	items := make([]domain.FileItem, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || s.ignored(name) {
			continue
		}
		full := filepath.Join(path, name)
		isDir := entry.IsDir()
		if entry.Type()&os.ModeSymlink != 0 {
			if target, err := os.Stat(full); err == nil {
				isDir = target.IsDir()
			}
		}
		items = append(items, domain.FileItem{
			Name:  name,
			Path:  full,
			IsDir: isDir,
			Icon:  iconFor(name, isDir),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return domain.DirectoryListing{Items: items, CurrentPath: path}, nil
}

func (s *Service) ignored(name string) bool {
	for _, g := range s.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Read returns the file as UTF-8 text and makes it the session's open file.
// Persisting last_file is best effort.
func (s *Service) Read(session *Session, path string) (domain.OpenedFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.OpenedFile{}, missingArgument("Path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		metrics.RecordFileOperation("read", false)
		return domain.OpenedFile{}, &FileError{Op: "read", Path: path, Err: err}
	}
	if !utf8.Valid(raw) {
		metrics.RecordFileOperation("read", false)
		return domain.OpenedFile{}, &FileError{Op: "read", Path: path, Err: fmt.Errorf("%s is not valid UTF-8 text", path)}
	}
	metrics.RecordFileOperation("read", true)

	session.setFile(path)
	if s.deps.Store != nil {
		if err := s.deps.Store.SetLastFile(path); err != nil {
			logging.Warn("persist last_file failed", zap.String("path", path), zap.Error(err))
		}
	}
	s.publish(events.Event{Type: events.TypeFileOpened, Path: path, Session: session.ID()})
	return domain.OpenedFile{Content: string(raw), Filename: filepath.Base(path), Path: path}, nil
}

// Write fully overwrites path, defaulting to the session's open file.
func (s *Service) Write(session *Session, path, content string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = session.CurrentFile()
	}
	if path == "" {
		return "", missingArgument("No file path specified")
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		metrics.RecordFileOperation("write", false)
		return "", &FileError{Op: "write", Path: path, Err: err}
	}
	metrics.RecordFileOperation("write", true)
	session.setFile(path)
	s.publish(events.Event{Type: events.TypeFileSaved, Path: path, Session: session.ID()})
	return path, nil
}

// Create makes an empty file and never clobbers an existing one.
func (s *Service) Create(session *Session, directory, filename string) (string, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return "", missingArgument("Filename is required")
	}
	if !isPlainName(filename) {
		return "", invalidPath("Filename must not contain path separators")
	}
	directory = strings.TrimSpace(directory)
	if directory == "" {
		directory = session.CurrentDirectory()
	}
	if directory == "" {
		return "", missingArgument("Directory is required")
	}

	path := filepath.Join(directory, filename)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		metrics.RecordFileOperation("create", false)
		return "", &FileError{Op: "create", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		metrics.RecordFileOperation("create", false)
		return "", &FileError{Op: "create", Path: path, Err: err}
	}
	metrics.RecordFileOperation("create", true)
	s.publish(events.Event{Type: events.TypeFileCreated, Path: path, Session: session.ID()})
	return path, nil
}

// Delete removes a file, or a directory and everything below it.
func (s *Service) Delete(session *Session, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return missingArgument("Path is required")
	}
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return invalidPath("File not found")
	}
	if err != nil {
		metrics.RecordFileOperation("delete", false)
		return &FileError{Op: "delete", Path: path, Err: err}
	}
	if info.IsDir() {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		metrics.RecordFileOperation("delete", false)
		return &FileError{Op: "delete", Path: path, Err: err}
	}
	metrics.RecordFileOperation("delete", true)
	session.forget(path)
	s.publish(events.Event{Type: events.TypeFileDeleted, Path: path, Session: session.ID()})
	return nil
}

// Rename moves oldPath to a sibling called newName. An existing sibling is
// a conflict unless it is the same file, as with a case-only rename on a
// case-insensitive filesystem.
func (s *Service) Rename(session *Session, oldPath, newName string) (string, error) {
	oldPath = strings.TrimSpace(oldPath)
	newName = strings.TrimSpace(newName)
	if oldPath == "" {
		return "", missingArgument("Path is required")
	}
	if newName == "" {
		return "", missingArgument("New name is required")
	}
	if !isPlainName(newName) {
		return "", invalidPath("New name must not contain path separators")
	}
	oldInfo, err := os.Lstat(oldPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", invalidPath("File not found")
	}
	if err != nil {
		metrics.RecordFileOperation("rename", false)
		return "", &FileError{Op: "rename", Path: oldPath, Err: err}
	}

	target := filepath.Join(filepath.Dir(oldPath), newName)
	if target == filepath.Clean(oldPath) {
		return target, nil
	}
	if targetInfo, err := os.Lstat(target); err == nil && !os.SameFile(oldInfo, targetInfo) {
		metrics.RecordFileOperation("rename", false)
		return "", &FileError{Op: "rename", Path: target, Err: fmt.Errorf("%s already exists", target)}
	}
	if err := os.Rename(oldPath, target); err != nil {
		metrics.RecordFileOperation("rename", false)
		return "", &FileError{Op: "rename", Path: oldPath, Err: err}
	}
	metrics.RecordFileOperation("rename", true)
	session.moved(filepath.Clean(oldPath), target)
	s.publish(events.Event{Type: events.TypeFileRenamed, Path: target, OldPath: oldPath, Session: session.ID()})
	return target, nil
}

func (s *Service) OpenDirectory(session *Session, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", invalidPath("Invalid directory")
	}
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", invalidPath("Invalid directory")
	}
	session.setDirectory(path)
	s.rewatch(session, path)
	s.publish(events.Event{Type: events.TypeDirectoryOpened, Path: path, Session: session.ID()})
	return path, nil
}

// rewatch moves the session's watch to dir. Only a successful Watch is
// remembered, so each Unwatch pairs with one Watch.
func (s *Service) rewatch(session *Session, dir string) {
	if s.deps.Watcher == nil {
		return
	}
	previous := session.watchedDirectory()
	if previous == dir {
		return
	}
	watched := ""
	if err := s.deps.Watcher.Watch(dir); err != nil {
		logging.Warn("watch directory failed", zap.String("directory", dir), zap.Error(err))
	} else {
		watched = dir
	}
	session.setWatchedDirectory(watched)
	if previous != "" {
		if err := s.deps.Watcher.Unwatch(previous); err != nil {
			logging.Warn("unwatch directory failed", zap.String("directory", previous), zap.Error(err))
		}
	}
}

// Release stops watching the session's directory. Sessions calls it when an
// idle session is pruned.
func (s *Service) Release(session *Session) {
	if s.deps.Watcher == nil {
		return
	}
	dir := session.watchedDirectory()
	if dir == "" {
		return
	}
	session.setWatchedDirectory("")
	if err := s.deps.Watcher.Unwatch(dir); err != nil {
		logging.Warn("unwatch directory failed", zap.String("directory", dir), zap.Error(err))
	}
}

// SaveTemp writes a scratch copy used by the run button. Only the base name
// of filename is kept.
func (s *Service) SaveTemp(filename, content string) (string, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		name = DefaultTempFilename
	}
	if err := os.MkdirAll(s.deps.ScratchDir, 0o755); err != nil {
		metrics.RecordFileOperation("save_temp", false)
		return "", &FileError{Op: "save_temp", Path: s.deps.ScratchDir, Err: err}
	}
	path := filepath.Join(s.deps.ScratchDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		metrics.RecordFileOperation("save_temp", false)
		return "", &FileError{Op: "save_temp", Path: path, Err: err}
	}
	metrics.RecordFileOperation("save_temp", true)
	return path, nil
}

func (s *Service) MarkModified(session *Session, modified bool) domain.WorkspaceState {
	session.setModified(modified)
	return session.State()
}

func (s *Service) State(session *Session) domain.WorkspaceState {
	return session.State()
}

func (s *Service) publish(event events.Event) {
	if s.deps.Publisher != nil {
		s.deps.Publisher.Publish(event)
	}
}

func isPlainName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}
