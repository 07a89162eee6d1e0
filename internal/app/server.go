package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"codepad/apps/editor/internal/config"
	"codepad/apps/editor/internal/domain"
	"codepad/apps/editor/internal/events"
	"codepad/apps/editor/internal/logging"
	"codepad/apps/editor/internal/process"
	"codepad/apps/editor/internal/repo"
	"codepad/apps/editor/internal/runner"
	"codepad/apps/editor/internal/service/housekeeping"
	"codepad/apps/editor/internal/service/ports"
	"codepad/apps/editor/internal/service/workspace"
	"codepad/apps/editor/internal/watch"

	transport "codepad/apps/editor/internal/app/http"
)

// Version is reported by /version and the CLI.
const Version = "0.1.0"

// SessionHeader selects the workspace session a request acts on.
const SessionHeader = "X-Editor-Session"

type Server struct {
	cfg       config.Settings
	store     *repo.Store
	sessions  *workspace.Sessions
	files     *workspace.Service
	runner    ports.ChatRunner
	inflight  *runner.Inflight
	launcher  *process.Launcher
	hub       *events.Hub
	watcher   *watch.Watcher
	housekeep *housekeeping.Service

	closeOnce sync.Once
}

func NewServer(cfg config.Settings) (*Server, error) {
	retention, err := cfg.ScratchRetentionDuration()
	if err != nil {
		return nil, err
	}
	store, err := repo.NewStore(cfg.ConfigPath())
	if err != nil {
		return nil, err
	}

	hub := events.NewHub()
	deps := workspace.Dependencies{
		Store:      store,
		Publisher:  hub,
		Ignore:     cfg.Ignore,
		ScratchDir: cfg.ScratchDir,
	}
	watcher, err := watch.New(hub)
	if err != nil {
		logging.Warn("directory watcher unavailable", zap.Error(err))
		watcher = nil
	} else {
		deps.Watcher = watcher
	}
	files, err := workspace.NewService(deps)
	if err != nil {
		hub.Close()
		if watcher != nil {
			_ = watcher.Close()
		}
		return nil, err
	}

	sessions := workspace.NewSessions()
	sessions.OnEvict(files.Release)
	launcher := process.NewLauncher(process.Options{
		Interpreter:   cfg.Interpreter,
		CaptureOutput: cfg.CaptureOutput,
		Publisher:     hub,
	})
	srv := &Server{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		files:    files,
		runner:   runner.New(),
		inflight: runner.NewInflight(),
		launcher: launcher,
		hub:      hub,
		watcher:  watcher,
		housekeep: housekeeping.NewService(housekeeping.Dependencies{
			ScratchDir: files.ScratchDir(),
			Retention:  retention,
			Runs:       launcher,
			Sessions:   sessions,
		}),
	}
	if spec := strings.TrimSpace(cfg.Housekeeping); spec != "" {
		if err := srv.housekeep.Start(spec); err != nil {
			srv.Close()
			return nil, err
		}
	}
	return srv, nil
}

// Close stops background work. Spawned scripts keep running unless their
// output is captured.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.housekeep.Stop()
		if s.watcher != nil {
			if err := s.watcher.Close(); err != nil {
				logging.Warn("close directory watcher failed", zap.Error(err))
			}
		}
		s.hub.Close()
	})
}

// ConfigWarning reports why the editor config fell back to defaults.
func (s *Server) ConfigWarning() string {
	return s.store.LoadWarning()
}

// ConfigPath is the editor config document the server reads and writes.
func (s *Server) ConfigPath() string {
	return s.store.Path()
}

func (s *Server) Handler() http.Handler {
	handlers := transport.Handlers{
		Public: transport.PublicHandlers{
			Version: s.handleVersion,
			Healthz: s.handleHealthz,
		},
		Config: transport.ConfigHandlers{
			GetConfig:  s.getConfig,
			SaveConfig: s.saveConfig,
		},
		Files: transport.FileHandlers{
			List:           s.listFiles,
			Open:           s.openFile,
			Save:           s.saveFile,
			New:            s.newFile,
			Delete:         s.deleteFile,
			Rename:         s.renameFile,
			SaveTemp:       s.saveTempFile,
			MarkModified:   s.markModified,
			OpenDirectory:  s.openDirectory,
			WorkspaceState: s.workspaceState,
		},
		AI: transport.AIHandlers{
			Chat:   s.aiChat,
			Cancel: s.aiCancel,
		},
		Code: transport.CodeHandlers{
			Run:      s.runCode,
			ListRuns: s.listRuns,
			GetRun:   s.getRun,
			KillRun:  s.killRun,
		},
		Events: events.NewWSHandler(s.hub),
	}
	return transport.NewRouter(handlers, s.webHandler())
}

func (s *Server) webHandler() http.HandlerFunc {
	dir := strings.TrimSpace(s.cfg.WebDir)
	if dir == "" {
		return nil
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logging.Warn("web dir unavailable, static shell disabled", zap.String("web_dir", dir))
		return nil
	}
	return http.FileServer(http.Dir(dir)).ServeHTTP
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, domain.HealthStatus{
		OK:            true,
		ConfigWarning: s.store.LoadWarning(),
		ActiveRuns:    s.launcher.Active(),
		ActiveChats:   s.inflight.Len(),
		Sessions:      s.sessions.Count(),
		Watched:       s.watchedDirectories(),
		Subscribers:   s.hub.Count(),
	})
}

func (s *Server) watchedDirectories() int {
	if s.watcher == nil {
		return 0
	}
	return len(s.watcher.Directories())
}

// sessionFor resolves the caller's workspace session; no header means the
// shared default session.
func (s *Server) sessionFor(r *http.Request) *workspace.Session {
	return s.sessions.Get(r.Header.Get(SessionHeader))
}

// decodeJSON reads an optional JSON object body. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, domain.APIErrorBody{Error: message, Code: errCode})
}

// failRequest logs the failure once and writes the error envelope.
func failRequest(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	logger := logging.WithContext(r.Context())
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("code", code),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Warn("request rejected", fields...)
	}
	writeErr(w, status, code, message)
}

func invalidJSON(w http.ResponseWriter, r *http.Request, err error) {
	failRequest(w, r, http.StatusBadRequest, "invalid_json", "invalid request body", err)
}

// MaskKey hides all but the ends of a secret for display.
func MaskKey(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "***"
	}
	return s[:3] + "***" + s[len(s)-3:]
}
