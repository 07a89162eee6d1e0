// Package housekeeping sweeps stale scratch files, finished runs and idle
// sessions on a cron schedule.
package housekeeping

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"codepad/apps/editor/internal/logging"
	"codepad/apps/editor/internal/metrics"
	"codepad/apps/editor/internal/service/ports"
)

var ErrAlreadyStarted = errors.New("housekeeping_already_started")

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

type Dependencies struct {
	ScratchDir string
	Retention  time.Duration
	Runs       ports.Pruner
	Sessions   ports.Pruner
	Now        func() time.Time
}

// Report counts what one sweep removed.
type Report struct {
	ScratchFiles int
	Runs         int
	Sessions     int
}

type Service struct {
	deps Dependencies

	mu    sync.Mutex
	sched *cronv3.Cron
}

func NewService(deps Dependencies) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{deps: deps}
}

// Start schedules Sweep. spec accepts standard five-field expressions, an
// optional seconds field and descriptors such as "@every 10m".
func (s *Service) Start(spec string) error {
	schedule, err := parseSchedule(spec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		return ErrAlreadyStarted
	}
	logger := cronLogger{}
	sched := cronv3.New(
		cronv3.WithLogger(logger),
		cronv3.WithChain(cronv3.Recover(logger), cronv3.SkipIfStillRunning(logger)),
	)
	sched.Schedule(schedule, cronv3.FuncJob(func() { s.Sweep() }))
	sched.Start()
	s.sched = sched
	logging.Info("housekeeping scheduled", zap.String("schedule", spec))
	return nil
}

// Stop halts the schedule and waits for a sweep in progress.
func (s *Service) Stop() {
	s.mu.Lock()
	sched := s.sched
	s.sched = nil
	s.mu.Unlock()
	if sched != nil {
		<-sched.Stop().Done()
	}
}

func (s *Service) Sweep() Report {
	var report Report
	if s.deps.Retention <= 0 {
		return report
	}
	report.ScratchFiles = s.sweepScratch()
	if s.deps.Runs != nil {
		report.Runs = s.deps.Runs.Prune(s.deps.Retention)
	}
	if s.deps.Sessions != nil {
		report.Sessions = s.deps.Sessions.Prune(s.deps.Retention)
	}
	metrics.RecordHousekeeping("scratch", report.ScratchFiles)
	metrics.RecordHousekeeping("runs", report.Runs)
	metrics.RecordHousekeeping("sessions", report.Sessions)
	if report.ScratchFiles+report.Runs+report.Sessions > 0 {
		logging.Info("housekeeping sweep",
			zap.Int("scratch_files", report.ScratchFiles),
			zap.Int("runs", report.Runs),
			zap.Int("sessions", report.Sessions),
		)
	}
	return report
}

func (s *Service) sweepScratch() int {
	dir := strings.TrimSpace(s.deps.ScratchDir)
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("read scratch dir failed", zap.String("dir", dir), zap.Error(err))
		}
		return 0
	}
	cutoff := s.deps.Now().Add(-s.deps.Retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			logging.Warn("remove scratch file failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}

func parseSchedule(spec string) (cronv3.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, &ValidationError{Code: "invalid_schedule", Message: "housekeeping schedule is required"}
	}
	parser := cronv3.NewParser(cronv3.SecondOptional | cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow | cronv3.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, &ValidationError{Code: "invalid_schedule", Message: "invalid housekeeping schedule: " + err.Error()}
	}
	return schedule, nil
}

// cronLogger routes scheduler diagnostics into zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.S().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.S().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
