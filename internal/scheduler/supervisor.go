// Package scheduler owns the cycle clock: a single-instance file lock,
// a fixed-period trigger and the state machine around start and stop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/tmsbridge/gradewatch/internal/pkg/ctxlog"
)

// State is the supervisor lifecycle state.
type State int32

// Supervisor states.
const (
	StateNotRunning State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotRunning:
		return "not_running"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrNotStartable is returned when Start is called outside
// StateNotRunning.
var ErrNotStartable = errors.New("supervisor cannot start from current state")

// CycleRunner executes one complete pipeline cycle.
type CycleRunner interface {
	Run(ctx context.Context) error
}

// Config contains supervisor configuration.
type Config struct {
	// Interval between cycle firings.
	Interval time.Duration
	// CycleTimeout bounds one cycle; a hung remote endpoint must not
	// keep a cycle alive forever.
	CycleTimeout time.Duration
	// StopTimeout bounds the wait for an in-flight cycle on Stop.
	StopTimeout time.Duration
	// LockPath is the single-instance lock file location.
	LockPath string
}

// DefaultConfig returns default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     2 * time.Minute,
		CycleTimeout: 90 * time.Second,
		StopTimeout:  30 * time.Second,
		LockPath:     ".gradewatch.lock",
	}
}

// Supervisor drives cycles on a fixed period. A slow cycle never
// overlaps the next firing: the tick is skipped instead.
type Supervisor struct {
	config Config
	runner CycleRunner
	logger *slog.Logger
	lock   *FileLock
	cron   *cron.Cron

	mu    sync.Mutex
	state State
}

// New creates a supervisor around the given cycle runner.
func New(config Config, runner CycleRunner, logger *slog.Logger) *Supervisor {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = defaults.CycleTimeout
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = defaults.StopTimeout
	}
	if config.LockPath == "" {
		config.LockPath = defaults.LockPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		config: config,
		runner: runner,
		logger: logger,
		lock:   NewFileLock(config.LockPath),
		state:  StateNotRunning,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Start acquires the single-instance lock and begins firing cycles.
// If another supervisor holds the lock, Start fails without running
// anything.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.state != StateNotRunning {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotStartable, state)
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.lock.Acquire(); err != nil {
		s.setState(StateNotRunning)
		return fmt.Errorf("acquire lock: %w", err)
	}

	cronLogger := &slogCronLogger{logger: s.logger}
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	s.cron.Schedule(cron.Every(s.config.Interval), cron.FuncJob(s.cycle))
	s.cron.Start()

	s.setState(StateRunning)
	s.logger.Info("supervisor started",
		"interval", s.config.Interval,
		"lock", s.config.LockPath,
	)
	return nil
}

// Stop halts the trigger, waits for the in-flight cycle bounded by
// StopTimeout and releases the lock.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("supervisor not running: %s", state)
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.logger.Info("supervisor stopping")

	drained := s.cron.Stop()
	select {
	case <-drained.Done():
	case <-time.After(s.config.StopTimeout):
		s.logger.Warn("in-flight cycle did not finish before stop timeout")
	}

	err := s.lock.Release()

	s.setState(StateStopped)
	s.logger.Info("supervisor stopped")
	return err
}

// cycle runs one pipeline pass with its own correlation id and
// timeout.
func (s *Supervisor) cycle() {
	cycleID := uuid.NewString()
	logger := s.logger.With("cycle_id", cycleID)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.CycleTimeout)
	defer cancel()
	ctx = ctxlog.WithLogger(ctx, logger)

	start := time.Now()
	logger.Debug("cycle started")

	if err := s.runner.Run(ctx); err != nil {
		logger.Error("cycle failed", "error", err, "duration", time.Since(start))
		recordCycle("failure", time.Since(start))
		return
	}

	logger.Info("cycle finished", "duration", time.Since(start))
	recordCycle("success", time.Since(start))
}

// slogCronLogger adapts slog to the cron logger interface.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
