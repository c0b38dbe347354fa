package backup

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taproom/internal/core"
	"taproom/internal/model"
)

// StateReader exposes the live snapshot to the scheduled backup job.
type StateReader interface {
	Read() *model.Snapshot
}

// ManagerConfig controls the scheduled backup job.
type ManagerConfig struct {
	Enabled       bool
	Schedule      string // cron expression, default nightly at midnight
	RetentionDays int
	MaxCount      int
}

// DefaultSchedule runs the automatic backup nightly at midnight.
const DefaultSchedule = "0 0 * * *"

// Manager runs the automatic backup and retention schedule.
type Manager struct {
	cfg    ManagerConfig
	store  *Store
	state  StateReader
	logger core.ILogger
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	lastRun time.Time
	lastErr error
	runs    int
}

// NewManager creates the scheduled backup manager.
func NewManager(cfg ManagerConfig, store *Store, state StateReader, logger core.ILogger) *Manager {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		state:  state,
		logger: logger.WithField("component", "backup_manager"),
		now:    time.Now,
	}
}

// Start registers the cron entry and starts the scheduler.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Info("Automatic backups disabled")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := cron.New()
	id, err := c.AddFunc(m.cfg.Schedule, m.runOnce)
	if err != nil {
		return err
	}
	m.cron = c
	m.entry = id
	c.Start()

	m.logger.Info("Automatic backup schedule started",
		"schedule", m.cfg.Schedule, "retention_days", m.cfg.RetentionDays)
	return nil
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow triggers one backup-and-prune pass outside the schedule.
func (m *Manager) RunNow() error {
	m.runOnce()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) runOnce() {
	now := m.now()
	snap := m.state.Read()

	_, err := m.store.Persist(AutoName(now), snap, "scheduled automatic backup", TypeAuto)
	if err != nil {
		m.logger.Error("Scheduled backup failed", "error", err)
	} else {
		result := m.store.Prune(m.cfg.RetentionDays, m.cfg.MaxCount)
		if len(result.Errors) > 0 {
			m.logger.Warn("Retention pruning finished with errors",
				"deleted", result.Deleted, "errors", result.Errors)
		} else if result.Deleted > 0 {
			m.logger.Info("Retention pruning complete",
				"deleted", result.Deleted, "kept", result.Kept)
		}
	}

	m.mu.Lock()
	m.lastRun = now
	m.lastErr = err
	m.runs++
	m.mu.Unlock()
}

// Status reports scheduler state for health and status endpoints.
type ManagerStatus struct {
	Enabled   bool      `json:"enabled"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
}

// Status returns the current scheduler status.
func (m *Manager) Status() ManagerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := ManagerStatus{
		Enabled:  m.cfg.Enabled,
		Schedule: m.cfg.Schedule,
		LastRun:  m.lastRun,
		Runs:     m.runs,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	if m.cron != nil {
		status.NextRun = m.cron.Entry(m.entry).Next
	}
	return status
}
