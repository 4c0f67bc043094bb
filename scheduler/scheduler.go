// Package scheduler runs the background jobs of the server: a health check
// of the tldw server and a periodic refresh of its model list.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Desarso/tldwchat/models/tldw"
)

const (
	HealthSchedule       = "@every 30s"
	ModelRefreshSchedule = "@every 10m"
	jobTimeout           = 15 * time.Second
)

// Scheduler owns the cron runner and its named entries.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger.Named("scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Register adds job under name, replacing an earlier job of that name.
func (s *Scheduler) Register(name, schedule string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	id, err := s.cron.AddFunc(schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
			}
		}()
		job()
	})
	if err != nil {
		return fmt.Errorf("failed to add schedule %q: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

// NextRun returns when name runs next, or the zero time if it is unknown
// or the scheduler is not running.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// HealthChecker is implemented by *tldw.Client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// HealthStatus is the last observed state of the server.
type HealthStatus struct {
	Healthy     bool      `json:"healthy"`
	CheckedAt   time.Time `json:"checked_at"`
	ChangedAt   time.Time `json:"changed_at"`
	Consecutive int       `json:"consecutive"`
}

// HealthMonitor pings the server and logs transitions between healthy and
// unhealthy.
type HealthMonitor struct {
	checker HealthChecker
	logger  *zap.Logger
	mu      sync.RWMutex
	status  HealthStatus
	checked bool
}

func NewHealthMonitor(checker HealthChecker, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{checker: checker, logger: logger.Named("health")}
}

// Check pings the server once and records the result.
func (m *HealthMonitor) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	healthy := m.checker.HealthCheck(ctx)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.checked || m.status.Healthy != healthy:
		if m.checked {
			if healthy {
				m.logger.Info("tldw server recovered")
			} else {
				m.logger.Warn("tldw server unreachable")
			}
		}
		m.status = HealthStatus{Healthy: healthy, CheckedAt: now, ChangedAt: now, Consecutive: 1}
		m.checked = true
	default:
		m.status.CheckedAt = now
		m.status.Consecutive++
	}
	return m.status
}

// Status returns the last recorded result. ok is false before the first check.
func (m *HealthMonitor) Status() (status HealthStatus, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.checked
}

// ModelLister is implemented by *tldw.Client.
type ModelLister interface {
	GetModels(ctx context.Context) ([]tldw.Model, error)
}

// ModelCache keeps the last successfully fetched model list.
type ModelCache struct {
	lister    ModelLister
	logger    *zap.Logger
	mu        sync.RWMutex
	models    []tldw.Model
	fetchedAt time.Time
}

func NewModelCache(lister ModelLister, logger *zap.Logger) *ModelCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelCache{lister: lister, logger: logger.Named("models")}
}

// Refresh fetches the model list. A failure keeps the previous list.
func (c *ModelCache) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	list, err := c.lister.GetModels(ctx)
	if err != nil {
		c.logger.Warn("model refresh failed", zap.Error(err))
		return err
	}
	c.mu.Lock()
	c.models = list
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	c.logger.Debug("models refreshed", zap.Int("count", len(list)))
	return nil
}

// Models returns the cached list, refreshing it first when it is empty.
func (c *ModelCache) Models(ctx context.Context) ([]tldw.Model, error) {
	c.mu.RLock()
	list := c.models
	c.mu.RUnlock()
	if list != nil {
		return list, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.models, nil
}

// FetchedAt is the time of the last successful refresh.
func (c *ModelCache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Jobs wires the health monitor and model cache into s and runs both once.
func Jobs(ctx context.Context, s *Scheduler, health *HealthMonitor, cache *ModelCache) error {
	if health != nil {
		if err := s.Register("health", HealthSchedule, func() { health.Check(ctx) }); err != nil {
			return err
		}
		health.Check(ctx)
	}
	if cache != nil {
		if err := s.Register("models", ModelRefreshSchedule, func() { _ = cache.Refresh(ctx) }); err != nil {
			return err
		}
		_ = cache.Refresh(ctx)
	}
	return nil
}
