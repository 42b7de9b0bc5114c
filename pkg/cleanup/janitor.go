// Package cleanup runs the periodic sweep of stale staging directories and
// expired cache entries.
package cleanup

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/psantana5/spotdl-api/pkg/cache"
	"github.com/psantana5/spotdl-api/pkg/metrics"
	"github.com/psantana5/spotdl-api/pkg/staging"
)

// Config defines sweep cadence and age thresholds. MaxAge applies to
// staging directories; cache result directories live for CacheTTL, which
// falls back to MaxAge when unset.
type Config struct {
	Enabled  bool
	Interval time.Duration
	MaxAge   time.Duration
	CacheTTL time.Duration
}

func (c Config) cacheTTL() time.Duration {
	if c.CacheTTL > 0 {
		return c.CacheTTL
	}
	return c.MaxAge
}

// DefaultConfig sweeps every 5 minutes and removes anything older than an hour
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Interval: 5 * time.Minute,
		MaxAge:   time.Hour,
		CacheTTL: time.Hour,
	}
}

// Hook is an extra sweep target; it returns how many items it removed
type Hook func(ctx context.Context) (int, error)

// Stats tracks janitor activity
type Stats struct {
	LastSweepTime       time.Time     `json:"last_sweep_time"`
	LastSweepDuration   time.Duration `json:"last_sweep_duration"`
	TotalSweeps         int64         `json:"total_sweeps"`
	TotalStagingRemoved int64         `json:"total_staging_removed"`
	TotalCacheEntries   int64         `json:"total_cache_entries_removed"`
	TotalCacheDirs      int64         `json:"total_cache_dirs_removed"`
	TotalErrors         int64         `json:"total_errors"`
}

// SweepResult reports one pass
type SweepResult struct {
	StagingRemoved int
	CacheEntries   int
	CacheDirs      int
	Hooks          map[string]int
	Errors         int
}

type namedHook struct {
	name string
	fn   Hook
}

// Janitor deletes staging directories and cache results past MaxAge.
// Individual failures are logged and skipped; a sweep never aborts early.
type Janitor struct {
	config  Config
	area    *staging.Area
	index   cache.Index
	hooks   []namedHook
	logger  *zap.Logger
	metrics *metrics.Metrics

	now    func() time.Time
	remove func(string) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	sweep  sync.Mutex

	mu    sync.RWMutex
	stats Stats
}

// Option configures a Janitor
type Option func(*Janitor)

func WithLogger(logger *zap.Logger) Option {
	return func(j *Janitor) { j.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Janitor) { j.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// WithHook adds a named target swept after the built-in ones
func WithHook(name string, fn Hook) Option {
	return func(j *Janitor) { j.hooks = append(j.hooks, namedHook{name: name, fn: fn}) }
}

// New creates a janitor over area. index may be nil.
func New(config Config, area *staging.Area, index cache.Index, opts ...Option) *Janitor {
	ctx, cancel := context.WithCancel(context.Background())
	j := &Janitor{
		config: config,
		area:   area,
		index:  index,
		logger: zap.NewNop(),
		now:    time.Now,
		remove: os.RemoveAll,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start runs one sweep immediately and then one per interval
func (j *Janitor) Start() {
	if !j.config.Enabled {
		j.logger.Info("janitor disabled")
		return
	}

	j.logger.Info("starting janitor",
		zap.Duration("interval", j.config.Interval),
		zap.Duration("max_age", j.config.MaxAge))

	j.wg.Add(1)
	go j.loop()
}

// Stop ends the loop and waits for a running sweep
func (j *Janitor) Stop() {
	j.once.Do(func() {
		j.cancel()
		j.wg.Wait()
		j.logger.Info("janitor stopped")
	})
}

func (j *Janitor) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.SweepNow(j.ctx)
	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.SweepNow(j.ctx)
		}
	}
}

// SweepNow performs one pass. Concurrent calls are serialized.
func (j *Janitor) SweepNow(ctx context.Context) SweepResult {
	j.sweep.Lock()
	defer j.sweep.Unlock()

	start := time.Now()
	now := j.now()
	var res SweepResult

	if stale, err := j.area.StaleStagingDirs(now, j.config.MaxAge); err != nil {
		j.logger.Error("failed to scan staging dirs", zap.Error(err))
		res.Errors++
	} else {
		res.StagingRemoved = j.removeDirs(stale, "staging", &res)
	}

	if j.index != nil {
		removed, err := j.index.Sweep(ctx)
		if err != nil {
			j.logger.Error("failed to sweep cache index", zap.Error(err))
			res.Errors++
		}
		res.CacheEntries = len(removed)
	}

	if stale, err := j.area.StaleCacheDirs(now, j.config.cacheTTL()); err != nil {
		j.logger.Error("failed to scan cache dirs", zap.Error(err))
		res.Errors++
	} else {
		res.CacheDirs = j.removeDirs(stale, "cache", &res)
	}

	for _, h := range j.hooks {
		n, err := h.fn(ctx)
		if err != nil {
			j.logger.Error("sweep hook failed", zap.String("hook", h.name), zap.Error(err))
			res.Errors++
			continue
		}
		if res.Hooks == nil {
			res.Hooks = make(map[string]int)
		}
		res.Hooks[h.name] = n
	}

	duration := time.Since(start)
	j.metrics.JanitorRemoved("staging", res.StagingRemoved)
	j.metrics.JanitorRemoved("cache_entry", res.CacheEntries)
	j.metrics.JanitorRemoved("cache_dir", res.CacheDirs)
	j.metrics.JanitorSweep(duration)

	j.mu.Lock()
	j.stats.LastSweepTime = now
	j.stats.LastSweepDuration = duration
	j.stats.TotalSweeps++
	j.stats.TotalStagingRemoved += int64(res.StagingRemoved)
	j.stats.TotalCacheEntries += int64(res.CacheEntries)
	j.stats.TotalCacheDirs += int64(res.CacheDirs)
	j.stats.TotalErrors += int64(res.Errors)
	j.mu.Unlock()

	if res.StagingRemoved+res.CacheEntries+res.CacheDirs > 0 || res.Errors > 0 {
		j.logger.Info("sweep complete",
			zap.Int("staging_removed", res.StagingRemoved),
			zap.Int("cache_entries_removed", res.CacheEntries),
			zap.Int("cache_dirs_removed", res.CacheDirs),
			zap.Int("errors", res.Errors),
			zap.Duration("took", duration))
	} else {
		j.logger.Debug("sweep complete, nothing to remove", zap.Duration("took", duration))
	}
	return res
}

func (j *Janitor) removeDirs(dirs []staging.AgedDir, target string, res *SweepResult) int {
	removed := 0
	for _, d := range dirs {
		if err := j.remove(d.Path); err != nil {
			j.logger.Warn("failed to remove stale dir",
				zap.String("target", target),
				zap.String("path", d.Path),
				zap.Error(err))
			res.Errors++
			continue
		}
		removed++
		j.logger.Debug("removed stale dir",
			zap.String("target", target),
			zap.String("path", d.Path),
			zap.String("age", humanize.RelTime(d.ModTime, j.now(), "old", "from now")))
	}
	return removed
}

// Stats returns a snapshot of janitor activity
func (j *Janitor) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stats
}
