// 配置文件变更监听器实现。
//
// 轮询配置文件修改时间，防抖后重新加载并只下发可热更新的字段。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 热更新字段 ---

// HotSettings 是运行中可以调整、无需重启的配置子集
type HotSettings struct {
	LogLevel               string        `json:"log_level"`
	ProactiveSweepInterval time.Duration `json:"proactive_sweep_interval"`
	ConflictSweepInterval  time.Duration `json:"conflict_sweep_interval"`
}

// HotSettingsOf extracts the reloadable subset of cfg.
func HotSettingsOf(cfg *Config) HotSettings {
	return HotSettings{
		LogLevel:               cfg.Log.Level,
		ProactiveSweepInterval: cfg.Agent.ProactiveSweepInterval,
		ConflictSweepInterval:  cfg.Agent.ConflictSweepInterval,
	}
}

// --- 监听器选项 ---

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithDebounceDelay sets how long the file must stay unchanged before reload
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithPollInterval sets the modification-time polling interval
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.pollInterval = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithWatcherLoader replaces the loader used on reload (env prefix, validators).
func WithWatcherLoader(l *Loader) WatcherOption {
	return func(w *Watcher) {
		w.loader = l
	}
}

// --- 监听器实现 ---

// Watcher reloads one config file when it changes and reports the hot
// settings. Changes to other fields are logged and otherwise ignored.
type Watcher struct {
	mu sync.Mutex

	path          string
	loader        *Loader
	pollInterval  time.Duration
	debounceDelay time.Duration
	logger        *zap.Logger

	running   bool
	stopChan  chan struct{}
	lastMod   time.Time
	current   HotSettings
	callbacks []func(HotSettings)
}

// NewWatcher creates a watcher for path. initial is the configuration the
// process started with; callbacks only fire when the hot settings differ.
func NewWatcher(path string, initial *Config, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if initial == nil {
		initial = DefaultConfig()
	}
	w := &Watcher{
		path:          path,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
		stopChan:      make(chan struct{}),
		current:       HotSettingsOf(initial),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.loader == nil {
		w.loader = NewLoader().WithValidator(func(c *Config) error { return c.Validate() })
	}
	w.loader.WithConfigPath(path)

	if info, err := os.Stat(path); err == nil {
		w.lastMod = info.ModTime()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
	}
	return w, nil
}

// OnChange registers a callback for hot setting changes
func (w *Watcher) OnChange(cb func(HotSettings)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Current returns the last applied hot settings.
func (w *Watcher) Current() HotSettings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start begins polling until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	go w.pollLoop(ctx)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopChan)
	w.running = false
	w.logger.Info("config watcher stopped")
}

// IsRunning returns whether the watcher is running
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// 最近一次检测到变更的时间，零值表示没有待处理的变更
	var changedAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case now := <-ticker.C:
			if w.modified() {
				changedAt = now
				continue
			}
			if !changedAt.IsZero() && now.Sub(changedAt) >= w.debounceDelay {
				changedAt = time.Time{}
				w.reload()
			}
		}
	}
}

// modified reports whether the file's modification time moved forward.
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !info.ModTime().After(w.lastMod) {
		return false
	}
	w.lastMod = info.ModTime()
	return true
}

// reload re-reads the file. An invalid file keeps the previous settings.
func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous settings",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	next := HotSettingsOf(cfg)
	w.mu.Lock()
	if next == w.current {
		w.mu.Unlock()
		w.logger.Debug("config changed without hot settings update", zap.String("path", w.path))
		return
	}
	w.current = next
	callbacks := make([]func(HotSettings), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("config reloaded",
		zap.String("log_level", next.LogLevel),
		zap.Duration("proactive_sweep_interval", next.ProactiveSweepInterval),
		zap.Duration("conflict_sweep_interval", next.ConflictSweepInterval))
	for _, cb := range callbacks {
		cb(next)
	}
}
