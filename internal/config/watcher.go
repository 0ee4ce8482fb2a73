package config

import (
	"context"
	"os"
	"sync"
	"time"

	"socialqueue/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	defaultWatchInterval = 5 * time.Second
	writeSettleDelay     = 100 * time.Millisecond
)

// ConfigWatcher polls the configuration file and reloads it when it changes.
// The API reads its bearer tokens through it, so tokens can be rotated
// without a restart.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger

	mu        sync.RWMutex
	config    *models.Config
	callbacks []func(*models.Config)
}

// fileStamp identifies one version of the file on disk.
type fileStamp struct {
	modTime time.Time
	size    int64
}

func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		interval:   defaultWatchInterval,
		logger:     logger,
		callbacks:  []func(*models.Config){},
	}
}

// Start loads the configuration and then polls for changes until ctx is done.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	initial, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}
	stamp, err := cw.stamp()
	if err != nil {
		return err
	}
	cw.swap(initial)

	logger := cw.logger.WithField("path", cw.configPath)
	logger.Info("Configuration watcher started")

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Configuration watcher stopping")
			return nil
		case <-ticker.C:
			stamp = cw.poll(stamp)
		}
	}
}

// poll reloads the file when its stamp moved and returns the stamp to
// compare against next time.
func (cw *ConfigWatcher) poll(last fileStamp) fileStamp {
	current, err := cw.stamp()
	if err != nil {
		cw.logger.WithError(err).Error("Failed to stat configuration file")
		return last
	}
	if !current.modTime.After(last.modTime) && current.size == last.size {
		return last
	}

	cw.logger.Debug("Configuration file changed")
	time.Sleep(writeSettleDelay)
	cw.reloadConfig()
	return current
}

func (cw *ConfigWatcher) stamp() (fileStamp, error) {
	info, err := os.Stat(cw.configPath)
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}, nil
}

// swap installs cfg and returns the configuration it replaced together with
// a snapshot of the registered callbacks.
func (cw *ConfigWatcher) swap(cfg *models.Config) (*models.Config, []func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	previous := cw.config
	cw.config = cfg
	return previous, append([]func(*models.Config){}, cw.callbacks...)
}

// GetConfig returns the current configuration, or nil before Start has
// loaded it.
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers fn to run, on its own goroutine, after every
// successful reload.
func (cw *ConfigWatcher) OnConfigChange(fn func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, fn)
}

func (cw *ConfigWatcher) reloadConfig() {
	reloaded, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration, keeping the previous one")
		return
	}

	previous, callbacks := cw.swap(reloaded)
	cw.logger.Info("Configuration reloaded successfully")

	for _, fn := range callbacks {
		go cw.notify(fn, reloaded)
	}
	cw.logConfigChanges(previous, reloaded)
}

func (cw *ConfigWatcher) notify(fn func(*models.Config), cfg *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	fn(cfg)
}

// logConfigChanges reports what a reload changed. Tokens and the log level
// apply immediately; the schedule and storage drivers need a restart.
func (cw *ConfigWatcher) logConfigChanges(old, updated *models.Config) {
	if old == nil {
		return
	}

	if added, removed := diffTokens(old.APITokens, updated.APITokens); added+removed > 0 {
		cw.logger.WithFields(logrus.Fields{
			"added":   added,
			"removed": removed,
			"total":   len(updated.APITokens),
		}).Info("API tokens changed")
	}

	if old.LogLevel != updated.LogLevel {
		cw.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": updated.LogLevel,
		}).Info("Log level changed")
	}

	if old.Scanner.Schedule != updated.Scanner.Schedule {
		cw.logger.WithFields(logrus.Fields{
			"old": old.Scanner.Schedule,
			"new": updated.Scanner.Schedule,
		}).Warn("Scan schedule changed; restart to apply")
	}

	if old.Database.Driver != updated.Database.Driver || old.Blob.Driver != updated.Blob.Driver {
		cw.logger.Warn("Storage drivers changed; restart to apply")
	}
}

// diffTokens counts tokens present only in updated and only in old. A token
// whose owner changed counts as both.
func diffTokens(old, updated map[string]string) (added, removed int) {
	for token, owner := range updated {
		if prev, ok := old[token]; !ok || prev != owner {
			added++
		}
	}
	for token, owner := range old {
		if next, ok := updated[token]; !ok || next != owner {
			removed++
		}
	}
	return added, removed
}
