// Package configwatch hot-reloads the subset of configuration spec §7
// allows changing without a restart — ignore patterns, the pipeline's
// persistence risk threshold, and correlation thresholds — by
// watching the config file with fsnotify, the same dependency the
// teacher carries for this purpose without wiring a heavier viper
// OnConfigChange callback.
package configwatch

import (
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/internal/config"
)

// Reloadable is the subset of pipeline.Pipeline this watcher drives.
type Reloadable interface {
	UpdateIgnorePatterns(patterns []config.IgnorePattern)
	UpdateMinRiskToPersist(level string)
}

// CorrelationReloadable is the subset of correlation.Engine this
// watcher drives.
type CorrelationReloadable interface {
	UpdateConfig(cfg config.CorrelationConfig)
}

// Watch reloads path on every write/create event and applies the
// refreshed IgnorePatterns/Pipeline.MinRiskToPersist/Correlation
// sections to pipe and engine, logging and ignoring any reload that
// fails validation so a bad edit never crashes the process.
func Watch(path string, pipe Reloadable, engine CorrelationReloadable, logger *logrus.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := config.Load(path)
				if err != nil {
					if logger != nil {
						logger.WithError(err).Warn("config reload: keeping previous configuration")
					}
					continue
				}
				pipe.UpdateIgnorePatterns(cfg.IgnorePatterns)
				pipe.UpdateMinRiskToPersist(cfg.Pipeline.MinRiskToPersist)
				engine.UpdateConfig(cfg.Correlation)
				if logger != nil {
					logger.Info("configuration reloaded")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if logger != nil {
					logger.WithError(err).Warn("config watcher error")
				}
			}
		}
	}()

	return watcher, nil
}
