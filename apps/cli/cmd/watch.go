package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/minitest/packages/core/config"
)

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

// rerunPlan is what one debounced batch of file changes asks for.
type rerunPlan struct {
	// all reloads the configuration and re-runs every collected file
	all   bool
	files []string
}

func (p rerunPlan) empty() bool {
	return !p.all && len(p.files) == 0
}

// planRerun decides what a batch of changed paths re-runs. A config change
// re-runs everything; otherwise only changed files that are part of the
// collection run again. Deleted and uncollected files are skipped.
func planRerun(changed, collected []string, isConfig func(string) bool) rerunPlan {
	inCollection := make(map[string]string, len(collected))
	for _, f := range collected {
		inCollection[absPath(f)] = f
	}

	var files []string
	for _, name := range changed {
		if isConfig(name) {
			return rerunPlan{all: true}
		}
		if f, ok := inCollection[absPath(name)]; ok {
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return rerunPlan{files: slices.Compact(files)}
}

// configMatcher reports whether a path is the config file resolveConfig
// reads: the --config file when given, otherwise a known config file name
// in the working directory.
func configMatcher(path string) func(string) bool {
	if path != "" {
		want := absPath(path)
		return func(name string) bool { return absPath(name) == want }
	}
	cwd := absPath(".")
	return func(name string) bool {
		return filepath.Dir(absPath(name)) == cwd && slices.Contains(config.ConfigFilenames, filepath.Base(name))
	}
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// watchAndRerun re-runs test files as they change until ctx is cancelled.
// Changed scripts run on their own; a config file change reloads the
// configuration and runs the whole collection.
func watchAndRerun(ctx context.Context, cmd *cobra.Command, cfg *config.Config, args, files []string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	watchedDirs := make(map[string]bool)
	watchDir := func(dir string) {
		if watchedDirs[dir] {
			return
		}
		if err := watcher.Add(dir); err != nil {
			logger.Warn("cannot watch directory", "dir", dir, "error", err)
		}
		watchedDirs[dir] = true
	}
	for _, file := range files {
		watchDir(filepath.Dir(file))
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err == nil && info.IsDir() {
			_ = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
				if err == nil && d.IsDir() && !isIgnored(path, cfg.Ignore) {
					watchDir(path)
				}
				return nil
			})
		}
	}
	isConfig := configMatcher(configFlag)
	if configFlag != "" {
		watchDir(filepath.Dir(configFlag))
	} else {
		watchDir(".")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	// pending is owned by this goroutine; the timer only signals fire
	pending := make(map[string]bool)
	fire := make(chan struct{}, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !(isTestFile(event.Name) || isConfig(event.Name)) || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			pending[event.Name] = true
			// Debounce: reset timer on each event
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			changed := make([]string, 0, len(pending))
			for name := range pending {
				changed = append(changed, name)
			}
			clear(pending)
			sort.Strings(changed)

			current, err := collectFiles(args, cfg.TestMatch, cfg.Ignore)
			if err != nil {
				logger.Warn("cannot collect test files", "error", err)
				current = files
			}
			plan := planRerun(changed, current, isConfig)
			if plan.empty() {
				continue
			}

			toRun := plan.files
			if plan.all {
				fmt.Fprintf(out, "\n\nConfig changed: %s\nReloading and re-running all tests...\n\n", strings.Join(changed, ", "))
				if reloaded, err := resolveConfig(cmd); err != nil {
					logger.Error("config reload failed, keeping previous configuration", "error", err)
				} else {
					cfg = reloaded
				}
				if recollected, err := collectFiles(args, cfg.TestMatch, cfg.Ignore); err == nil && len(recollected) > 0 {
					current = recollected
				}
				toRun = current
				for _, file := range toRun {
					watchDir(filepath.Dir(file))
				}
			} else {
				fmt.Fprintf(out, "\n\nFile changed: %s\nRe-running %d file(s)...\n\n", strings.Join(toRun, ", "), len(toRun))
			}
			if len(toRun) == 0 {
				logger.Warn("no test files to run")
			} else if _, err := runOnce(ctx, cmd, cfg, toRun, logger); err != nil {
				logger.Error("run failed", "error", err)
			}

			fmt.Fprintf(out, "\nWatching for changes... (press Ctrl+C to stop)\n")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}
