package converge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/cookbooks/pkg/config"
	"github.com/openfroyo/cookbooks/pkg/policy"
	"github.com/openfroyo/cookbooks/pkg/telemetry"
)

// Reload triggers.
const (
	TriggerInitial    = "initial"
	TriggerAttributes = "attributes"
	TriggerRules      = "rules"
)

// DefaultDebounce is how long a burst of file changes must settle before a
// replan starts.
const DefaultDebounce = 500 * time.Millisecond

// ResultFunc receives the outcome of every run started by Watch.
type ResultFunc func(trigger string, res *Result, err error)

// Watch plans once, then replans whenever an attribute file, the override
// script or a policy file changes. Runs are serialized on the calling
// goroutine. Watch returns when ctx is cancelled.
func (r *Runner) Watch(ctx context.Context, onResult ResultFunc) error {
	return r.watch(ctx, DefaultDebounce, onResult)
}

func (r *Runner) watch(ctx context.Context, debounce time.Duration, onResult ResultFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	files, trees, dirs := r.watchTargets()
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			r.logger.WithError(err).WithField("path", dir).Warn("Failed to watch directory")
		}
	}

	triggers := make(chan string, 1)
	send := func(trigger string) {
		select {
		case triggers <- trigger:
		default:
		}
	}

	if r.guard != nil && len(r.opts.PolicyPaths) > 0 {
		rules := policy.NewLoader(r.logger.Zerolog())
		err := rules.Watch(ctx, r.opts.PolicyPaths, func(loaded []policy.Rule) error {
			if err := r.guard.SetRules(ctx, loaded); err != nil {
				return err
			}
			r.publish(telemetry.Event{
				Type:    telemetry.EventTypeRulesReloaded,
				Message: fmt.Sprintf("%d rule(s) reloaded", len(loaded)),
			})
			send(TriggerRules)
			return nil
		})
		if err != nil {
			return err
		}
		defer func() { _ = rules.StopWatching() }()
	}

	res, err := r.Run(ctx)
	onResult(TriggerInitial, res, err)

	r.logger.WithField("files", len(files)).WithField("directories", len(dirs)).Info("Watching attribute files")

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !relevant(event.Name, files, trees) {
				continue
			}

			r.logger.WithField("file", event.Name).WithField("op", event.Op.String()).Debug("Attribute file changed")

			if timer != nil {
				timer.Stop()
			}
			name := event.Name
			timer = time.AfterFunc(debounce, func() {
				r.publish(telemetry.Event{
					Type:    telemetry.EventTypeAttributesChanged,
					Message: name,
				})
				send(TriggerAttributes)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.WithError(err).Error("Watcher error")

		case trigger := <-triggers:
			r.tel.Metrics.RecordReload(trigger)
			res, err := r.Run(ctx)
			onResult(trigger, res, err)
		}
	}
}

// watchTargets returns the explicit files, the directory trees holding
// attribute files, and every directory that must be added to the watcher.
// Files are watched through their parent so editors that replace files on
// save keep triggering.
func (r *Runner) watchTargets() (files, trees, dirs map[string]bool) {
	files = map[string]bool{}
	trees = map[string]bool{}
	dirs = map[string]bool{}

	paths := append([]string(nil), r.opts.AttributePaths...)
	if r.opts.OverrideFile != "" {
		paths = append(paths, r.opts.OverrideFile)
	}

	for _, p := range paths {
		p = filepath.Clean(p)
		info, err := os.Stat(p)
		if err == nil && info.IsDir() {
			_ = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
				if err == nil && d.IsDir() {
					trees[path] = true
					dirs[path] = true
				}
				return nil
			})
			continue
		}
		files[p] = true
		dirs[filepath.Dir(p)] = true
	}
	return files, trees, dirs
}

// relevant reports whether a change to name should cause a replan.
func relevant(name string, files, trees map[string]bool) bool {
	name = filepath.Clean(name)
	if files[name] {
		return true
	}
	return config.FormatOf(name) != "" && trees[filepath.Dir(name)]
}
