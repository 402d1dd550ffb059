package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Loader loads guard rules from .rego files and JSON rule definitions.
type Loader struct {
	logger  zerolog.Logger
	cache   map[string]*Rule
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a new rule loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]*Rule),
	}
}

// LoadFromPaths loads rules from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Rule, error) {
	var allRules []Rule

	for _, path := range paths {
		rules, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		allRules = append(allRules, rules...)
	}

	l.logger.Debug().
		Int("total", len(allRules)).
		Int("sources", len(paths)).
		Msg("Rules loaded from paths")

	return allRules, nil
}

// loadFromPath loads rules from a single path (file or directory).
func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	rule, err := l.loadFromFile(ctx, path)
	if err != nil {
		return nil, err
	}

	return []Rule{*rule}, nil
}

// loadFromDirectory loads all rule files below a directory in lexical order.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]Rule, error) {
	var rules []Rule

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() || !isRuleFile(path) {
			return nil
		}

		rule, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load rule file")
			return nil
		}

		rules = append(rules, *rule)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return rules, nil
}

func isRuleFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

// loadFromFile loads a rule from a single file.
func (l *Loader) loadFromFile(_ context.Context, filePath string) (*Rule, error) {
	l.mu.RLock()
	if cached, exists := l.cache[filePath]; exists {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rule *Rule
	switch {
	case strings.HasSuffix(filePath, ".rego"):
		rule = l.parseRegoFile(filePath, data)
	case strings.HasSuffix(filePath, ".json"):
		rule, err = l.parseJSONFile(filePath, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	l.mu.Lock()
	l.cache[filePath] = rule
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", filePath).
		Str("rule", rule.Name).
		Msg("Rule loaded from file")

	return rule, nil
}

// parseRegoFile parses a .rego file into a Rule. The leading comment block
// is the description; a "# severity: <level>" line overrides the default.
func (l *Loader) parseRegoFile(filePath string, data []byte) *Rule {
	base := filepath.Base(filePath)
	content := string(data)

	description, severity := l.parseHeader(content)

	return &Rule{
		Name:        strings.TrimSuffix(base, ".rego"),
		Description: description,
		Rego:        content,
		Severity:    severity,
		Enabled:     true,
		Tags:        []string{},
		Source:      filePath,
	}
}

// parseJSONFile parses a JSON rule definition.
func (l *Loader) parseJSONFile(filePath string, data []byte) (*Rule, error) {
	var rule Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to parse JSON rule: %w", err)
	}
	if rule.Name == "" {
		rule.Name = strings.TrimSuffix(filepath.Base(filePath), ".json")
	}
	if rule.Severity == "" {
		rule.Severity = SeverityWarning
	}
	rule.Source = filePath

	return &rule, nil
}

// parseHeader reads the leading comment block of a Rego module.
func (l *Loader) parseHeader(content string) (string, Severity) {
	severity := SeverityWarning
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if level, ok := strings.CutPrefix(comment, "severity:"); ok {
			severity = Severity(strings.TrimSpace(level))
			continue
		}
		if comment == "" {
			continue
		}
		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}

	return description.String(), severity
}

// Watch watches paths for rule changes and calls reloadFn with the full
// rule set after each burst of changes.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Rule) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			if err := l.watchDirectory(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			}
		} else {
			if err := watcher.Add(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
			}
		}
	}

	go l.processEvents(ctx, paths, reloadFn)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching rule paths")

	return nil
}

// watchDirectory adds a directory tree to the watcher.
func (l *Loader) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return l.watcher.Add(path)
		}

		return nil
	})
}

// processEvents debounces file system events into reloads.
func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func([]Rule) error) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			if l.watcher != nil {
				_ = l.watcher.Close()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isRuleFile(event.Name) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Rule file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.triggerReload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload rules")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// triggerReload reloads all rules from watched paths.
func (l *Loader) triggerReload(ctx context.Context, paths []string, reloadFn func([]Rule) error) error {
	rules, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload rules: %w", err)
	}

	if err := reloadFn(rules); err != nil {
		return fmt.Errorf("failed to apply reloaded rules: %w", err)
	}

	l.logger.Info().
		Int("count", len(rules)).
		Msg("Rules reloaded")

	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// ClearCache clears the rule cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]*Rule)
	l.logger.Debug().Msg("Rule cache cleared")
}
