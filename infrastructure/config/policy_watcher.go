package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tianshipapa/doubandai/domain/proxy"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the runtime-changeable part of the proxy configuration.
//
//	allowed_hosts:
//	  - doubanio.com
type PolicyFile struct {
	AllowedHosts []string `yaml:"allowed_hosts"`
}

// PolicyWatcher keeps the allow-list in sync with a YAML file on disk.
// A file that fails to parse or lists no hosts is ignored and the previous
// list stays in effect.
type PolicyWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	mu       sync.RWMutex
	current  proxy.AllowList
	onChange []func(proxy.AllowList)
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	debounce time.Duration
}

// NewPolicyWatcher loads path and prepares a watcher for it
func NewPolicyWatcher(path string, logger *zap.Logger) (*PolicyWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	list, err := loadPolicyFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial policy: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory so atomic saves (write tmp + rename) are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch policy directory: %w", err)
	}

	return &PolicyWatcher{
		path:     path,
		watcher:  watcher,
		current:  list,
		logger:   logger,
		stopCh:   make(chan struct{}),
		debounce: 100 * time.Millisecond,
	}, nil
}

// Start begins watching for policy changes
func (w *PolicyWatcher) Start() {
	go w.watchLoop()
	w.logger.Info("Policy watcher started",
		zap.String("path", w.path),
		zap.Strings("allowed_hosts", w.AllowList()),
	)
}

// Stop stops watching. It is safe to call more than once.
func (w *PolicyWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		w.logger.Info("Policy watcher stopped")
	})
}

// AllowList returns the allow-list currently in effect
func (w *PolicyWatcher) AllowList() proxy.AllowList {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked after every successful reload
func (w *PolicyWatcher) OnChange(handler func(proxy.AllowList)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, handler)
}

func (w *PolicyWatcher) watchLoop() {
	var debounceTimer *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Policy watcher error", zap.Error(err))
		}
	}
}

// reload re-reads the policy file and swaps the allow-list
func (w *PolicyWatcher) reload() {
	list, err := loadPolicyFile(w.path)
	if err != nil {
		w.logger.Error("Invalid policy file, keeping current allow-list",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = list
	handlers := append([]func(proxy.AllowList){}, w.onChange...)
	w.mu.Unlock()

	w.logger.Info("Policy reloaded",
		zap.Strings("previous", old),
		zap.Strings("allowed_hosts", list),
	)

	for _, handler := range handlers {
		handler(list)
	}
}

func loadPolicyFile(path string) (proxy.AllowList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy PolicyFile
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	list := proxy.NewAllowList(policy.AllowedHosts...)
	if len(list) == 0 {
		return nil, fmt.Errorf("policy file %s lists no allowed_hosts", path)
	}
	return list, nil
}
