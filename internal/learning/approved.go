package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/psgate/psgate/internal/patterns"
)

// ApprovedEntry is one promoted normalized form in learned-safe.json.
type ApprovedEntry struct {
	Normalized string    `json:"normalized"`
	Added      time.Time `json:"added"`
	Pattern    string    `json:"pattern"`
	Source     string    `json:"source"`
}

type approvedFile struct {
	Version  int             `json:"version"`
	Approved []ApprovedEntry `json:"approved"`
}

const approvedFileVersion = 1

// ApprovedList persists promoted patterns and mirrors them into the pattern
// store. Persistence failures leave the in-memory store untouched.
type ApprovedList struct {
	mu     sync.Mutex
	path   string
	store  *patterns.Store
	logger *log.Logger
}

// NewApprovedList loads learned-safe.json (if present) and installs every
// entry into the store.
func NewApprovedList(path string, store *patterns.Store, logger *log.Logger) (*ApprovedList, error) {
	if path == "" {
		return nil, fmt.Errorf("approved list path is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating approved dir: %w", err)
	}
	a := &ApprovedList{path: path, store: store, logger: logger}
	if err := a.Reload(); err != nil {
		return nil, err
	}
	return a, nil
}

// Approve promotes normalized forms: persist first, then mutate the store so
// a persistence failure cannot leave a pattern active but unrecorded.
func (a *ApprovedList) Approve(normalized []string, source string) ([]ApprovedEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := a.load()
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(file.Approved))
	for _, e := range file.Approved {
		existing[e.Normalized] = true
	}

	var added []ApprovedEntry
	now := time.Now().UTC()
	for _, n := range normalized {
		if n == "" || existing[n] {
			continue
		}
		added = append(added, ApprovedEntry{
			Normalized: n,
			Added:      now,
			Pattern:    patterns.LearnedSafeExpr(n),
			Source:     source,
		})
	}
	if len(added) == 0 {
		return nil, nil
	}

	file.Approved = append(file.Approved, added...)
	if err := a.save(file); err != nil {
		return nil, err
	}
	for _, e := range added {
		if err := a.store.AddLearnedSafe(e.Normalized, e.Pattern); err != nil {
			a.logger.Warn("installing learned-safe pattern failed", "normalized", e.Normalized, "error", err)
		}
	}
	return added, nil
}

// Entries returns the persisted approvals.
func (a *ApprovedList) Entries() ([]ApprovedEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	file, err := a.load()
	if err != nil {
		return nil, err
	}
	return file.Approved, nil
}

// Reload re-reads the file and installs every entry into the store. Used at
// startup and when the file changes on disk.
func (a *ApprovedList) Reload() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	file, err := a.load()
	if err != nil {
		return err
	}
	for _, e := range file.Approved {
		expr := e.Pattern
		if expr == "" {
			expr = patterns.LearnedSafeExpr(e.Normalized)
		}
		if err := a.store.AddLearnedSafe(e.Normalized, expr); err != nil {
			a.logger.Warn("installing learned-safe pattern failed", "normalized", e.Normalized, "error", err)
		}
	}
	return nil
}

// Watch reloads the approved list whenever another process rewrites the file.
// It blocks until ctx is done.
func (a *ApprovedList) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and atomic renames replace the file node.
	if err := watcher.Add(filepath.Dir(a.path)); err != nil {
		return fmt.Errorf("watching approved dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(a.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := a.Reload(); err != nil {
				a.logger.Warn("reloading learned-safe list failed", "error", err)
			} else {
				a.logger.Info("learned-safe list reloaded", "path", a.path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("approved list watcher error", "error", err)
		}
	}
}

func (a *ApprovedList) load() (*approvedFile, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &approvedFile{Version: approvedFileVersion}, nil
		}
		return nil, fmt.Errorf("reading approved list: %w", err)
	}
	var file approvedFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding approved list: %w", err)
	}
	if file.Version == 0 {
		file.Version = approvedFileVersion
	}
	return &file, nil
}

func (a *ApprovedList) save(file *approvedFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding approved list: %w", err)
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing approved list: %w", err)
	}
	return os.Rename(tmp, a.path)
}
