package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Settings is the user-editable settings.json surface spec.md §6 names:
// index roots, exclusions, extraction caps, chunk size, and the embedding
// toggle. Grounded on original_source/src/core/shared/settings_manager.cpp's
// validation behavior (non-empty roots, caps within sane bounds) rather than
// letting bad values reach the pipeline.
type Settings struct {
	IndexRoots        []string `json:"indexRoots" validate:"required,min=1,dive,required"`
	Exclusions        []string `json:"exclusions"`
	MaxExtractionMB   int      `json:"maxExtractionMb" validate:"gte=1,lte=512"`
	ChunkSizeBytes    int      `json:"chunkSizeBytes" validate:"gte=256,lte=1048576"`
	EmbeddingEnabled  bool     `json:"embeddingEnabled"`
	ExtractionPermits int      `json:"extractionPermits" validate:"gte=1,lte=64"`
}

// DefaultSettings mirrors the original settings manager's fallback values.
func DefaultSettings() Settings {
	home, _ := os.UserHomeDir()
	roots := []string{home}
	if home == "" {
		roots = []string{"."}
	}
	return Settings{
		IndexRoots:        roots,
		Exclusions:        []string{"node_modules", ".git", ".cache"},
		MaxExtractionMB:   25,
		ChunkSizeBytes:    4096,
		EmbeddingEnabled:  true,
		ExtractionPermits: 4,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateSettings applies settings_manager.cpp's boundary validation: reject
// bad values here rather than propagating them into the indexing/extraction
// pipeline.
func ValidateSettings(s Settings) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("config: invalid settings: %w", err)
	}
	return nil
}

// SettingsStore loads settings.json once, validates it, and watches the file
// for edits so a live toggle flip (e.g. embeddingEnabled) takes effect
// without a restart, the way a kubernaut-style hot-reload config loop would.
type SettingsStore struct {
	path   string
	logger *zap.Logger

	mu  sync.RWMutex
	cur Settings

	watcher *fsnotify.Watcher
	closed  atomic.Bool
}

// LoadSettingsStore reads settings.json at path, seeding it with
// DefaultSettings if absent, validates the result, and starts a watcher.
func LoadSettingsStore(path string, logger *zap.Logger) (*SettingsStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SettingsStore{path: path, logger: logger.With(zap.String("component", "config.settings"))}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.write(DefaultSettings()); err != nil {
			return nil, err
		}
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create settings watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config: watch settings file: %w", err)
	}
	s.watcher = watcher
	go s.watchLoop()

	return s, nil
}

func (s *SettingsStore) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("config: read settings: %w", err)
	}
	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("config: parse settings: %w", err)
	}
	if err := ValidateSettings(loaded); err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = loaded
	s.mu.Unlock()
	return nil
}

func (s *SettingsStore) write(v Settings) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode settings: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("config: write settings: %w", err)
	}
	return nil
}

func (s *SettingsStore) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warn("settings reload failed, keeping last-good settings", zap.Error(err))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

// Current returns the last successfully validated settings snapshot.
func (s *SettingsStore) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Close stops the watcher. Safe to call more than once.
func (s *SettingsStore) Close() error {
	if s.closed.CompareAndSwap(false, true) && s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
