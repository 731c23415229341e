package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kloudmate/xray-exporter/internal/models"
)

const (
	watermarkFile = "watermark"
	dedupFile     = "dedup_index.json"
	countersFile  = "counters.json"
)

// Store persists the three pieces of collection state: the watermark, the
// deduplication index and the cumulative counter table. Each lives in its
// own file so corruption of one never takes down the others.
type Store struct {
	dir    string
	logger *zap.Logger
}

func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// LoadWatermark returns the persisted watermark, or now minus fallbackWindow
// when the file is absent or unreadable. Never fails.
func (s *Store) LoadWatermark(fallbackWindow time.Duration) time.Time {
	path := filepath.Join(s.dir, watermarkFile)
	data, err := os.ReadFile(path)
	if err == nil {
		t, perr := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
		if perr == nil {
			return t
		}
		s.logger.Warn("corrupt watermark file, falling back",
			zap.String("path", path),
			zap.Error(perr))
	} else if !os.IsNotExist(err) {
		s.logger.Warn("failed to read watermark file", zap.Error(err))
	}
	return time.Now().UTC().Add(-fallbackWindow)
}

func (s *Store) SaveWatermark(t time.Time) error {
	data := []byte(t.UTC().Format(time.RFC3339Nano) + "\n")
	if err := s.writeAtomic(watermarkFile, data); err != nil {
		return fmt.Errorf("failed to save watermark: %w", err)
	}
	return nil
}

// LoadDedup returns the persisted trace id -> first-seen map. A missing or
// corrupt index is non-fatal: one cycle of possible duplicate counting beats
// a crash loop.
func (s *Store) LoadDedup() map[string]time.Time {
	path := filepath.Join(s.dir, dedupFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read dedup index", zap.Error(err))
		}
		return map[string]time.Time{}
	}
	var entries map[string]time.Time
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("corrupt dedup index, starting empty",
			zap.String("path", path),
			zap.Error(err))
		return map[string]time.Time{}
	}
	return entries
}

func (s *Store) SaveDedup(entries map[string]time.Time) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode dedup index: %w", err)
	}
	if err := s.writeAtomic(dedupFile, data); err != nil {
		return fmt.Errorf("failed to save dedup index: %w", err)
	}
	return nil
}

// LoadCounters returns the persisted counter snapshots, or nil when the file
// is absent or unreadable. Counters restart at zero in that case.
func (s *Store) LoadCounters() []models.CounterSnapshot {
	path := filepath.Join(s.dir, countersFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read counter table", zap.Error(err))
		}
		return nil
	}
	var snapshots []models.CounterSnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		s.logger.Warn("corrupt counter table, starting at zero",
			zap.String("path", path),
			zap.Error(err))
		return nil
	}
	return snapshots
}

func (s *Store) SaveCounters(snapshots []models.CounterSnapshot) error {
	data, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("failed to encode counter table: %w", err)
	}
	if err := s.writeAtomic(countersFile, data); err != nil {
		return fmt.Errorf("failed to save counter table: %w", err)
	}
	return nil
}

// writeAtomic writes through a temp file and renames it into place so a
// crash mid-write leaves the previous snapshot intact.
func (s *Store) writeAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
