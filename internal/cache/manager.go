// Package cache persists synthesized chunk audio between runs.
//
// Entries are plain files in one directory, addressed by document
// fingerprint, voice hash, and chunk index. Expiry rides on file
// mtime plus a fixed TTL; a background sweep removes expired entries
// and enforces a total size cap by evicting oldest entries first.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrMiss is returned when no valid entry exists for a key. Expired
// entries count as misses and are deleted on read.
var ErrMiss = errors.New("cache miss")

// Key addresses one synthesized chunk. Any change in document bytes,
// voice parameters, or chunk position maps to a different entry.
type Key struct {
	Fingerprint string
	VoiceHash   string
	Index       int
}

// fileName flattens the key into an on-disk name. The fingerprint
// comes first so one document's entries share a prefix and
// invalidation is a directory scan.
func (k Key) fileName() string {
	fp := k.Fingerprint
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return fmt.Sprintf("%s-%s-%06d.wav", fp, k.VoiceHash, k.Index)
}

// Manager owns one cache directory. Reads and writes are safe for
// concurrent use: writes land under a temp name and rename into
// place, so a partially written entry is never observable.
type Manager struct {
	dir      string
	ttl      time.Duration
	maxBytes int64
	now      func() time.Time
	log      zerolog.Logger

	// mu serializes directory-wide scans (sweep, invalidate, clear)
	// against each other.
	mu sync.Mutex
}

// NewManager creates the cache directory if needed and returns a
// manager with the given TTL and size cap. A zero maxBytes disables
// the cap.
func NewManager(dir string, ttl time.Duration, maxBytes int64, log zerolog.Logger) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cache directory is required")
	}
	if ttl <= 0 {
		return nil, errors.New("cache ttl must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	return &Manager{
		dir:      dir,
		ttl:      ttl,
		maxBytes: maxBytes,
		now:      time.Now,
		log:      log,
	}, nil
}

// NewManagerForTests constructs a manager with an injectable clock.
func NewManagerForTests(dir string, ttl time.Duration, maxBytes int64, now func() time.Time) (*Manager, error) {
	m, err := NewManager(dir, ttl, maxBytes, zerolog.Nop())
	if err != nil {
		return nil, err
	}
	m.now = now
	return m, nil
}

// Dir returns the cache directory path.
func (m *Manager) Dir() string {
	return m.dir
}

// Get returns the cached audio for key, or ErrMiss when the entry is
// absent or expired. Any other error is an IO fault; callers treat it
// as a miss but may log degraded operation.
func (m *Manager) Get(key Key) ([]byte, error) {
	path := filepath.Join(m.dir, key.fileName())

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache stat %s: %w", key.fileName(), err)
	}
	if m.expired(info.ModTime()) {
		_ = os.Remove(path)
		return nil, ErrMiss
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Raced with a sweep; same as a miss.
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache read %s: %w", key.fileName(), err)
	}
	return data, nil
}

// Put stores audio under key. Concurrent puts for the same key are
// last-write-wins via rename.
func (m *Manager) Put(key Key, audio []byte) error {
	tmp, err := os.CreateTemp(m.dir, ".pending-*")
	if err != nil {
		return fmt.Errorf("cache temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("cache write %s: %w", key.fileName(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache write %s: %w", key.fileName(), err)
	}

	final := filepath.Join(m.dir, key.fileName())
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache commit %s: %w", key.fileName(), err)
	}
	return nil
}

// Sweep removes expired entries, then evicts oldest entries until the
// directory is back under the size cap. Returns the removed count.
func (m *Manager) Sweep() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}

	type liveEntry struct {
		name  string
		size  int64
		mtime time.Time
	}

	removed := 0
	var live []liveEntry
	var total int64
	for _, de := range entries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if m.expired(info.ModTime()) {
			if err := os.Remove(filepath.Join(m.dir, de.Name())); err == nil {
				removed++
			}
			continue
		}
		live = append(live, liveEntry{name: de.Name(), size: info.Size(), mtime: info.ModTime()})
		total += info.Size()
	}

	if m.maxBytes > 0 && total > m.maxBytes {
		sort.Slice(live, func(i, j int) bool { return live[i].mtime.Before(live[j].mtime) })
		for _, e := range live {
			if total <= m.maxBytes {
				break
			}
			if err := os.Remove(filepath.Join(m.dir, e.name)); err == nil {
				total -= e.size
				removed++
			}
		}
	}

	return removed, nil
}

// InvalidateDocument removes every entry of one document across all
// voice hashes. Used when the same document is reconverted with new
// voice settings and on explicit user request.
func (m *Manager) InvalidateDocument(fingerprint string) (int, error) {
	if len(fingerprint) > 16 {
		fingerprint = fingerprint[:16]
	}
	prefix := fingerprint + "-"

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("cache invalidate: %w", err)
	}

	removed := 0
	for _, de := range entries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, de.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Clear removes every cache entry.
func (m *Manager) Clear() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}

	removed := 0
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, de.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Stats reports the number of live entries and their total size.
func (m *Manager) Stats() (int, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("cache stats: %w", err)
	}

	count := 0
	var total int64
	for _, de := range entries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if m.expired(info.ModTime()) {
			continue
		}
		count++
		total += info.Size()
	}
	return count, total, nil
}

// StartSweeper runs Sweep on a ticker until ctx is done. Intervals at or
// below zero fall back to hourly.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := m.Sweep()
				if err != nil {
					m.log.Warn().Err(err).Msg("cache sweep failed")
					continue
				}
				if removed > 0 {
					m.log.Debug().Int("removed", removed).Msg("cache sweep")
				}
			}
		}
	}()
}

// expired reports whether an entry written at mtime is past its TTL.
func (m *Manager) expired(mtime time.Time) bool {
	return !m.now().Before(mtime.Add(m.ttl))
}
