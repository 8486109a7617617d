package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// newTestManager builds a manager over a temp dir with a fixed clock.
func newTestManager(t *testing.T, ttl time.Duration, maxBytes int64) (*Manager, *time.Time) {
	t.Helper()

	now := time.Now()
	m, err := NewManagerForTests(t.TempDir(), ttl, maxBytes, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewManagerForTests: %v", err)
	}
	return m, &now
}

// ageEntry rewinds an entry's mtime so sweeps and reads see it as old.
func ageEntry(t *testing.T, m *Manager, key Key, age time.Duration) {
	t.Helper()

	path := filepath.Join(m.Dir(), key.fileName())
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

// TestGetMissOnAbsentKey verifies the miss sentinel.
func TestGetMissOnAbsentKey(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 0)

	_, err := m.Get(Key{Fingerprint: "abc", VoiceHash: "11112222", Index: 0})
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("err = %v, want ErrMiss", err)
	}
}

// TestPutGetRoundTrip verifies stored audio is returned intact.
func TestPutGetRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 0)
	key := Key{Fingerprint: "abcdef0123456789ff", VoiceHash: "11112222", Index: 3}
	audio := []byte("RIFF-fake-wav-payload")

	if err := m.Put(key, audio); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := m.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(audio) {
		t.Fatalf("payload = %q, want %q", got, audio)
	}
}

// TestPutLeavesNoPendingFiles verifies the temp+rename commit cleans up.
func TestPutLeavesNoPendingFiles(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 0)
	if err := m.Put(Key{Fingerprint: "abc", VoiceHash: "11112222", Index: 0}, []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := os.ReadDir(m.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".pending-") {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

// TestGetExpiredEntryMisses verifies TTL enforcement and lazy delete.
func TestGetExpiredEntryMisses(t *testing.T) {
	m, now := newTestManager(t, time.Hour, 0)
	key := Key{Fingerprint: "abc", VoiceHash: "11112222", Index: 1}
	if err := m.Put(key, []byte("stale")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	*now = now.Add(2 * time.Hour)

	if _, err := m.Get(key); !errors.Is(err, ErrMiss) {
		t.Fatalf("err = %v, want ErrMiss after expiry", err)
	}
	if _, err := os.Stat(filepath.Join(m.Dir(), key.fileName())); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expired entry should be removed on read")
	}
}

// TestGetWithinTTLHits verifies entries stay valid until expiry.
func TestGetWithinTTLHits(t *testing.T) {
	m, now := newTestManager(t, time.Hour, 0)
	key := Key{Fingerprint: "abc", VoiceHash: "11112222", Index: 1}
	if err := m.Put(key, []byte("fresh")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	*now = now.Add(30 * time.Minute)

	if _, err := m.Get(key); err != nil {
		t.Fatalf("Get inside TTL: %v", err)
	}
}

// TestPutOverwritesSameKey verifies last-write-wins semantics.
func TestPutOverwritesSameKey(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 0)
	key := Key{Fingerprint: "abc", VoiceHash: "11112222", Index: 7}

	if err := m.Put(key, []byte("first")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Put(key, []byte("second")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := m.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("payload = %q, want second", got)
	}
}

// TestConcurrentPutsNeverExposePartialEntry hammers one key and checks
// every read observes a complete payload.
func TestConcurrentPutsNeverExposePartialEntry(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 0)
	key := Key{Fingerprint: "abc", VoiceHash: "11112222", Index: 0}

	payloadA := []byte(strings.Repeat("A", 4096))
	payloadB := []byte(strings.Repeat("B", 4096))
	if err := m.Put(key, payloadA); err != nil {
		t.Fatalf("seed Put: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		payload := payloadA
		if i%2 == 1 {
			payload = payloadB
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Put(key, payload)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := m.Get(key)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			if len(data) != 4096 {
				t.Errorf("partial entry observed: %d bytes", len(data))
				return
			}
			if data[0] != data[len(data)-1] {
				t.Error("mixed entry observed")
			}
		}()
	}
	wg.Wait()
}

// TestSweepRemovesExpiredEntries verifies age-based sweeping.
func TestSweepRemovesExpiredEntries(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 0)
	oldKey := Key{Fingerprint: "aaa", VoiceHash: "11112222", Index: 0}
	newKey := Key{Fingerprint: "bbb", VoiceHash: "11112222", Index: 0}

	if err := m.Put(oldKey, []byte("old")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Put(newKey, []byte("new")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ageEntry(t, m, oldKey, 2*time.Hour)

	removed, err := m.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := m.Get(oldKey); !errors.Is(err, ErrMiss) {
		t.Fatal("expired entry survived sweep")
	}
	if _, err := m.Get(newKey); err != nil {
		t.Fatalf("live entry removed by sweep: %v", err)
	}
}

// TestSweepEvictsOldestOverSizeCap verifies size-cap eviction order.
func TestSweepEvictsOldestOverSizeCap(t *testing.T) {
	m, _ := newTestManager(t, 24*time.Hour, 250)

	oldest := Key{Fingerprint: "aaa", VoiceHash: "11112222", Index: 0}
	middle := Key{Fingerprint: "bbb", VoiceHash: "11112222", Index: 0}
	newest := Key{Fingerprint: "ccc", VoiceHash: "11112222", Index: 0}
	payload := []byte(strings.Repeat("x", 100))

	for _, k := range []Key{oldest, middle, newest} {
		if err := m.Put(k, payload); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	ageEntry(t, m, oldest, 3*time.Hour)
	ageEntry(t, m, middle, 2*time.Hour)

	removed, err := m.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := m.Get(oldest); !errors.Is(err, ErrMiss) {
		t.Fatal("oldest entry should be evicted first")
	}
	if _, err := m.Get(middle); err != nil {
		t.Fatalf("middle entry evicted: %v", err)
	}
	if _, err := m.Get(newest); err != nil {
		t.Fatalf("newest entry evicted: %v", err)
	}
}

// TestInvalidateDocumentRemovesAllVoices verifies prefix invalidation.
func TestInvalidateDocumentRemovesAllVoices(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 0)
	fp := "0123456789abcdef0123456789abcdef"
	other := "fedcba9876543210fedcba9876543210"

	keys := []Key{
		{Fingerprint: fp, VoiceHash: "11112222", Index: 0},
		{Fingerprint: fp, VoiceHash: "11112222", Index: 1},
		{Fingerprint: fp, VoiceHash: "33334444", Index: 0},
		{Fingerprint: other, VoiceHash: "11112222", Index: 0},
	}
	for _, k := range keys {
		if err := m.Put(k, []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	removed, err := m.InvalidateDocument(fp)
	if err != nil {
		t.Fatalf("InvalidateDocument: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	if _, err := m.Get(keys[3]); err != nil {
		t.Fatalf("unrelated document was invalidated: %v", err)
	}
}

// TestClearAndStats verifies full clear and the stats accessor.
func TestClearAndStats(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 0)
	for i := 0; i < 4; i++ {
		if err := m.Put(Key{Fingerprint: "abc", VoiceHash: "11112222", Index: i}, []byte("1234567890")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	count, total, err := m.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if count != 4 || total != 40 {
		t.Fatalf("stats = %d entries / %d bytes, want 4 / 40", count, total)
	}

	removed, err := m.Clear()
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 4 {
		t.Fatalf("removed = %d, want 4", removed)
	}

	count, total, err = m.Stats()
	if err != nil {
		t.Fatalf("Stats after clear: %v", err)
	}
	if count != 0 || total != 0 {
		t.Fatalf("stats after clear = %d / %d", count, total)
	}
}
