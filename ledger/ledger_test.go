package ledger

import (
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordActivityMonotonic(t *testing.T) {
	l := New()
	base := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	// Any sequence of writes leaves the maximum timestamp stored.
	stamps := []time.Duration{5 * time.Minute, 2 * time.Minute, 90 * time.Minute, 10 * time.Minute}
	max := time.Time{}
	for _, d := range stamps {
		ts := base.Add(d)
		l.RecordActivity(ts)
		if ts.After(max) {
			max = ts
		}
	}

	assert.True(t, l.LastActivity().Equal(max))
}

func TestRecordActivityStaleWriteIsNoOp(t *testing.T) {
	l := New()
	newer := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	assert.True(t, l.RecordActivity(newer))
	assert.False(t, l.RecordActivity(older))
	assert.True(t, l.LastActivity().Equal(newer))
}

func TestRecordActivityZeroTimeIgnored(t *testing.T) {
	l := New()
	assert.False(t, l.RecordActivity(time.Time{}))
	assert.True(t, l.LastActivity().IsZero())
}

func TestActivityNeverTouchesReauth(t *testing.T) {
	l := New()
	base := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		l.RecordActivity(base.Add(time.Duration(i) * time.Minute))
	}

	assert.True(t, l.LastReauth().IsZero(), "generic activity must not satisfy reauthentication")
}

func TestRecordReauthIndependent(t *testing.T) {
	l := New()
	reauthAt := time.Date(2026, 1, 9, 7, 0, 0, 0, time.UTC)
	activityAt := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	l.RecordReauth(reauthAt)
	l.RecordActivity(activityAt)

	assert.True(t, l.LastReauth().Equal(reauthAt))
	assert.True(t, l.LastActivity().Equal(activityAt))
}

func TestConcurrentWritersConverge(t *testing.T) {
	l := New()
	base := time.Now()

	const writers = 16
	const writesPerWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < writesPerWriter; i++ {
				l.RecordActivity(base.Add(time.Duration(rng.Intn(1000)) * time.Second))
			}
		}(int64(w))
	}
	wg.Wait()

	// The stored value can only be one of the written timestamps and
	// must be at least the base offset zero.
	got := l.LastActivity()
	assert.False(t, got.Before(base))
	assert.False(t, got.After(base.Add(1000*time.Second)))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.dat")

	l := New()
	activityAt := time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC)
	reauthAt := time.Date(2026, 1, 29, 9, 0, 0, 0, time.UTC)
	l.RecordActivity(activityAt)
	l.RecordReauth(reauthAt)

	require.NoError(t, l.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, loaded.LastActivity().Equal(activityAt))
	assert.True(t, loaded.LastReauth().Equal(reauthAt))
}

func TestLoadMissingFileStartsFresh(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "absent.dat"))
	require.NoError(t, err)
	assert.True(t, loaded.LastActivity().IsZero())
	assert.True(t, loaded.LastReauth().IsZero())
}

func TestLoadRejectsCorruptedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.dat")
	require.NoError(t, New().Save(path))

	// Truncate the snapshot to force a size mismatch.
	require.NoError(t, os.WriteFile(path, []byte{0x01, 0x02, 0x03}, 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
