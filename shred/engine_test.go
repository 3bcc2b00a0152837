package shred

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/scuttle/securestore"
	"github.com/opd-ai/scuttle/token"
)

func testToken(mode token.Mode) *token.KillToken {
	return token.SelfIssued("test-device", mode, "inactivity", "test run", time.Now())
}

// testFixture wires an engine over in-memory stores and a temp
// filesystem root populated with a few files.
type testFixture struct {
	engine  *Engine
	secrets *securestore.Memory
	cache   *securestore.Memory
	meta    *securestore.Memory
	appRoot string
}

func newFixture(t *testing.T, opts Options) *testFixture {
	t.Helper()

	f := &testFixture{
		secrets: securestore.NewMemory(),
		cache:   securestore.NewMemory(),
		meta:    securestore.NewMemory(),
		appRoot: t.TempDir(),
	}

	require.NoError(t, f.secrets.Set("identity.priv", []byte("secret-identity-key")))
	require.NoError(t, f.secrets.Set("session.keys", []byte("ephemeral-session-material")))
	require.NoError(t, f.cache.Set("avatar.cache", []byte("cached-bytes")))
	require.NoError(t, f.meta.Set("backup.timestamp", []byte("2026-01-01")))
	require.NoError(t, f.meta.Set("device.registration", []byte("reg-token")))
	require.NoError(t, f.meta.Set("ui.preferences", []byte("dark")))

	require.NoError(t, os.MkdirAll(filepath.Join(f.appRoot, "messages"), 0o700))
	for _, name := range []string{"messages/chat1.db", "messages/chat2.db", "attachment.bin"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.appRoot, name), []byte("payload-"+name), 0o600))
	}

	if opts.Passes == 0 {
		opts.Passes = 3
	}
	opts.AppRoots = append(opts.AppRoots, f.appRoot)
	if opts.AppMetadataKeys == nil {
		opts.AppMetadataKeys = []string{"backup.timestamp", "ui.preferences"}
	}
	if opts.DeviceMetadataKeys == nil {
		opts.DeviceMetadataKeys = []string{"device.registration"}
	}
	if opts.ScrubBufferSize == 0 {
		opts.ScrubBufferSize = 64 * 1024
		opts.ScrubBufferCount = 2
	}

	f.engine = New(f.secrets, f.cache, f.meta, opts, nil)
	return f
}

func TestExecuteRunsAllFivePhases(t *testing.T) {
	f := newFixture(t, Options{})

	receipt, err := f.engine.Execute(testToken(token.SelectiveErase))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, receipt.PhasesCompleted)
	assert.True(t, receipt.Success)
	assert.Empty(t, receipt.Errors)
	assert.Equal(t, StateCompleted, f.engine.State())

	// Secrets, cache, and files must all be gone.
	assert.Equal(t, 0, f.secrets.Len())
	assert.Equal(t, 0, f.cache.Len())
	entries, err := os.ReadDir(f.appRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Greater(t, receipt.ItemsDestroyed, 0)
	assert.Greater(t, receipt.BytesOverwritten, int64(0))
}

func TestExecuteSelectiveKeepsDeviceMetadata(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.engine.Execute(testToken(token.SelectiveErase))
	require.NoError(t, err)

	_, err = f.meta.Get("device.registration")
	assert.NoError(t, err, "device-scoped metadata survives selective erase")
	_, err = f.meta.Get("backup.timestamp")
	assert.ErrorIs(t, err, securestore.ErrNotFound)
}

func TestExecuteTotalPurgesDeviceMetadata(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.engine.Execute(testToken(token.TotalObliteration))
	require.NoError(t, err)

	_, err = f.meta.Get("device.registration")
	assert.ErrorIs(t, err, securestore.ErrNotFound)
}

func TestExecuteExtraRootsOnlyUnderTotal(t *testing.T) {
	extra := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(extra, "system.log"), []byte("entries"), 0o600))

	f := newFixture(t, Options{ExtraRoots: []string{extra}})
	_, err := f.engine.Execute(testToken(token.SelectiveErase))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(extra, "system.log"))
	assert.NoError(t, err, "extra roots untouched in selective mode")

	f2 := newFixture(t, Options{ExtraRoots: []string{extra}})
	_, err = f2.engine.Execute(testToken(token.TotalObliteration))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(extra, "system.log"))
	assert.True(t, os.IsNotExist(err), "extra roots erased under total obliteration")
}

// gatedStore blocks Keys until the gate is released, letting tests
// hold the engine inside phase 1.
type gatedStore struct {
	securestore.Store
	gate chan struct{}
}

func (g *gatedStore) Keys() ([]string, error) {
	<-g.gate
	return g.Store.Keys()
}

func TestExecuteSingleFlight(t *testing.T) {
	f := newFixture(t, Options{})

	gate := make(chan struct{})
	f.engine.secrets = &gatedStore{Store: f.secrets, gate: gate}

	tok1 := testToken(token.SelectiveErase)
	var receipt1 *Receipt
	var err1 error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		receipt1, err1 = f.engine.Execute(tok1)
	}()

	require.Eventually(t, func() bool {
		return f.engine.State() == StateRunning
	}, time.Second, time.Millisecond)

	cacheBefore := f.cache.Len()

	// Second call during the run must fail fast with zero side
	// effects.
	receipt2, err2 := f.engine.Execute(testToken(token.TotalObliteration))
	assert.Nil(t, receipt2)
	assert.ErrorIs(t, err2, ErrInProgress)
	assert.Equal(t, cacheBefore, f.cache.Len())

	close(gate)
	wg.Wait()

	require.NoError(t, err1)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, receipt1.PhasesCompleted)
}

func TestExecuteReplaySameTokenIdempotent(t *testing.T) {
	f := newFixture(t, Options{})

	tok := testToken(token.SelectiveErase)
	first, err := f.engine.Execute(tok)
	require.NoError(t, err)

	replay, err := f.engine.Execute(tok)
	require.NoError(t, err)
	assert.Same(t, first, replay)
}

func TestExecuteNewTokenAfterCompletionRejected(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.engine.Execute(testToken(token.SelectiveErase))
	require.NoError(t, err)

	_, err = f.engine.Execute(testToken(token.TotalObliteration))
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestExecuteNilToken(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.engine.Execute(nil)
	assert.Error(t, err)
	assert.Equal(t, StateIdle, f.engine.State())
}

func TestPartialFileFailureFallsBackToPlainDelete(t *testing.T) {
	f := newFixture(t, Options{WorkerCount: 1})

	// Force the overwrite of one file to fail; the engine must plain-
	// delete it and keep processing the rest.
	orig := openFile
	openFile = func(name string, flag int, perm os.FileMode) (*os.File, error) {
		if strings.HasSuffix(name, "chat1.db") {
			return nil, os.ErrPermission
		}
		return os.OpenFile(name, flag, perm)
	}
	t.Cleanup(func() { openFile = orig })

	receipt, err := f.engine.Execute(testToken(token.SelectiveErase))
	require.NoError(t, err)

	assert.Equal(t, StateCompletedWithErrors, f.engine.State())
	assert.False(t, receipt.Success)
	require.NotEmpty(t, receipt.Errors)
	assert.Contains(t, receipt.Errors[0], "chat1.db")
	assert.Contains(t, receipt.Errors[0], "fell back to plain delete")

	// The sweep still completed: every file is gone, including the one
	// that could not be overwritten.
	entries, err := os.ReadDir(f.appRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Phase 2 finished its sweep despite the per-item failure.
	assert.Contains(t, receipt.PhasesCompleted, 2)
}

func TestWatchdogForcesNextPhase(t *testing.T) {
	f := newFixture(t, Options{WatchdogTimeout: 50 * time.Millisecond})

	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	f.engine.secrets = &gatedStore{Store: f.secrets, gate: gate}

	receipt, err := f.engine.Execute(testToken(token.SelectiveErase))
	require.NoError(t, err)

	assert.Equal(t, StateCompletedWithErrors, f.engine.State())
	assert.NotContains(t, receipt.PhasesCompleted, 1, "stalled phase is not marked completed")
	assert.Contains(t, receipt.PhasesCompleted, 2, "engine advanced past the stalled phase")
	require.NotEmpty(t, receipt.Errors)
	assert.Contains(t, receipt.Errors[0], "watchdog expired")
}

func TestMissingRootsIgnored(t *testing.T) {
	f := newFixture(t, Options{ExtraRoots: []string{"/nonexistent/path/for/test"}})

	receipt, err := f.engine.Execute(testToken(token.TotalObliteration))
	require.NoError(t, err)
	assert.True(t, receipt.Success)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "completed_with_errors", StateCompletedWithErrors.String())
}
