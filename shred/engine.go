// Package shred implements the destruction engine: an ordered,
// idempotent, multi-phase wipe of the device's secrets, files, caches,
// and bookkeeping metadata. Every phase is best-effort; per-item
// failures are recorded into the receipt and never stop the sweep,
// because erasure must stay maximally thorough even in a degraded
// environment.
//
// The engine is a one-way state machine: Idle -> Running -> Completed
// or CompletedWithErrors. There is no transition back to Idle within a
// process lifetime, and no cancellation once a run has begun.
package shred

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/scuttle/securestore"
	"github.com/opd-ai/scuttle/token"
)

// State is the engine's lifecycle state.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCompletedWithErrors
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCompletedWithErrors:
		return "completed_with_errors"
	default:
		return "unknown"
	}
}

// Phase identifies one ordered stage of the wipe.
type Phase int

const (
	PhaseSecureStore Phase = iota + 1
	PhaseFilesystem
	PhaseMemoryScrub
	PhaseCachePurge
	PhaseMetadataPurge
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseSecureStore:
		return "secure_store_annihilation"
	case PhaseFilesystem:
		return "filesystem_destruction"
	case PhaseMemoryScrub:
		return "memory_scrub"
	case PhaseCachePurge:
		return "cache_purge"
	case PhaseMetadataPurge:
		return "metadata_purge"
	default:
		return "unknown"
	}
}

// ErrInProgress is returned by Execute while a run is already in
// flight. The second call performs zero phase side effects.
var ErrInProgress = errors.New("destruction already in progress")

// ErrAlreadyCompleted is returned for a new token after a run has
// finished. A completed device is expected to be reset externally; the
// engine never runs twice in one process.
var ErrAlreadyCompleted = errors.New("destruction already completed")

// Options is the engine's erasure profile.
type Options struct {
	// Passes is the per-file overwrite pass count.
	Passes int
	// ChunkSize bounds each overwrite write.
	ChunkSize int
	// WorkerCount bounds per-file parallelism within the filesystem
	// phase.
	WorkerCount int
	// WatchdogTimeout, when positive, forces advance to the next phase
	// instead of hanging indefinitely on one item.
	WatchdogTimeout time.Duration

	// AppRoots are erased in every mode; ExtraRoots only under total
	// obliteration.
	AppRoots   []string
	ExtraRoots []string

	// AppMetadataKeys are purged in every mode; DeviceMetadataKeys
	// only under total obliteration.
	AppMetadataKeys    []string
	DeviceMetadataKeys []string

	// ScrubBufferSize and ScrubBufferCount size the memory-scrub
	// phase.
	ScrubBufferSize  int
	ScrubBufferCount int
}

func (o *Options) applyDefaults() {
	if o.Passes <= 0 {
		o.Passes = 7
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 256 * 1024
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 4
	}
	if o.ScrubBufferSize <= 0 {
		o.ScrubBufferSize = 4 * 1024 * 1024
	}
	if o.ScrubBufferCount <= 0 {
		o.ScrubBufferCount = 8
	}
}

// Engine executes the five-phase wipe. At most one run is ever in
// flight, enforced by a single engine-owned state flag under a lock.
type Engine struct {
	mu            sync.Mutex
	state         State
	phase         Phase
	lastReceipt   *Receipt
	lastCommandID string

	secrets securestore.Store
	cache   securestore.Store
	meta    securestore.Store
	opts    Options
	log     *logrus.Logger
}

// New creates an engine over the three stores it erases: the encrypted
// secret store, the ephemeral cache, and the bookkeeping metadata
// store. Pass nil for log to use the standard logger.
func New(secrets, cache, meta securestore.Store, opts Options, log *logrus.Logger) *Engine {
	opts.applyDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		state:   StateIdle,
		secrets: secrets,
		cache:   cache,
		meta:    meta,
		opts:    opts,
		log:     log,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentPhase returns the phase in progress, or zero when not
// running.
func (e *Engine) CurrentPhase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// LastReceipt returns the receipt of the finished run, or nil.
func (e *Engine) LastReceipt() *Receipt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReceipt
}

// Execute runs the full wipe authorized by tok and blocks until it
// finishes. Replaying the token of a finished run returns the stored
// receipt without side effects. A concurrent call during a run fails
// fast with ErrInProgress; once begun, a run cannot be cancelled.
func (e *Engine) Execute(tok *token.KillToken) (*Receipt, error) {
	if tok == nil {
		return nil, errors.New("nil kill token")
	}

	e.mu.Lock()
	switch e.state {
	case StateRunning:
		e.mu.Unlock()
		e.log.WithFields(logrus.Fields{
			"command_id": tok.CommandID,
		}).Warn("Destruction already in progress, submission coalesced")
		return nil, ErrInProgress
	case StateCompleted, StateCompletedWithErrors:
		if tok.CommandID == e.lastCommandID {
			r := e.lastReceipt
			e.mu.Unlock()
			return r, nil
		}
		e.mu.Unlock()
		return nil, ErrAlreadyCompleted
	}
	e.state = StateRunning
	e.lastCommandID = tok.CommandID
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"command_id": tok.CommandID,
		"mode":       tok.Mode.String(),
		"source":     tok.TriggerSource,
	}).Info("Destruction run starting")

	receipt := e.run(tok)

	e.mu.Lock()
	if len(receipt.Errors) == 0 {
		e.state = StateCompleted
	} else {
		e.state = StateCompletedWithErrors
	}
	e.phase = 0
	e.lastReceipt = receipt
	finalState := e.state
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"command_id":        tok.CommandID,
		"state":             finalState.String(),
		"phases_completed":  receipt.PhasesCompleted,
		"items_destroyed":   receipt.ItemsDestroyed,
		"bytes_overwritten": receipt.BytesOverwritten,
		"errors":            len(receipt.Errors),
	}).Info("Destruction run finished")

	return receipt, nil
}

func (e *Engine) run(tok *token.KillToken) *Receipt {
	receipt := &Receipt{
		ID:        uuid.New().String(),
		CommandID: tok.CommandID,
		DeviceID:  tok.DeviceID,
		Mode:      tok.Mode.String(),
		StartedAt: time.Now(),
	}

	phases := []struct {
		phase Phase
		fn    func(token.Mode, *tally)
	}{
		{PhaseSecureStore, e.annihilateSecureStore},
		{PhaseFilesystem, e.destroyFilesystem},
		{PhaseMemoryScrub, e.scrubMemory},
		{PhaseCachePurge, e.purgeCache},
		{PhaseMetadataPurge, e.purgeMetadata},
	}

	for _, p := range phases {
		e.mu.Lock()
		e.phase = p.phase
		e.mu.Unlock()
		e.runPhase(p.phase, tok.Mode, p.fn, receipt)
	}

	receipt.FinishedAt = time.Now()
	receipt.Success = len(receipt.Errors) == 0
	return receipt
}

// runPhase executes one phase under the optional watchdog. The phase
// is marked completed when its sweep returns; per-item errors recorded
// into the tally do not prevent completion, they only surface in the
// receipt. A watchdog expiry or phase panic leaves the phase
// uncompleted and the engine moves on regardless.
func (e *Engine) runPhase(p Phase, mode token.Mode, fn func(token.Mode, *tally), receipt *Receipt) {
	log := e.log.WithFields(logrus.Fields{
		"phase": int(p),
		"name":  p.String(),
	})
	log.Info("Phase starting")

	t := &tally{}
	done := make(chan struct{})
	var panicked error

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				panicked = fmt.Errorf("phase %d panic: %v", p, r)
			}
		}()
		fn(mode, t)
	}()

	completed := true
	timedOut := false
	if e.opts.WatchdogTimeout > 0 {
		select {
		case <-done:
		case <-time.After(e.opts.WatchdogTimeout):
			completed = false
			timedOut = true
			t.addError(fmt.Sprintf("phase %d (%s): watchdog expired after %v, forcing next phase",
				p, p, e.opts.WatchdogTimeout))
			log.Error("Phase watchdog expired, advancing")
		}
	} else {
		<-done
	}

	// panicked is only safe to read once the phase goroutine has
	// finished.
	if !timedOut && panicked != nil {
		completed = false
		t.addError(panicked.Error())
		log.WithFields(logrus.Fields{"error": panicked.Error()}).Error("Phase failed")
	}

	items, bytes, errs := t.snapshot()
	receipt.ItemsDestroyed += items
	receipt.BytesOverwritten += bytes
	receipt.Errors = append(receipt.Errors, errs...)
	if completed {
		receipt.PhasesCompleted = append(receipt.PhasesCompleted, int(p))
	}

	log.WithFields(logrus.Fields{
		"items":     items,
		"bytes":     bytes,
		"errors":    len(errs),
		"completed": completed,
	}).Info("Phase finished")
}

// annihilateSecureStore overwrites every sensitive value with fresh
// random data at least twice, then deletes the key. A per-key failure
// is recorded and the sweep continues.
func (e *Engine) annihilateSecureStore(_ token.Mode, t *tally) {
	if e.secrets == nil {
		return
	}

	keys, err := e.secrets.Keys()
	if err != nil {
		t.addError(fmt.Sprintf("phase 1: failed to list secure store keys: %v", err))
		return
	}

	for _, key := range keys {
		size := 64
		if v, err := e.secrets.Get(key); err == nil && len(v) > size {
			size = len(v)
		}

		var overwritten int64
		for pass := 0; pass < 2; pass++ {
			junk := make([]byte, size)
			if _, err := rand.Read(junk); err == nil {
				if err := e.secrets.Set(key, junk); err != nil {
					t.addError(fmt.Sprintf("phase 1: overwrite %q pass %d: %v", key, pass+1, err))
					break
				}
				overwritten += int64(size)
			}
		}

		if err := e.secrets.Delete(key); err != nil {
			t.addError(fmt.Sprintf("phase 1: delete %q: %v", key, err))
			continue
		}
		t.add(1, overwritten)
	}
}

// destroyFilesystem walks the designated roots and shreds every file
// with the configured pass profile, using a bounded worker pool to
// keep peak memory and I/O predictable. A file whose overwrite fails
// is plain-deleted rather than left partially overwritten.
func (e *Engine) destroyFilesystem(mode token.Mode, t *tally) {
	roots := append([]string{}, e.opts.AppRoots...)
	if mode == token.TotalObliteration {
		roots = append(roots, e.opts.ExtraRoots...)
	}

	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			if !os.IsNotExist(err) {
				t.addError(fmt.Sprintf("phase 2: root %q: %v", root, err))
			}
			continue
		}

		files, dirs := collectTargets(root)

		work := make(chan fileTarget)
		var wg sync.WaitGroup
		for w := 0; w < e.opts.WorkerCount; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for f := range work {
					e.destroyFile(f, t)
				}
			}()
		}
		for _, f := range files {
			work <- f
		}
		close(work)
		wg.Wait()

		for _, dir := range dirs {
			if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
				// Leftover entries from failed deletes keep the dir
				// alive; that failure is already in the receipt.
				e.log.WithFields(logrus.Fields{
					"dir":   dir,
					"error": err.Error(),
				}).Debug("Directory not removed")
			}
		}
	}
}

func (e *Engine) destroyFile(f fileTarget, t *tally) {
	if f.special {
		if err := os.Remove(f.path); err != nil {
			t.addError(fmt.Sprintf("phase 2: delete special entry %q: %v", f.path, err))
			return
		}
		t.add(1, 0)
		return
	}

	bytes, err := shredFile(f.path, f.size, e.opts.Passes, e.opts.ChunkSize)
	if err != nil {
		// Plain delete fallback: partially-overwritten content must
		// not be left behind under its original name.
		if rmErr := os.Remove(f.path); rmErr != nil && !os.IsNotExist(rmErr) {
			t.addError(fmt.Sprintf("phase 2: shred %q: %v (fallback delete failed: %v)",
				f.path, err, rmErr))
			return
		}
		t.addError(fmt.Sprintf("phase 2: shred %q: %v (fell back to plain delete)", f.path, err))
		t.add(1, bytes)
		return
	}
	t.add(1, bytes)
}

// scrubMemory allocates and overwrites several large buffers with
// random data to reduce the chance sensitive material lingers in
// process memory or swap, then releases them.
func (e *Engine) scrubMemory(_ token.Mode, t *tally) {
	buffers := make([][]byte, 0, e.opts.ScrubBufferCount)
	for i := 0; i < e.opts.ScrubBufferCount; i++ {
		buf := make([]byte, e.opts.ScrubBufferSize)
		if _, err := rand.Read(buf); err != nil {
			for j := range buf {
				buf[j] = 0xA5
			}
		}
		buffers = append(buffers, buf)
		t.add(0, int64(len(buf)))
	}
	runtime.KeepAlive(buffers)

	for i := range buffers {
		buffers[i] = nil
	}
	runtime.GC()
}

// purgeCache clears the generic local key-value cache.
func (e *Engine) purgeCache(_ token.Mode, t *tally) {
	e.purgeStore(e.cache, "phase 4", nil, t)
}

// purgeMetadata deletes bookkeeping keys that are not secrets but
// could reveal device history.
func (e *Engine) purgeMetadata(mode token.Mode, t *tally) {
	keys := append([]string{}, e.opts.AppMetadataKeys...)
	if mode == token.TotalObliteration {
		keys = append(keys, e.opts.DeviceMetadataKeys...)
	}
	e.purgeStore(e.meta, "phase 5", keys, t)
}

// purgeStore deletes the given keys from the store, or every key when
// keys is nil.
func (e *Engine) purgeStore(store securestore.Store, label string, keys []string, t *tally) {
	if store == nil {
		return
	}

	if keys == nil {
		var err error
		keys, err = store.Keys()
		if err != nil {
			t.addError(fmt.Sprintf("%s: failed to list keys: %v", label, err))
			return
		}
	}

	for _, key := range keys {
		if err := store.Delete(key); err != nil {
			t.addError(fmt.Sprintf("%s: delete %q: %v", label, key, err))
			continue
		}
		t.add(1, 0)
	}
}

// tally accumulates per-phase results from concurrent workers.
type tally struct {
	mu    sync.Mutex
	items int
	bytes int64
	errs  []string
}

func (t *tally) add(items int, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items += items
	t.bytes += bytes
}

func (t *tally) addError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, msg)
}

func (t *tally) snapshot() (int, int64, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	errs := make([]string, len(t.errs))
	copy(errs, t.errs)
	return t.items, t.bytes, errs
}
