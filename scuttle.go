package scuttle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/scuttle/config"
	"github.com/opd-ai/scuttle/ledger"
	"github.com/opd-ai/scuttle/monitor"
	"github.com/opd-ai/scuttle/securestore"
	"github.com/opd-ai/scuttle/shred"
	"github.com/opd-ai/scuttle/telemetry"
	"github.com/opd-ai/scuttle/token"
	"github.com/opd-ai/scuttle/trigger"
)

// Options configures a Supervisor. DeviceID and DataDir are required;
// everything else has a usable default.
type Options struct {
	// DeviceID identifies this device to the revocation authority.
	DeviceID string
	// DataDir roots the ledger snapshot and the local stores.
	DataDir string
	// Config supplies monitor and engine settings; nil selects
	// config.Default().
	Config *config.Config
	// AuthorityKey is the embedded revocation authority public key.
	AuthorityKey [32]byte
	// MasterPassword protects the encrypted stores; it is wiped during
	// initialization.
	MasterPassword []byte
	// Notifier receives user-facing callbacks; nil discards them.
	Notifier trigger.Notifier
	// Sink receives the destruction receipt; nil discards it.
	Sink telemetry.Sink
	// HTTPClient is used for revocation polling.
	HTTPClient *http.Client
	// Probes override the built-in forensic probe set.
	Probes []monitor.Probe
	// BatterySampler feeds the charger-anomaly probe when Probes is
	// nil.
	BatterySampler monitor.BatterySampler
	// TimeProvider overrides the clock for testing.
	TimeProvider ledger.TimeProvider
	// Logger overrides the standard logger.
	Logger *logrus.Logger
}

// Supervisor owns the four trigger sources as explicit long-lived
// tasks and starts and stops them deterministically. There is no
// ambient global state: every handle the monitors touch is injected
// here.
type Supervisor struct {
	opts  Options
	cfg   *config.Config
	clock ledger.TimeProvider
	log   *logrus.Logger

	led        *ledger.ActivityLedger
	ledgerPath string

	secrets *securestore.Encrypted
	meta    *securestore.Encrypted
	cache   *securestore.Memory

	engine     *shred.Engine
	agg        *trigger.Aggregator
	inactivity *monitor.Inactivity
	reauth     *monitor.Reauth
	revocation *monitor.Revocation
	forensic   *monitor.Forensic

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	warned  map[trigger.Source]bool
	pending *pendingRevocation
}

// pendingRevocation holds a verified remote token that arrived with
// auto-execute disabled and awaits user confirmation.
type pendingRevocation struct {
	ev  trigger.Event
	tok *token.KillToken
}

// New wires the subsystem: stores, engine, aggregator, and the four
// monitors. Nothing runs until Start.
func New(opts Options) (*Supervisor, error) {
	if opts.DeviceID == "" {
		return nil, errors.New("device ID is required")
	}
	if opts.DataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if len(opts.MasterPassword) == 0 {
		return nil, errors.New("master password is required")
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = ledger.DefaultTimeProvider{}
	}

	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	ledgerPath := filepath.Join(opts.DataDir, "ledger.dat")
	led, err := ledger.Load(ledgerPath)
	if err != nil {
		log.WithFields(logrus.Fields{
			"path":  ledgerPath,
			"error": err.Error(),
		}).Warn("Could not load ledger snapshot, starting fresh")
		led = ledger.New()
	}

	// NewEncrypted wipes the password it is handed, so each store gets
	// its own copy.
	secrets, err := securestore.NewEncrypted(filepath.Join(opts.DataDir, "secure"), clonePassword(opts.MasterPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to open secure store: %w", err)
	}
	meta, err := securestore.NewEncrypted(filepath.Join(opts.DataDir, "meta"), clonePassword(opts.MasterPassword))
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	wipePassword(opts.MasterPassword)
	cache := securestore.NewMemory()

	engine := shred.New(secrets, cache, meta, shred.Options{
		Passes:             cfg.Shred.Passes,
		ChunkSize:          cfg.Shred.ChunkSize,
		WorkerCount:        cfg.Shred.WorkerCount,
		WatchdogTimeout:    cfg.Shred.WatchdogTimeout,
		AppRoots:           cfg.Shred.AppRoots,
		ExtraRoots:         cfg.Shred.ExtraRoots,
		AppMetadataKeys:    cfg.Shred.AppMetadataKeys,
		DeviceMetadataKeys: cfg.Shred.DeviceMetadataKeys,
	}, log)

	policies := map[trigger.Source]trigger.Policy{
		trigger.SourceInactivity: {
			Mode:               cfg.Inactivity.Mode,
			ImmediateOnWarning: cfg.Inactivity.ImmediateOnWarning,
		},
		trigger.SourceReauthOverdue: {
			Mode:               cfg.Reauth.Mode,
			ImmediateOnWarning: cfg.Reauth.ImmediateOnWarning,
		},
		// Remote revocation tokens carry their own mode; forensic
		// detection always escalates to total obliteration.
		trigger.SourceRemoteRevocation:  {Mode: token.TotalObliteration},
		trigger.SourceForensicDetection: {Mode: token.TotalObliteration},
		trigger.SourceManual:            {Mode: cfg.Inactivity.Mode},
	}

	agg := trigger.NewAggregator(engine, opts.DeviceID, policies, opts.Notifier, opts.Sink, log)

	probes := opts.Probes
	if probes == nil {
		probes = monitor.DefaultProbes(opts.BatterySampler)
	}

	s := &Supervisor{
		opts:       opts,
		cfg:        cfg,
		clock:      clock,
		log:        log,
		led:        led,
		ledgerPath: ledgerPath,
		secrets:    secrets,
		meta:       meta,
		cache:      cache,
		engine:     engine,
		agg:        agg,
		inactivity: monitor.NewInactivity(cfg.Inactivity),
		reauth:     monitor.NewReauth(cfg.Reauth),
		revocation: monitor.NewRevocation(cfg.Revocation, opts.DeviceID, token.NewAuthority(opts.AuthorityKey), opts.HTTPClient, log),
		forensic:   monitor.NewForensic(probes, log),
		warned:     make(map[trigger.Source]bool),
	}
	return s, nil
}

// Start launches one goroutine per enabled monitor. The revocation
// poller runs on its own task so a slow or hung network call never
// delays the local monitors.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("supervisor already started")
	}

	// A fresh ledger gets its baseline from the provisioning start:
	// device setup implies an authenticated session, so both clocks
	// begin now rather than never.
	now := s.clock.Now()
	if s.led.LastActivity().IsZero() {
		s.led.RecordActivity(now)
	}
	if s.led.LastReauth().IsZero() {
		s.led.RecordReauth(now)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	if s.cfg.Inactivity.Enabled {
		s.wg.Add(1)
		go s.runDeadlineMonitor(ctx, trigger.SourceInactivity,
			s.inactivity.Evaluate, s.inactivity.Remaining)
	}
	if s.cfg.Reauth.Enabled {
		s.wg.Add(1)
		go s.runDeadlineMonitor(ctx, trigger.SourceReauthOverdue,
			s.reauth.Evaluate, s.reauth.Remaining)
	}
	if s.cfg.Revocation.Enabled {
		s.wg.Add(1)
		go s.runRevocationMonitor(ctx)
	}
	if s.cfg.Forensic.Enabled {
		s.wg.Add(1)
		go s.runForensicMonitor(ctx)
	}

	s.log.WithFields(logrus.Fields{
		"device_id":      s.opts.DeviceID,
		"check_interval": s.cfg.CheckInterval,
	}).Info("Self-destruct supervisor started")
	return nil
}

// Stop cancels the monitor tasks, waits for them to exit, and saves
// the ledger snapshot. A destruction run already in flight is not
// interrupted; cancellation of a wipe is not supported.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	if err := s.led.Save(s.ledgerPath); err != nil {
		s.log.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Failed to save ledger snapshot on stop")
	}
	s.log.Info("Self-destruct supervisor stopped")
}

// RecordActivity feeds the inactivity monitor from an app-lifecycle
// hook (foreground, login, message sent).
func (s *Supervisor) RecordActivity() {
	s.led.RecordActivity(s.clock.Now())
}

// RecordReauth resets the mandatory reauthentication deadline. Call
// only after an explicit, successful credential verification. The
// ledger is snapshotted immediately; reauth events are rare and the
// deadline must survive restarts.
func (s *Supervisor) RecordReauth() {
	s.led.RecordReauth(s.clock.Now())
	if err := s.led.Save(s.ledgerPath); err != nil {
		s.log.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Failed to persist reauth timestamp")
	}
}

// TriggerManual executes a user-initiated wipe in the given mode.
func (s *Supervisor) TriggerManual(mode token.Mode, reason string) error {
	now := s.clock.Now()
	ev := trigger.Event{
		Source:     trigger.SourceManual,
		Severity:   trigger.SeverityCritical,
		Reason:     reason,
		DetectedAt: now,
	}
	tok := token.SelfIssued(s.opts.DeviceID, mode, trigger.SourceManual.String(), reason, now)
	return s.agg.SubmitToken(ev, tok)
}

// Ledger exposes the activity ledger for host integration.
func (s *Supervisor) Ledger() *ledger.ActivityLedger { return s.led }

// Engine exposes the destruction engine, primarily for state
// inspection.
func (s *Supervisor) Engine() *shred.Engine { return s.engine }

// SecretStore exposes the encrypted store the host app keeps its
// sensitive material in, so that material is known to the engine's
// first phase.
func (s *Supervisor) SecretStore() securestore.Store { return s.secrets }

// MetadataStore exposes the bookkeeping store purged in phase five.
func (s *Supervisor) MetadataStore() securestore.Store { return s.meta }

// Cache exposes the ephemeral store purged in phase four.
func (s *Supervisor) Cache() securestore.Store { return s.cache }

// runDeadlineMonitor drives one of the two dead-man monitors. Each
// evaluation is pure; a critical event ends the loop since the engine
// never runs twice in one process.
func (s *Supervisor) runDeadlineMonitor(ctx context.Context, source trigger.Source,
	evaluate func(*ledger.ActivityLedger, time.Time) (*trigger.Event, bool),
	remaining func(*ledger.ActivityLedger, time.Time) time.Duration) {

	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.clock.Now()
			ev, warnPending := evaluate(s.led, now)
			if ev != nil {
				if err := s.agg.Submit(*ev); err != nil {
					s.log.WithFields(logrus.Fields{
						"source": source.String(),
						"error":  err.Error(),
					}).Error("Trigger submission failed")
				}
				return
			}
			s.handleWarning(source, warnPending, remaining(s.led, now))
		}
	}
}

// handleWarning surfaces each approach to a deadline once, re-arming
// when the deadline is pushed back out of the warning window.
func (s *Supervisor) handleWarning(source trigger.Source, pending bool, remaining time.Duration) {
	s.mu.Lock()
	already := s.warned[source]
	s.warned[source] = pending
	s.mu.Unlock()

	if pending && !already {
		s.agg.Warn(source, remaining)
	}
}

func (s *Supervisor) runRevocationMonitor(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.revocation.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			tok, err := s.revocation.Poll(ctx)
			if err != nil {
				// Evaluation failure is never itself cause for wiping;
				// the next poll retries.
				s.log.WithFields(logrus.Fields{
					"error": err.Error(),
				}).Debug("Revocation poll returned error")
			}
			if tok != nil && s.handleRevocationToken(tok) {
				return
			}
			timer.Reset(s.revocation.Interval())
		}
	}
}

// handleRevocationToken routes one verified remote token. Auto-execute
// tokens run immediately and end the polling loop; the rest are parked
// for user confirmation while polling continues, since the authority
// may still supersede them with an auto-execute command. Returns true
// when the polling loop should stop.
func (s *Supervisor) handleRevocationToken(tok *token.KillToken) bool {
	ev := trigger.Event{
		Source:     trigger.SourceRemoteRevocation,
		Severity:   trigger.SeverityCritical,
		Reason:     tok.Reason,
		DetectedAt: s.clock.Now(),
	}

	if !tok.AutoExecute {
		s.mu.Lock()
		already := s.pending != nil && s.pending.tok.CommandID == tok.CommandID
		if !already {
			s.pending = &pendingRevocation{ev: ev, tok: tok}
		}
		s.mu.Unlock()

		if !already {
			s.log.WithFields(logrus.Fields{
				"command_id": tok.CommandID,
				"mode":       tok.Mode.String(),
			}).Warn("Revocation received, awaiting user confirmation")
			s.agg.RequestConfirmation(ev, tok.Mode)
		}
		return false
	}

	if err := s.agg.SubmitToken(ev, tok); err != nil {
		s.log.WithFields(logrus.Fields{
			"command_id": tok.CommandID,
			"error":      err.Error(),
		}).Error("Revocation token submission failed")
	}
	return true
}

// ConfirmRevocation executes a remote revocation that arrived with
// auto-execute disabled, after the user has approved it.
func (s *Supervisor) ConfirmRevocation() error {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()

	if p == nil {
		return errors.New("no revocation awaiting confirmation")
	}
	return s.agg.SubmitToken(p.ev, p.tok)
}

func (s *Supervisor) runForensicMonitor(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Forensic.EffectiveScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ev := s.forensic.Scan(ctx, s.clock.Now()); ev != nil {
				if err := s.agg.Submit(*ev); err != nil {
					s.log.WithFields(logrus.Fields{
						"error": err.Error(),
					}).Error("Forensic trigger submission failed")
				}
				return
			}
		}
	}
}

func clonePassword(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

func wipePassword(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
