package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/scuttle/shred"
	"github.com/opd-ai/scuttle/telemetry"
	"github.com/opd-ai/scuttle/token"
)

// Executor is the slice of the destruction engine the aggregator
// needs.
type Executor interface {
	Execute(tok *token.KillToken) (*shred.Receipt, error)
	State() shred.State
}

// Notifier routes user-facing notifications out of the core so the
// aggregator stays testable without a UI. Implementations must not
// block.
type Notifier interface {
	// DeadlineApproaching surfaces a non-triggering warning from a
	// deadline monitor.
	DeadlineApproaching(source Source, remaining time.Duration)
	// ConfirmationRequired surfaces a remote revocation that arrived
	// with auto-execute disabled and is waiting on the user.
	ConfirmationRequired(ev Event, mode token.Mode)
	// DestructionStarting fires just before the engine executes.
	DestructionStarting(ev Event, mode token.Mode)
	// DestructionFinished delivers the final receipt.
	DestructionFinished(receipt *shred.Receipt)
}

// NopNotifier ignores all notifications.
type NopNotifier struct{}

func (NopNotifier) DeadlineApproaching(Source, time.Duration) {}
func (NopNotifier) ConfirmationRequired(Event, token.Mode)    {}
func (NopNotifier) DestructionStarting(Event, token.Mode)     {}
func (NopNotifier) DestructionFinished(*shred.Receipt)        {}

// Policy tells the aggregator how to react to one source's events.
type Policy struct {
	// Mode is the destruction mode minted into self-issued tokens for
	// this source.
	Mode token.Mode
	// ImmediateOnWarning executes even on warning severity.
	ImmediateOnWarning bool
}

// Aggregator de-duplicates trigger events, assigns a destruction mode,
// and hands exactly one kill token per logical threat to the engine.
// It deliberately persists nothing about the triggering event: the act
// of deciding to destroy evidence must not create new forensic
// evidence.
type Aggregator struct {
	engine   Executor
	deviceID string
	policies map[Source]Policy
	notifier Notifier
	sink     telemetry.Sink
	clock    func() time.Time
	log      *logrus.Logger
}

// NewAggregator wires an aggregator. Pass nil notifier, sink, or log
// for no-op defaults.
func NewAggregator(engine Executor, deviceID string, policies map[Source]Policy,
	notifier Notifier, sink telemetry.Sink, log *logrus.Logger) *Aggregator {

	if notifier == nil {
		notifier = NopNotifier{}
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{
		engine:   engine,
		deviceID: deviceID,
		policies: policies,
		notifier: notifier,
		sink:     sink,
		clock:    time.Now,
		log:      log,
	}
}

// Submit consumes one trigger event. Critical events, and warning
// events from a source whose policy designates immediate mode, mint a
// self-issued kill token and execute it. Submissions while a run is
// already in flight (or after completion) are coalesced, not queued.
func (a *Aggregator) Submit(ev Event) error {
	if !a.shouldExecute(ev) {
		a.log.WithFields(logrus.Fields{
			"source":   ev.Source.String(),
			"severity": ev.Severity.String(),
		}).Debug("Trigger event below execution threshold")
		return nil
	}

	mode := a.policies[ev.Source].Mode
	tok := token.SelfIssued(a.deviceID, mode, ev.Source.String(), ev.Reason, a.clock())
	return a.execute(ev, tok)
}

// SubmitToken consumes an event that already carries an authorized
// token, as with a verified remote revocation. The caller is
// responsible for signature verification; the aggregator never
// executes a token it did not mint without that contract.
func (a *Aggregator) SubmitToken(ev Event, tok *token.KillToken) error {
	if tok == nil {
		return nil
	}
	return a.execute(ev, tok)
}

func (a *Aggregator) shouldExecute(ev Event) bool {
	if ev.Severity == SeverityCritical {
		return true
	}
	return ev.Severity == SeverityWarning && a.policies[ev.Source].ImmediateOnWarning
}

func (a *Aggregator) execute(ev Event, tok *token.KillToken) error {
	// The engine's own state flag is the single-flight guard; a
	// submission racing an active run comes back ErrInProgress and is
	// treated as coalesced.
	a.log.WithFields(logrus.Fields{
		"source":     ev.Source.String(),
		"severity":   ev.Severity.String(),
		"command_id": tok.CommandID,
		"mode":       tok.Mode.String(),
	}).Warn("Executing destruction")

	a.notifier.DestructionStarting(ev, tok.Mode)

	receipt, err := a.engine.Execute(tok)
	if errors.Is(err, shred.ErrInProgress) || errors.Is(err, shred.ErrAlreadyCompleted) {
		a.log.WithFields(logrus.Fields{
			"command_id": tok.CommandID,
			"state":      a.engine.State().String(),
		}).Debug("Submission coalesced into active or finished run")
		return nil
	}
	if err != nil {
		return err
	}

	a.notifier.DestructionFinished(receipt)

	// Best-effort remote confirmation; failure never propagates.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.sink.Deliver(ctx, receipt); err != nil {
		a.log.WithFields(logrus.Fields{
			"receipt_id": receipt.ID,
			"error":      err.Error(),
		}).Warn("Receipt delivery failed, continuing")
	}
	return nil
}

// Warn forwards a non-triggering deadline warning to the notifier.
func (a *Aggregator) Warn(source Source, remaining time.Duration) {
	a.notifier.DeadlineApproaching(source, remaining)
}

// RequestConfirmation forwards a revocation that needs user approval
// to the notifier.
func (a *Aggregator) RequestConfirmation(ev Event, mode token.Mode) {
	a.notifier.ConfirmationRequired(ev, mode)
}
