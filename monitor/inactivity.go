// Package monitor implements the four trigger sources: the inactivity
// and mandatory-reauthentication dead-man monitors, the remote
// revocation poller, and the heuristic tamper/forensic scanner. Each
// source evaluates independently and submits events to the trigger
// aggregator; a failure to evaluate is never itself cause for wiping.
package monitor

import (
	"fmt"
	"time"

	"github.com/opd-ai/scuttle/config"
	"github.com/opd-ai/scuttle/ledger"
	"github.com/opd-ai/scuttle/trigger"
)

// Inactivity raises a critical trigger when no qualifying activity has
// been recorded within the configured window.
type Inactivity struct {
	cfg config.MonitorConfig
}

// NewInactivity creates the monitor. The config is copied and never
// mutated.
func NewInactivity(cfg config.MonitorConfig) *Inactivity {
	return &Inactivity{cfg: cfg}
}

// Evaluate is a pure function over the ledger and the current time,
// safe to call at arbitrary cadence. It returns a critical event once
// the threshold has elapsed, or a true warning flag while inside the
// warning lead window. A ledger with no recorded activity yields
// nothing; the clock starts at the first recorded activity.
func (m *Inactivity) Evaluate(led *ledger.ActivityLedger, now time.Time) (*trigger.Event, bool) {
	if !m.cfg.Enabled {
		return nil, false
	}

	last := led.LastActivity()
	if last.IsZero() {
		return nil, false
	}

	elapsed := now.Sub(last)
	if elapsed >= m.cfg.Threshold {
		return &trigger.Event{
			Source:     trigger.SourceInactivity,
			Severity:   trigger.SeverityCritical,
			Reason:     fmt.Sprintf("no qualifying activity for %v (threshold %v)", elapsed, m.cfg.Threshold),
			DetectedAt: now,
			Evidence:   []string{"last_activity=" + last.UTC().Format(time.RFC3339)},
		}, false
	}

	if m.cfg.WarningLeadTime > 0 && elapsed >= m.cfg.Threshold-m.cfg.WarningLeadTime {
		return nil, true
	}
	return nil, false
}

// Remaining reports how long until the threshold expires. Negative
// once overdue.
func (m *Inactivity) Remaining(led *ledger.ActivityLedger, now time.Time) time.Duration {
	last := led.LastActivity()
	if last.IsZero() {
		return m.cfg.Threshold
	}
	return m.cfg.Threshold - now.Sub(last)
}
