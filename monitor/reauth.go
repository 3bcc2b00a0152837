package monitor

import (
	"fmt"
	"time"

	"github.com/opd-ai/scuttle/config"
	"github.com/opd-ai/scuttle/ledger"
	"github.com/opd-ai/scuttle/trigger"
)

// Reauth requires an explicit, successful credential entry within the
// configured interval. Generic activity never satisfies it: a user can
// use the device continuously and still trip this monitor, which is
// the feature's entire point.
type Reauth struct {
	cfg config.MonitorConfig
}

// NewReauth creates the monitor.
func NewReauth(cfg config.MonitorConfig) *Reauth {
	return &Reauth{cfg: cfg}
}

// Evaluate mirrors the inactivity monitor but is keyed solely on the
// ledger's last-reauthentication timestamp, which only
// ledger.RecordReauth moves.
func (m *Reauth) Evaluate(led *ledger.ActivityLedger, now time.Time) (*trigger.Event, bool) {
	if !m.cfg.Enabled {
		return nil, false
	}

	last := led.LastReauth()
	if last.IsZero() {
		return nil, false
	}

	elapsed := now.Sub(last)
	if elapsed >= m.cfg.Threshold {
		return &trigger.Event{
			Source:     trigger.SourceReauthOverdue,
			Severity:   trigger.SeverityCritical,
			Reason:     fmt.Sprintf("mandatory reauthentication overdue by %v", elapsed-m.cfg.Threshold),
			DetectedAt: now,
			Evidence:   []string{"last_reauth=" + last.UTC().Format(time.RFC3339)},
		}, false
	}

	if m.cfg.WarningLeadTime > 0 && elapsed >= m.cfg.Threshold-m.cfg.WarningLeadTime {
		return nil, true
	}
	return nil, false
}

// Remaining reports how long until reauthentication becomes overdue.
func (m *Reauth) Remaining(led *ledger.ActivityLedger, now time.Time) time.Duration {
	last := led.LastReauth()
	if last.IsZero() {
		return m.cfg.Threshold
	}
	return m.cfg.Threshold - now.Sub(last)
}
