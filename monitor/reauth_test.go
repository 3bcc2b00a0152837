package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/scuttle/config"
	"github.com/opd-ai/scuttle/ledger"
	"github.com/opd-ai/scuttle/token"
	"github.com/opd-ai/scuttle/trigger"
)

func reauthConfig(threshold, lead time.Duration) config.MonitorConfig {
	return config.MonitorConfig{
		Enabled:         true,
		Threshold:       threshold,
		WarningLeadTime: lead,
		Mode:            token.SelectiveErase,
	}
}

func TestReauthOverdue(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	led := ledger.New()
	led.RecordReauth(base)

	m := NewReauth(reauthConfig(72*time.Hour, 0))

	ev, _ := m.Evaluate(led, base.Add(72*time.Hour-time.Second))
	assert.Nil(t, ev)

	ev, _ = m.Evaluate(led, base.Add(72*time.Hour))
	require.NotNil(t, ev)
	assert.Equal(t, trigger.SourceReauthOverdue, ev.Source)
	assert.Equal(t, trigger.SeverityCritical, ev.Severity)
}

func TestReauthNotSatisfiedByActivity(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	led := ledger.New()
	led.RecordReauth(base)

	// The user keeps "using" the device constantly; the reauth clock
	// must not care.
	for h := 1; h <= 96; h++ {
		led.RecordActivity(base.Add(time.Duration(h) * time.Hour))
	}

	m := NewReauth(reauthConfig(72*time.Hour, 0))
	ev, _ := m.Evaluate(led, base.Add(96*time.Hour))
	require.NotNil(t, ev, "constant activity must not postpone mandatory reauthentication")
}

func TestReauthSatisfiedByReauth(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	led := ledger.New()
	led.RecordReauth(base)
	led.RecordReauth(base.Add(48 * time.Hour))

	m := NewReauth(reauthConfig(72*time.Hour, 0))
	ev, _ := m.Evaluate(led, base.Add(96*time.Hour))
	assert.Nil(t, ev, "a fresh credential entry resets the deadline")
}

func TestReauthWarningWindow(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	led := ledger.New()
	led.RecordReauth(base)

	m := NewReauth(reauthConfig(72*time.Hour, 12*time.Hour))

	ev, warn := m.Evaluate(led, base.Add(61*time.Hour))
	assert.Nil(t, ev)
	assert.True(t, warn)
}

func TestReauthNoBaseline(t *testing.T) {
	ev, warn := NewReauth(reauthConfig(72*time.Hour, 0)).Evaluate(ledger.New(), time.Now())
	assert.Nil(t, ev)
	assert.False(t, warn)
}
