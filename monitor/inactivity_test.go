package monitor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/scuttle/config"
	"github.com/opd-ai/scuttle/ledger"
	"github.com/opd-ai/scuttle/token"
	"github.com/opd-ai/scuttle/trigger"
)

func inactivityConfig(threshold, lead time.Duration) config.MonitorConfig {
	return config.MonitorConfig{
		Enabled:         true,
		Threshold:       threshold,
		WarningLeadTime: lead,
		Mode:            token.SelectiveErase,
	}
}

func TestInactivityThresholdBoundaries(t *testing.T) {
	day := 24 * time.Hour
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for _, threshold := range []time.Duration{day, 7 * day, 14 * day} {
		for _, tc := range []struct {
			elapsed time.Duration
			want    bool
		}{
			{threshold - time.Second, false},
			{threshold, true},
			{threshold + time.Second, true},
		} {
			name := fmt.Sprintf("threshold=%v/elapsed=%v", threshold, tc.elapsed)
			t.Run(name, func(t *testing.T) {
				led := ledger.New()
				led.RecordActivity(base)

				m := NewInactivity(inactivityConfig(threshold, 0))
				ev, _ := m.Evaluate(led, base.Add(tc.elapsed))

				if tc.want {
					require.NotNil(t, ev)
					assert.Equal(t, trigger.SourceInactivity, ev.Source)
					assert.Equal(t, trigger.SeverityCritical, ev.Severity)
				} else {
					assert.Nil(t, ev)
				}
			})
		}
	}
}

func TestInactivityWarningWindow(t *testing.T) {
	day := 24 * time.Hour
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	led := ledger.New()
	led.RecordActivity(base)
	m := NewInactivity(inactivityConfig(7*day, day))

	// Before the warning window: nothing.
	ev, warn := m.Evaluate(led, base.Add(5*day))
	assert.Nil(t, ev)
	assert.False(t, warn)

	// Inside the warning window: flag only, no event yet.
	ev, warn = m.Evaluate(led, base.Add(6*day+time.Hour))
	assert.Nil(t, ev)
	assert.True(t, warn)

	// Past the threshold: critical event, warning flag irrelevant.
	ev, _ = m.Evaluate(led, base.Add(7*day))
	require.NotNil(t, ev)
	assert.Equal(t, trigger.SeverityCritical, ev.Severity)
}

func TestInactivityDisabled(t *testing.T) {
	led := ledger.New()
	led.RecordActivity(time.Now().Add(-30 * 24 * time.Hour))

	cfg := inactivityConfig(24*time.Hour, 0)
	cfg.Enabled = false

	ev, warn := NewInactivity(cfg).Evaluate(led, time.Now())
	assert.Nil(t, ev)
	assert.False(t, warn)
}

func TestInactivityNoBaseline(t *testing.T) {
	// A ledger that has never recorded activity cannot trip the
	// monitor.
	ev, warn := NewInactivity(inactivityConfig(24*time.Hour, 0)).Evaluate(ledger.New(), time.Now())
	assert.Nil(t, ev)
	assert.False(t, warn)
}

func TestInactivityEvaluateIsPure(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	led := ledger.New()
	led.RecordActivity(base)

	m := NewInactivity(inactivityConfig(24*time.Hour, 0))
	at := base.Add(48 * time.Hour)

	// Arbitrary cadence, identical result, no ledger mutation.
	for i := 0; i < 5; i++ {
		ev, _ := m.Evaluate(led, at)
		require.NotNil(t, ev)
	}
	assert.True(t, led.LastActivity().Equal(base))
}

func TestInactivityRemaining(t *testing.T) {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	led := ledger.New()
	led.RecordActivity(base)

	m := NewInactivity(inactivityConfig(7*24*time.Hour, 0))
	assert.Equal(t, 24*time.Hour, m.Remaining(led, base.Add(6*24*time.Hour)))
	assert.Negative(t, m.Remaining(led, base.Add(8*24*time.Hour)))
}
