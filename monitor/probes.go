package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultProbes returns the built-in probe set with default tuning.
// The battery sampler may be nil when the platform exposes none, which
// disables the charger probe.
func DefaultProbes(sampler BatterySampler) []Probe {
	probes := []Probe{
		NewDebuggerProbe(),
		NewProcessNameProbe(nil),
		NewAllocLatencyProbe(),
	}
	if sampler != nil {
		probes = append(probes, NewChargerAnomalyProbe(sampler, time.Now))
	}
	return probes
}

// DebuggerProbe fires when the process is being traced.
type DebuggerProbe struct{}

// NewDebuggerProbe creates the probe.
func NewDebuggerProbe() *DebuggerProbe { return &DebuggerProbe{} }

// Name implements Probe.
func (*DebuggerProbe) Name() string { return "debugger_attached" }

// Check inspects the process status for an attached tracer. On
// platforms without procfs the probe never fires.
func (*DebuggerProbe) Check(_ context.Context) (bool, string) {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return false, ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "TracerPid:") {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "TracerPid:")))
		if err == nil && pid != 0 {
			return true, fmt.Sprintf("tracer pid %d", pid)
		}
		return false, ""
	}
	return false, ""
}

// defaultForensicSignatures are lowercase substrings of known
// forensic-tool process names.
var defaultForensicSignatures = []string{
	"cellebrite",
	"ufed",
	"graykey",
	"magnet_acquire",
	"axiom",
	"oxygen_forensic",
	"frida-server",
}

// ProcessNameProbe fires when a running process matches the
// forensic-tool signature list.
type ProcessNameProbe struct {
	signatures []string
}

// NewProcessNameProbe creates the probe; nil signatures selects the
// built-in list.
func NewProcessNameProbe(signatures []string) *ProcessNameProbe {
	if signatures == nil {
		signatures = defaultForensicSignatures
	}
	return &ProcessNameProbe{signatures: signatures}
}

// Name implements Probe.
func (*ProcessNameProbe) Name() string { return "forensic_process" }

// Check scans process names via procfs. Unreadable entries are
// skipped.
func (p *ProcessNameProbe) Check(_ context.Context) (bool, string) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false, ""
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", e.Name(), "comm"))
		if err != nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(string(comm)))
		for _, sig := range p.signatures {
			if strings.Contains(name, sig) {
				return true, "process " + name
			}
		}
	}
	return false, ""
}

// BatterySampler reports the platform's charging state. Supplied by
// the mobile host layer.
type BatterySampler interface {
	// Sample returns whether the charger reports active and the
	// current charge level in [0, 1].
	Sample() (charging bool, level float64, err error)
}

// chargerStaticWindow is how long the charge level may stay static
// while charging before the probe fires. A powered forensic rig often
// reports an active charger with a frozen battery level.
const chargerStaticWindow = 30 * time.Second

// ChargerAnomalyProbe fires when the charger reports active but the
// charge level has been static beyond the window.
type ChargerAnomalyProbe struct {
	sampler BatterySampler
	now     func() time.Time

	mu         sync.Mutex
	lastLevel  float64
	lastChange time.Time
	haveSample bool
}

// NewChargerAnomalyProbe creates the probe with an injectable clock.
func NewChargerAnomalyProbe(sampler BatterySampler, now func() time.Time) *ChargerAnomalyProbe {
	if now == nil {
		now = time.Now
	}
	return &ChargerAnomalyProbe{sampler: sampler, now: now}
}

// Name implements Probe.
func (*ChargerAnomalyProbe) Name() string { return "charger_anomaly" }

// Check implements Probe.
func (p *ChargerAnomalyProbe) Check(_ context.Context) (bool, string) {
	charging, level, err := p.sampler.Sample()
	if err != nil {
		return false, ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.haveSample || level != p.lastLevel || !charging {
		p.lastLevel = level
		p.lastChange = now
		p.haveSample = true
		return false, ""
	}

	static := now.Sub(p.lastChange)
	if static > chargerStaticWindow {
		return true, fmt.Sprintf("charging active but level static for %v", static.Truncate(time.Second))
	}
	return false, ""
}

// AllocLatencyProbe measures small-allocation latency against a
// baseline captured at construction. Memory imaging tools tend to
// inflate allocation latency while they freeze and copy pages.
type AllocLatencyProbe struct {
	baseline time.Duration
}

// allocProbeRounds is the number of sample allocations per
// measurement.
const allocProbeRounds = 64

// NewAllocLatencyProbe captures the baseline immediately.
func NewAllocLatencyProbe() *AllocLatencyProbe {
	return &AllocLatencyProbe{baseline: measureAllocLatency()}
}

// Name implements Probe.
func (*AllocLatencyProbe) Name() string { return "alloc_latency" }

// Check fires when current latency exceeds ten times the baseline.
func (p *AllocLatencyProbe) Check(_ context.Context) (bool, string) {
	if p.baseline <= 0 {
		return false, ""
	}
	current := measureAllocLatency()
	if current > 10*p.baseline {
		return true, fmt.Sprintf("allocation latency %v exceeds baseline %v", current, p.baseline)
	}
	return false, ""
}

func measureAllocLatency() time.Duration {
	start := time.Now()
	for i := 0; i < allocProbeRounds; i++ {
		buf := make([]byte, 64*1024)
		buf[0] = byte(i)
		buf[len(buf)-1] = byte(i)
	}
	return time.Since(start)
}
