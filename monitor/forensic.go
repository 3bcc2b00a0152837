package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/scuttle/trigger"
)

// consecutiveStreakThreshold is how many scan passes in a row a single
// indicator must fire before it alone is treated as critical.
const consecutiveStreakThreshold = 3

// Probe is one independent heuristic forensic check. Check returns
// whether the indicator fired and a short evidence string.
type Probe interface {
	Name() string
	Check(ctx context.Context) (bool, string)
}

// Forensic accumulates an in-memory threat score from independent
// probes. It raises critical once either two distinct indicators fire
// within a single scan pass, or the same indicator fires on three
// consecutive passes. This is explicitly heuristic: false positives
// are an accepted tradeoff against the cost of a missed real
// detection.
type Forensic struct {
	probes []Probe
	log    *logrus.Logger

	mu      sync.Mutex
	streaks map[string]int
}

// NewForensic creates the scanner over the given probes.
func NewForensic(probes []Probe, log *logrus.Logger) *Forensic {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Forensic{
		probes:  probes,
		log:     log,
		streaks: make(map[string]int),
	}
}

// Scan runs one pass over all probes and returns a critical event if
// the threat score crosses the threshold, else nil. A probe that does
// not fire resets its streak.
func (m *Forensic) Scan(ctx context.Context, now time.Time) *trigger.Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fired []string
	var evidence []string

	for _, p := range m.probes {
		ok, ev := p.Check(ctx)
		if !ok {
			m.streaks[p.Name()] = 0
			continue
		}
		m.streaks[p.Name()]++
		fired = append(fired, p.Name())
		if ev != "" {
			evidence = append(evidence, p.Name()+": "+ev)
		}
		m.log.WithFields(logrus.Fields{
			"probe":  p.Name(),
			"streak": m.streaks[p.Name()],
		}).Debug("Forensic indicator fired")
	}

	if len(fired) >= 2 {
		return &trigger.Event{
			Source:     trigger.SourceForensicDetection,
			Severity:   trigger.SeverityCritical,
			Reason:     fmt.Sprintf("%d distinct forensic indicators in one scan: %s", len(fired), strings.Join(fired, ", ")),
			DetectedAt: now,
			Evidence:   evidence,
		}
	}

	var persistent []string
	for name, streak := range m.streaks {
		if streak >= consecutiveStreakThreshold {
			persistent = append(persistent, name)
		}
	}
	if len(persistent) > 0 {
		sort.Strings(persistent)
		return &trigger.Event{
			Source:     trigger.SourceForensicDetection,
			Severity:   trigger.SeverityCritical,
			Reason:     fmt.Sprintf("forensic indicator persisted across %d consecutive scans: %s", consecutiveStreakThreshold, strings.Join(persistent, ", ")),
			DetectedAt: now,
			Evidence:   evidence,
		}
	}

	return nil
}
