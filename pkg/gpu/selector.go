package gpu

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/herdctl/herd/pkg/log"
)

// Sampling parameters: a 3 second window at 10 Hz.
const (
	SampleCount    = 30
	SampleInterval = 100 * time.Millisecond
)

// Selector picks devices for a task by averaging scores over a short
// sampling window. The averaged score stabilizes selection under
// transient utilization spikes.
//
// With memory_save_mode on, score = utilization_pct * memory_free and
// ties go to the device with less free memory, consolidating work onto
// partially used devices. With it off, score = utilization_pct *
// memory_used and ties go to less used memory, spreading work off hot
// devices.
type Selector struct {
	probe          Probe
	memorySaveMode bool

	sampleCount    int
	sampleInterval time.Duration
	sleep          func(time.Duration)

	logger zerolog.Logger
}

// NewSelector creates a selector over probe with the given policy.
func NewSelector(probe Probe, memorySaveMode bool) *Selector {
	return &Selector{
		probe:          probe,
		memorySaveMode: memorySaveMode,
		sampleCount:    SampleCount,
		sampleInterval: SampleInterval,
		sleep:          time.Sleep,
		logger:         log.WithComponent("selector"),
	}
}

// WithSampling overrides the default 3 second sampling window.
func (s *Selector) WithSampling(count int, interval time.Duration) *Selector {
	s.sampleCount = count
	s.sampleInterval = interval
	return s
}

type deviceScore struct {
	id       int
	score    float64
	tieBreak float64
	samples  int
}

// Pick selects one device from candidates with at least requiredGB of
// free memory. It returns false when no candidate qualifies.
func (s *Selector) Pick(candidates []int, requiredGB float64) (int, bool) {
	eligible := s.filterByMemory(candidates, requiredGB)

	switch len(eligible) {
	case 0:
		return 0, false
	case 1:
		return eligible[0], true
	}

	scores := s.sample(eligible)
	best, ok := bestDevice(scores)
	if !ok {
		return 0, false
	}

	s.logger.Debug().Int("device", best).Int("candidates", len(eligible)).
		Bool("memory_save_mode", s.memorySaveMode).Msg("device selected")
	return best, true
}

// PickN selects count distinct devices by running single selection count
// times, removing each winner. It returns false if fewer than count
// candidates qualify at any round.
func (s *Selector) PickN(candidates []int, count int, requiredGB float64) ([]int, bool) {
	remaining := append([]int(nil), candidates...)

	var chosen []int
	for len(chosen) < count {
		if len(remaining) < count-len(chosen) {
			return nil, false
		}
		id, ok := s.Pick(remaining, requiredGB)
		if !ok {
			return nil, false
		}
		chosen = append(chosen, id)
		remaining = remove(remaining, id)
	}
	return chosen, true
}

// filterByMemory keeps candidates whose instantaneous free memory meets
// the requirement. Devices that fail to probe are skipped.
func (s *Selector) filterByMemory(candidates []int, requiredGB float64) []int {
	var eligible []int
	for _, id := range candidates {
		snap, err := s.probe.Device(id)
		if err != nil {
			s.logger.Debug().Err(err).Int("device", id).Msg("probe failed, skipping device")
			continue
		}
		if snap.MemoryFreeGB >= requiredGB {
			eligible = append(eligible, id)
		}
	}
	return eligible
}

// sample accumulates per-device scores across the sampling window.
func (s *Selector) sample(ids []int) []deviceScore {
	scores := make([]deviceScore, len(ids))
	for i, id := range ids {
		scores[i].id = id
	}

	for n := 0; n < s.sampleCount; n++ {
		for i := range scores {
			snap, err := s.probe.Device(scores[i].id)
			if err != nil {
				continue
			}
			score, tieBreak := s.score(snap)
			scores[i].score += score
			scores[i].tieBreak += tieBreak
			scores[i].samples++
		}
		if n < s.sampleCount-1 {
			s.sleep(s.sampleInterval)
		}
	}

	for i := range scores {
		if scores[i].samples > 0 {
			scores[i].score /= float64(scores[i].samples)
			scores[i].tieBreak /= float64(scores[i].samples)
		}
	}
	return scores
}

func (s *Selector) score(snap DeviceSnapshot) (score, tieBreak float64) {
	if s.memorySaveMode {
		return snap.UtilizationPct * snap.MemoryFreeGB, snap.MemoryFreeGB
	}
	return snap.UtilizationPct * snap.MemoryUsedGB, snap.MemoryUsedGB
}

// bestDevice returns the device with the smallest average score, ties
// broken by smaller tie-break value then smaller id. Devices with no
// successful samples are excluded.
func bestDevice(scores []deviceScore) (int, bool) {
	best := -1
	for i := range scores {
		if scores[i].samples == 0 {
			continue
		}
		if best < 0 || less(scores[i], scores[best]) {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return scores[best].id, true
}

func less(a, b deviceScore) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	if a.tieBreak != b.tieBreak {
		return a.tieBreak < b.tieBreak
	}
	return a.id < b.id
}

func remove(ids []int, id int) []int {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
