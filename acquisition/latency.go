package acquisition

import (
	"errors"
	"sort"
)

var (
	// ErrNoSamples is generated when a log has nothing to analyse
	ErrNoSamples = errors.New("no samples")

	// ErrNoTransition is generated when the light level never rises above the dark level
	ErrNoTransition = errors.New("no dark to light transition in samples")
)

// FrameMean is the mean pulse count of the windows tagged with one frame
type FrameMean struct {
	Frame   uint32  `json:"frame"`
	Mean    float64 `json:"mean"`
	Samples int     `json:"samples"`
}

// MeanRates groups a log by frame and averages each group.  The result is
// ordered by frame; the log itself may be in any order.
func MeanRates(samples []Sample) []FrameMean {
	type acc struct {
		sum float64
		n   int
	}
	groups := make(map[uint32]*acc)
	for _, s := range samples {
		g, ok := groups[s.Frame]
		if !ok {
			g = &acc{}
			groups[s.Frame] = g
		}
		g.sum += float64(s.Reading.Count)
		g.n++
	}
	out := make([]FrameMean, 0, len(groups))
	for f, g := range groups {
		out = append(out, FrameMean{Frame: f, Mean: g.sum / float64(g.n), Samples: g.n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })
	return out
}

// Latency is the delay between a display change and the matching change in
// photon rate
type Latency struct {
	Mark Mark `json:"mark"`

	// Dark is the mean rate before the mark
	Dark float64 `json:"dark"`

	// Light is the mean rate over the final quarter of the frames after the mark
	Light float64 `json:"light"`

	// Frame is the first frame at or after the mark whose rate crossed midway
	Frame uint32 `json:"frame"`

	// Lag is Frame - Mark.Frame
	Lag int `json:"lag"`
}

// EstimateLatency finds how many frames after the mark the photon rate
// reached halfway between its dark and light levels.
func EstimateLatency(samples []Sample, mark Mark) (Latency, error) {
	means := MeanRates(samples)
	if len(means) == 0 {
		return Latency{}, ErrNoSamples
	}
	split := len(means)
	for i, m := range means {
		if m.Frame >= mark.Frame {
			split = i
			break
		}
	}
	before, after := means[:split], means[split:]
	if len(before) == 0 || len(after) == 0 {
		return Latency{}, ErrNoTransition
	}

	l := Latency{Mark: mark}
	for _, m := range before {
		l.Dark += m.Mean
	}
	l.Dark /= float64(len(before))

	tail := after[len(after)-max(len(after)/4, 1):]
	for _, m := range tail {
		l.Light += m.Mean
	}
	l.Light /= float64(len(tail))
	if l.Light <= l.Dark {
		return l, ErrNoTransition
	}

	mid := (l.Dark + l.Light) / 2
	for _, m := range after {
		if m.Mean >= mid {
			l.Frame = m.Frame
			l.Lag = int(m.Frame) - int(mark.Frame)
			return l, nil
		}
	}
	return l, ErrNoTransition
}
