package acquisition

import (
	"errors"
	"testing"

	"github.com/monocle-imaging/monocle/pulsecounter"
)

func tagged(frames ...[2]uint32) []Sample {
	var out []Sample
	for _, fc := range frames {
		out = append(out, Sample{Frame: fc[0], Reading: pulsecounter.Reading{Count: fc[1]}})
	}
	return out
}

func TestMeanRates(t *testing.T) {
	m := MeanRates(tagged([2]uint32{0, 2}, [2]uint32{0, 4}, [2]uint32{2, 9}))
	if len(m) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(m))
	}
	if m[0].Frame != 0 || m[0].Mean != 3 || m[0].Samples != 2 {
		t.Errorf("frame 0: %+v", m[0])
	}
	if m[1].Frame != 2 || m[1].Mean != 9 {
		t.Errorf("frame 2: %+v", m[1])
	}
	if len(MeanRates(nil)) != 0 {
		t.Error("empty log should have no frames")
	}
}

func TestMeanRatesUnordered(t *testing.T) {
	m := MeanRates(tagged([2]uint32{1, 10}, [2]uint32{2, 5}, [2]uint32{1, 2}, [2]uint32{0, 7}))
	if len(m) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(m))
	}
	for i, want := range []FrameMean{{Frame: 0, Mean: 7, Samples: 1}, {Frame: 1, Mean: 6, Samples: 2}, {Frame: 2, Mean: 5, Samples: 1}} {
		if m[i] != want {
			t.Errorf("index %d: expected %+v, got %+v", i, want, m[i])
		}
	}
}

func TestEstimateLatency(t *testing.T) {
	var samples []Sample
	for f := uint32(0); f < 20; f++ {
		count := uint32(10)
		if f >= 7 {
			count = 110
		}
		samples = append(samples, tagged([2]uint32{f, count}, [2]uint32{f, count})...)
	}
	l, err := EstimateLatency(samples, Mark{Frame: 5})
	if err != nil {
		t.Fatal(err)
	}
	if l.Dark != 10 || l.Light != 110 {
		t.Errorf("expected levels 10 and 110, got %f and %f", l.Dark, l.Light)
	}
	if l.Frame != 7 || l.Lag != 2 {
		t.Errorf("expected the rise at frame 7, lag 2, got frame %d lag %d", l.Frame, l.Lag)
	}
}

func TestEstimateLatencyFlat(t *testing.T) {
	samples := tagged([2]uint32{0, 5}, [2]uint32{1, 5}, [2]uint32{2, 5})
	if _, err := EstimateLatency(samples, Mark{Frame: 1}); !errors.Is(err, ErrNoTransition) {
		t.Errorf("expected ErrNoTransition, got %v", err)
	}
	if _, err := EstimateLatency(nil, Mark{}); !errors.Is(err, ErrNoSamples) {
		t.Errorf("expected ErrNoSamples, got %v", err)
	}
}
