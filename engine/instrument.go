package engine

import (
	"math"
	"sync"

	"github.com/mixtide/mixtide"
)

// Oscillator waveform values for the "wave" instrument parameter.
const (
	waveSine = iota
	waveTriangle
	waveSaw
	waveSquare
)

type (
	// instrument is a polyphonic synth voice: an oscillator with an ADSR
	// envelope per active note. Note times are in transport frames, so a
	// synced instrument stays locked to the clock across seeks.
	instrument struct {
		mu sync.Mutex

		engine *Engine
		wave   int
		// envelope parameters, times in seconds
		attack, decay, sustain, release float64
		gain                            float64

		chain    []mixtide.Effect
		notes    []*activeNote
		synced   bool
		finished bool
	}

	activeNote struct {
		freq     float64
		start    int64 // trigger frame
		release  int64 // frame the release phase begins at
		phase    float64
		released bool // forced release via ReleaseAll
	}
)

func (e *Engine) NewInstrument(spec mixtide.InstrumentSpec) (mixtide.Instrument, error) {
	in := &instrument{
		engine:  e,
		wave:    int(param(spec.Params, "wave", waveSine)),
		attack:  param(spec.Params, "attack", 0.01),
		decay:   param(spec.Params, "decay", 0.1),
		sustain: param(spec.Params, "sustain", 0.7),
		release: param(spec.Params, "release", 0.3),
		gain:    param(spec.Params, "gain", 0.5),
	}
	e.addVoice(in)
	return in, nil
}

func param(params map[string]float64, name string, fallback float64) float64 {
	if v, ok := params[name]; ok {
		return v
	}
	return fallback
}

func (in *instrument) SetChain(effects []mixtide.Effect) {
	in.mu.Lock()
	in.chain = effects
	in.mu.Unlock()
	in.engine.markDirty()
}

func (in *instrument) Sync() {
	in.mu.Lock()
	in.synced = true
	in.mu.Unlock()
}

func (in *instrument) TriggerAttackRelease(pitch string, duration, seconds float64) {
	freq, err := noteFreq(pitch)
	if err != nil {
		in.engine.log.Warn("skipping unplayable note", "pitch", pitch, "error", err)
		return
	}
	rate := float64(in.engine.sampleRate)
	start := int64(seconds * rate)
	in.mu.Lock()
	in.notes = append(in.notes, &activeNote{
		freq:    freq,
		start:   start,
		release: start + int64(duration*rate),
	})
	in.mu.Unlock()
}

// ReleaseAll forces every sustained note into its release phase, so no
// note hangs across a seek.
func (in *instrument) ReleaseAll() {
	frame, _ := in.engine.transport.position()
	in.mu.Lock()
	for _, n := range in.notes {
		if n.release > frame {
			n.release = frame
			n.released = true
		}
	}
	in.mu.Unlock()
}

func (in *instrument) Dispose() {
	in.mu.Lock()
	in.finished = true
	in.notes = nil
	in.mu.Unlock()
	in.engine.removeVoice(in)
}

func (in *instrument) sink() []mixtide.Effect {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.chain
}

func (in *instrument) live() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return !in.finished
}

func (in *instrument) render(out []float32, startFrame int64, frames int, running bool) {
	if !running {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.synced {
		return
	}
	rate := float64(in.engine.sampleRate)
	releaseFrames := int64(in.release * rate)
	kept := in.notes[:0]
	for _, n := range in.notes {
		if n.release+releaseFrames < startFrame {
			continue // fully decayed before this block
		}
		kept = append(kept, n)
		if n.start >= startFrame+int64(frames) {
			continue // not started yet
		}
		step := n.freq / rate
		for i := 0; i < frames; i++ {
			f := startFrame + int64(i)
			if f < n.start || f > n.release+releaseFrames {
				continue
			}
			env := in.envelope(f, n)
			if env <= 0 {
				continue
			}
			v := float32(in.oscillate(n.phase) * env * in.gain)
			n.phase += step
			if n.phase >= 1 {
				n.phase -= 1
			}
			out[i*2] += v
			out[i*2+1] += v
		}
	}
	in.notes = kept
}

// envelope evaluates the ADSR envelope of a note at frame f.
func (in *instrument) envelope(f int64, n *activeNote) float64 {
	rate := float64(in.engine.sampleRate)
	held := float64(f-n.start) / rate
	if f >= n.release {
		past := float64(f-n.release) / rate
		if in.release <= 0 {
			return 0
		}
		return in.levelAtRelease(n) * (1 - past/in.release)
	}
	switch {
	case held < in.attack:
		if in.attack <= 0 {
			return 1
		}
		return held / in.attack
	case held < in.attack+in.decay:
		if in.decay <= 0 {
			return in.sustain
		}
		return 1 - (1-in.sustain)*(held-in.attack)/in.decay
	default:
		return in.sustain
	}
}

// levelAtRelease is the envelope level the release ramp starts from.
func (in *instrument) levelAtRelease(n *activeNote) float64 {
	rate := float64(in.engine.sampleRate)
	held := float64(n.release-n.start) / rate
	switch {
	case held < in.attack:
		if in.attack <= 0 {
			return 1
		}
		return held / in.attack
	case held < in.attack+in.decay:
		if in.decay <= 0 {
			return in.sustain
		}
		return 1 - (1-in.sustain)*(held-in.attack)/in.decay
	default:
		return in.sustain
	}
}

func (in *instrument) oscillate(phase float64) float64 {
	switch in.wave {
	case waveTriangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	case waveSaw:
		return 2*phase - 1
	case waveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}
