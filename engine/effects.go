package engine

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/mixtide/mixtide"
)

// NewEffect builds one effect stage from its description. Unknown types
// are an error; unknown parameters are ignored.
func (e *Engine) NewEffect(spec mixtide.EffectSpec) (mixtide.Effect, error) {
	switch spec.Type {
	case "compressor":
		return newCompressor(e, spec.Params), nil
	case "filter":
		return newFilter(e, spec.Params), nil
	case "reverb":
		return newReverb(e, spec.Params), nil
	case "distortion":
		return newDistortion(e, spec.Params), nil
	}
	return nil, fmt.Errorf("unknown effect type %q", spec.Type)
}

// node is the shared part of every effect stage: the input bus voices and
// upstream stages sum into, guarded by the engine lock during rendering.
type node struct {
	engine *Engine
	mu     sync.Mutex
	buf    []float32
	gone   bool
}

func (n *node) input(frames int) []float32 {
	if len(n.buf) < frames*2 {
		n.buf = append(n.buf, make([]float32, frames*2-len(n.buf))...)
	}
	return n.buf[:frames*2]
}

func (n *node) Dispose() {
	n.mu.Lock()
	n.gone = true
	n.mu.Unlock()
	n.engine.markDirty()
}

func (n *node) disposed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gone
}

// compressor is a feed-forward dynamics compressor: an envelope follower
// over the stereo peak drives gain reduction above the threshold.
type compressor struct {
	node
	threshold float64 // dB
	ratio     float64
	attack    float64 // seconds
	release   float64
	envelope  float64
}

func newCompressor(e *Engine, params map[string]float64) *compressor {
	return &compressor{
		node:      node{engine: e},
		threshold: param(params, "threshold", -24),
		ratio:     math.Max(1, param(params, "ratio", 12)),
		attack:    param(params, "attack", 0.003),
		release:   param(params, "release", 0.25),
	}
}

func (c *compressor) process(frames int) {
	rate := float64(c.engine.sampleRate)
	attackCoef := math.Exp(-1 / (c.attack*rate + 1))
	releaseCoef := math.Exp(-1 / (c.release*rate + 1))
	buf := c.buf[:frames*2]
	for i := 0; i < frames; i++ {
		peak := math.Max(math.Abs(float64(buf[i*2])), math.Abs(float64(buf[i*2+1])))
		if peak > c.envelope {
			c.envelope = attackCoef*c.envelope + (1-attackCoef)*peak
		} else {
			c.envelope = releaseCoef*c.envelope + (1-releaseCoef)*peak
		}
		gain := 1.0
		if level := 20 * math.Log10(c.envelope+1e-9); level > c.threshold {
			over := level - c.threshold
			gain = math.Pow(10, -over*(1-1/c.ratio)/20)
		}
		buf[i*2] *= float32(gain)
		buf[i*2+1] *= float32(gain)
	}
}

// filter is a one-pole low- or high-pass, one state per channel. The
// lowpass/highpass parameters follow the 0/1 flag convention of the
// effect parameter maps.
type filter struct {
	node
	coef     float64
	highpass bool
	state    [2]float64
}

func newFilter(e *Engine, params map[string]float64) *filter {
	freq := param(params, "frequency", 1000)
	if freq < 1 {
		freq = 1
	}
	coef := 1 - math.Exp(-2*math.Pi*freq/float64(e.sampleRate))
	if coef > 1 {
		coef = 1
	}
	return &filter{
		node:     node{engine: e},
		coef:     coef,
		highpass: param(params, "highpass", 0) != 0,
	}
}

func (f *filter) process(frames int) {
	buf := f.buf[:frames*2]
	for i := 0; i < frames; i++ {
		for ch := 0; ch < 2; ch++ {
			x := float64(buf[i*2+ch])
			f.state[ch] += f.coef * (x - f.state[ch])
			if f.highpass {
				buf[i*2+ch] = float32(x - f.state[ch])
			} else {
				buf[i*2+ch] = float32(f.state[ch])
			}
		}
	}
}

// reverbCombs and reverbAllpasses are the classic Schroeder delay tunings
// at 44.1 kHz, in frames; scaled for other rates.
var (
	reverbCombs     = [4]int{1557, 1617, 1491, 1422}
	reverbAllpasses = [2]int{225, 556}
)

// reverb is a Schroeder reverberator: four parallel feedback combs into
// two series allpasses. The delay lines and their modulation noise are
// prepared in the background after creation; Ready is closed once the
// effect is fully usable, and it passes audio dry until then.
type reverb struct {
	node
	wet      float64
	feedback float64

	setup struct {
		sync.Mutex
		combs   [4]delayLine
		allpass [2]delayLine
		done    bool
	}
	ready chan struct{}
}

type delayLine struct {
	buf []float64
	pos int
}

func newReverb(e *Engine, params map[string]float64) *reverb {
	decay := param(params, "decay", 2.5)
	if decay < 0.1 {
		decay = 0.1
	}
	r := &reverb{
		node:  node{engine: e},
		wet:   param(params, "wet", 0.25),
		ready: make(chan struct{}),
	}
	// comb feedback chosen so the tail decays ~60 dB over the decay time
	r.feedback = math.Pow(10, -3*float64(reverbCombs[0])/(decay*float64(e.sampleRate)))
	go r.generate(e.sampleRate)
	return r
}

// generate prepares the delay network. Seeding the lines with very quiet
// noise diffuses the early reflections the same way an impulse response
// would.
func (r *reverb) generate(sampleRate int) {
	rnd := rand.New(rand.NewSource(int64(sampleRate)))
	scale := float64(sampleRate) / 44100
	r.setup.Lock()
	for i, frames := range reverbCombs {
		n := int(float64(frames) * scale)
		buf := make([]float64, n*2)
		for j := range buf {
			buf[j] = (rnd.Float64() - 0.5) * 1e-6
		}
		r.setup.combs[i] = delayLine{buf: buf}
	}
	for i, frames := range reverbAllpasses {
		n := int(float64(frames) * scale)
		r.setup.allpass[i] = delayLine{buf: make([]float64, n*2)}
	}
	r.setup.done = true
	r.setup.Unlock()
	close(r.ready)
}

func (r *reverb) Ready() <-chan struct{} { return r.ready }

func (r *reverb) process(frames int) {
	r.setup.Lock()
	defer r.setup.Unlock()
	if !r.setup.done {
		return // pass dry until the network is prepared
	}
	buf := r.buf[:frames*2]
	for i := 0; i < frames*2; i++ {
		dry := float64(buf[i])
		wet := 0.0
		for c := range r.setup.combs {
			line := &r.setup.combs[c]
			out := line.buf[line.pos]
			line.buf[line.pos] = dry + out*r.feedback
			line.pos = (line.pos + 1) % len(line.buf)
			wet += out
		}
		wet *= 0.25
		for a := range r.setup.allpass {
			line := &r.setup.allpass[a]
			delayed := line.buf[line.pos]
			line.buf[line.pos] = wet + delayed*0.5
			line.pos = (line.pos + 1) % len(line.buf)
			wet = delayed - wet*0.5
		}
		buf[i] = float32(dry*(1-r.wet) + wet*r.wet)
	}
}

// distortion is a tanh waveshaper with a dry/wet mix.
type distortion struct {
	node
	drive float64
	wet   float64
}

func newDistortion(e *Engine, params map[string]float64) *distortion {
	drive := param(params, "drive", 0.2)
	if drive < 0 {
		drive = 0
	}
	return &distortion{
		node:  node{engine: e},
		drive: 1 + drive*24,
		wet:   param(params, "wet", 0.5),
	}
}

func (d *distortion) process(frames int) {
	buf := d.buf[:frames*2]
	norm := math.Tanh(d.drive)
	for i := range buf {
		dry := float64(buf[i])
		shaped := math.Tanh(dry*d.drive) / norm
		buf[i] = float32(dry*(1-d.wet) + shaped*d.wet)
	}
}
