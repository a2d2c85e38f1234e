// Package engine is the audio backend: an oto-based output device, a
// sample-accurate transport clock, sample and instrument voices and the
// effect processors they chain through. It implements the capability
// interfaces of the root package.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/viterin/vek/vek32"

	"github.com/mixtide/mixtide"
)

const (
	defaultSampleRate = 44100
	// maxBlockFrames caps how many frames are rendered per graph pass, so
	// scheduled callbacks keep a useful resolution even with large output
	// reads.
	maxBlockFrames = 1024
)

type (
	Options struct {
		SampleRate int
		Logger     *slog.Logger
	}

	// Engine renders all live voices through their effect chains into the
	// master gain stage and feeds the result to the output device. The
	// output device pulls from Read; scheduled transport callbacks are
	// invoked from the render goroutine with no engine lock held, so they
	// may freely call back into the engine.
	Engine struct {
		mu sync.Mutex

		sampleRate int
		log        *slog.Logger

		transport *transport
		gain      *gainParam
		loader    *loader

		voices map[renderVoice]struct{}

		// cached evaluation order of the effect graph; nil when dirty
		order []processor
		succ  map[processor]processor

		master  []float32
		scratch []float32

		otoCtx    *oto.Context
		otoPlayer *oto.Player
		started   bool
	}

	// renderVoice is what the engine needs from a voice: fill a block with
	// its output and tell where the output goes.
	renderVoice interface {
		render(out []float32, startFrame int64, frames int, running bool)
		sink() []mixtide.Effect
		live() bool
	}

	// processor is the engine-internal face of an effect: an input bus
	// accumulated per block and an in-place transform over it.
	processor interface {
		mixtide.Effect
		input(frames int) []float32
		process(frames int)
		disposed() bool
	}
)

func New(opts Options) *Engine {
	rate := opts.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		sampleRate: rate,
		log:        log,
		transport:  newTransport(rate),
		gain:       &gainParam{},
		voices:     make(map[renderVoice]struct{}),
	}
	e.loader = newLoader(rate, log)
	return e
}

// SampleRate reports the engine's output rate in frames per second.
func (e *Engine) SampleRate() int { return e.sampleRate }

// OnLoadProgress registers a callback receiving (loaded, total) asset
// counts. Set it before voices are created.
func (e *Engine) OnLoadProgress(callback func(loaded, total int)) {
	e.loader.onProgress = callback
}

// StartRuntime brings up the output device and starts pulling audio.
// Idempotent; the runtime stays up for the rest of the process.
func (e *Engine) StartRuntime() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   e.sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	e.otoCtx = ctx
	e.otoPlayer = ctx.NewPlayer(e)
	e.otoPlayer.Play()
	e.started = true
	e.log.Info("audio runtime started", "sampleRate", e.sampleRate)
	return nil
}

func (e *Engine) Transport() mixtide.Transport { return e.transport }

func (e *Engine) MasterGain() mixtide.Param { return e.gain }

func (e *Engine) AllLoaded(ctx context.Context) error {
	return e.loader.allLoaded(ctx)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.otoPlayer != nil {
		if err := e.otoPlayer.Close(); err != nil {
			return fmt.Errorf("cannot close oto player: %w", err)
		}
		e.otoPlayer = nil
	}
	e.started = false
	return nil
}

func (e *Engine) addVoice(v renderVoice) {
	e.mu.Lock()
	e.voices[v] = struct{}{}
	e.order = nil
	e.mu.Unlock()
}

func (e *Engine) removeVoice(v renderVoice) {
	e.mu.Lock()
	delete(e.voices, v)
	e.order = nil
	e.mu.Unlock()
}

// markDirty invalidates the cached graph order after a chain change.
func (e *Engine) markDirty() {
	e.mu.Lock()
	e.order = nil
	e.mu.Unlock()
}

// Read renders audio for the output device: 16-bit signed little-endian
// stereo frames. Never returns an error; an idle engine produces silence.
func (e *Engine) Read(p []byte) (int, error) {
	const bytesPerFrame = 4
	total := len(p) / bytesPerFrame
	done := 0
	for done < total {
		frames := total - done
		if frames > maxBlockFrames {
			frames = maxBlockFrames
		}
		e.renderBlock(p[done*bytesPerFrame:], frames)
		done += frames
	}
	return done * bytesPerFrame, nil
}

func (e *Engine) renderBlock(dst []byte, frames int) {
	e.mu.Lock()
	e.ensureBuffers(frames)
	startFrame, running := e.transport.position()
	if e.order == nil {
		e.rebuildGraph()
	}
	clear(e.master[:frames*2])
	for _, p := range e.order {
		clear(p.input(frames))
	}
	for v := range e.voices {
		if !v.live() {
			continue
		}
		clear(e.scratch[:frames*2])
		v.render(e.scratch[:frames*2], startFrame, frames, running)
		vek32.Add_Inplace(e.busFor(v.sink(), frames), e.scratch[:frames*2])
	}
	for _, p := range e.order {
		p.process(frames)
		out := p.input(frames)
		if next := e.succ[p]; next != nil {
			vek32.Add_Inplace(next.input(frames), out)
		} else {
			vek32.Add_Inplace(e.master[:frames*2], out)
		}
	}
	if gain := e.gain.Value(); gain != 1 {
		vek32.MulNumber_Inplace(e.master[:frames*2], float32(gain))
	}
	floatBufferTo16BitLE(e.master[:frames*2], dst)
	e.mu.Unlock()

	// callbacks run with no engine lock held; they may call back into the
	// transport (Cancel from inside a tick is legal)
	for _, call := range e.transport.advance(frames) {
		call.callback(call.seconds)
	}
}

// busFor resolves the input bus a voice renders into: the first live stage
// of its chain, or the master bus.
func (e *Engine) busFor(chain []mixtide.Effect, frames int) []float32 {
	for _, effect := range chain {
		if p, ok := effect.(processor); ok && !p.disposed() {
			return p.input(frames)
		}
	}
	return e.master[:frames*2]
}

// rebuildGraph recomputes the successor map and a topological evaluation
// order over every effect stage reachable from a live voice. Each stage has
// a single successor, so the graph is a forest draining into the master
// bus; Kahn's algorithm over the stage-to-stage edges orders it.
func (e *Engine) rebuildGraph() {
	e.succ = make(map[processor]processor)
	indegree := make(map[processor]int)
	for v := range e.voices {
		if !v.live() {
			continue
		}
		var prev processor
		for _, effect := range v.sink() {
			p, ok := effect.(processor)
			if !ok || p.disposed() {
				continue
			}
			if _, seen := indegree[p]; !seen {
				indegree[p] = 0
			}
			if prev != nil && e.succ[prev] != p {
				if e.succ[prev] == nil {
					e.succ[prev] = p
					indegree[p]++
				}
			}
			prev = p
		}
	}
	e.order = make([]processor, 0, len(indegree))
	queue := make([]processor, 0, len(indegree))
	for p, d := range indegree {
		if d == 0 {
			queue = append(queue, p)
		}
	}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		e.order = append(e.order, p)
		if next := e.succ[p]; next != nil {
			if indegree[next]--; indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
}

func (e *Engine) ensureBuffers(frames int) {
	if len(e.master) < frames*2 {
		e.master = make([]float32, frames*2)
		e.scratch = make([]float32, frames*2)
	}
}

// gainParam is the master gain value. It defaults to zero: nothing is
// audible until the player declares itself playing.
type gainParam struct {
	mu    sync.Mutex
	value float64
}

func (g *gainParam) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func (g *gainParam) SetValue(value float64) {
	g.mu.Lock()
	g.value = value
	g.mu.Unlock()
}
