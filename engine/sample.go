package engine

import (
	"sync"

	"github.com/mixtide/mixtide"
)

type (
	// samplePlayer plays one decoded sample inside scheduled transport
	// windows, looping it and fading the window edges. A voice whose asset
	// has not finished loading renders silence, but the player guarantees
	// via AllLoaded that this never happens for scheduled events.
	samplePlayer struct {
		mu sync.Mutex

		engine *Engine
		asset  *asset
		opts   mixtide.SamplePlayerOptions

		chain    []mixtide.Effect
		windows  []sampleWindow
		synced   bool
		finished bool
	}

	// sampleWindow is one scheduled start/stop span in transport frames;
	// stop stays -1 until the matching Stop call arrives.
	sampleWindow struct {
		start int64
		stop  int64
	}
)

func (e *Engine) NewSamplePlayer(opts mixtide.SamplePlayerOptions) (mixtide.SamplePlayer, error) {
	if opts.Volume <= 0 {
		opts.Volume = 1
	}
	s := &samplePlayer{
		engine: e,
		asset:  e.loader.load(opts.URL),
		opts:   opts,
	}
	e.addVoice(s)
	return s, nil
}

func (s *samplePlayer) SetChain(effects []mixtide.Effect) {
	s.mu.Lock()
	s.chain = effects
	s.mu.Unlock()
	s.engine.markDirty()
}

func (s *samplePlayer) Sync() {
	s.mu.Lock()
	s.synced = true
	s.mu.Unlock()
}

func (s *samplePlayer) Start(seconds float64) {
	s.mu.Lock()
	s.windows = append(s.windows, sampleWindow{
		start: int64(seconds * float64(s.engine.sampleRate)),
		stop:  -1,
	})
	s.mu.Unlock()
}

func (s *samplePlayer) Stop(seconds float64) {
	frame := int64(seconds * float64(s.engine.sampleRate))
	s.mu.Lock()
	for i := len(s.windows) - 1; i >= 0; i-- {
		if s.windows[i].stop < 0 {
			s.windows[i].stop = frame
			break
		}
	}
	s.mu.Unlock()
}

func (s *samplePlayer) Dispose() {
	s.mu.Lock()
	s.finished = true
	s.windows = nil
	s.mu.Unlock()
	s.engine.removeVoice(s)
}

func (s *samplePlayer) sink() []mixtide.Effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain
}

func (s *samplePlayer) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.finished
}

func (s *samplePlayer) render(out []float32, startFrame int64, frames int, running bool) {
	if !running {
		return
	}
	s.mu.Lock()
	windows := s.windows
	synced := s.synced
	s.mu.Unlock()
	if !synced {
		return
	}
	data := s.asset.data()
	if len(data) < 2 {
		return
	}
	dataFrames := int64(len(data) / 2)
	fadeIn := s.opts.FadeIn * float64(s.engine.sampleRate)
	fadeOut := s.opts.FadeOut * float64(s.engine.sampleRate)
	volume := float32(s.opts.Volume)

	for _, w := range windows {
		stop := w.stop
		if stop < 0 {
			stop = startFrame + int64(frames) // still open
		}
		from := max64(w.start, startFrame)
		to := min64(stop, startFrame+int64(frames))
		for f := from; f < to; f++ {
			rel := f - w.start
			idx := rel
			if s.opts.Loop {
				idx = rel % dataFrames
			} else if rel >= dataFrames {
				break
			}
			gain := volume
			if fadeIn > 0 && float64(rel) < fadeIn {
				gain *= float32(float64(rel) / fadeIn)
			}
			if w.stop >= 0 && fadeOut > 0 {
				if left := float64(w.stop - f); left < fadeOut {
					gain *= float32(left / fadeOut)
				}
			}
			i := int(f-startFrame) * 2
			out[i] += data[idx*2] * gain
			out[i+1] += data[idx*2+1] * gain
		}
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
