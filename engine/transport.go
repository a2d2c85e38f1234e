package engine

import (
	"sync"
	"time"
)

type (
	// transport is the shared playback clock, counting output frames. All
	// event scheduling resolves against it, so everything that shares it
	// stays consistent: position reports, loop windows, note times.
	transport struct {
		mu         sync.Mutex
		sampleRate int

		bpm     float64
		frame   int64
		running bool
		// lastAdvance timestamps the most recent render advance, for
		// extrapolating positions between blocks.
		lastAdvance time.Time

		repeats []*repeatEntry
		nextID  int
	}

	repeatEntry struct {
		id       int
		period   int64 // frames
		next     int64 // frame of the next invocation
		callback func(seconds float64)
	}

	dueCall struct {
		callback func(seconds float64)
		seconds  float64
	}
)

func newTransport(sampleRate int) *transport {
	return &transport{sampleRate: sampleRate, bpm: 120}
}

func (t *transport) BPM() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bpm
}

func (t *transport) SetBPM(bpm float64) {
	if bpm <= 0 {
		return
	}
	t.mu.Lock()
	t.bpm = bpm
	t.mu.Unlock()
}

func (t *transport) Seconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.frame) / float64(t.sampleRate)
}

func (t *transport) SetSeconds(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	t.frame = int64(seconds * float64(t.sampleRate))
	// scheduled callbacks follow the jump instead of catching up
	for _, r := range t.repeats {
		r.next = t.frame + r.period
	}
}

func (t *transport) SecondsAt(at time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	seconds := float64(t.frame) / float64(t.sampleRate)
	if !t.running || t.lastAdvance.IsZero() {
		return seconds
	}
	if ahead := at.Sub(t.lastAdvance).Seconds(); ahead > 0 {
		seconds += ahead
	}
	return seconds
}

func (t *transport) Start() {
	t.mu.Lock()
	t.running = true
	t.lastAdvance = time.Now()
	t.mu.Unlock()
}

func (t *transport) Pause() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

func (t *transport) Stop() {
	t.mu.Lock()
	t.running = false
	t.frame = 0
	for _, r := range t.repeats {
		r.next = r.period
	}
	t.mu.Unlock()
}

func (t *transport) ScheduleRepeat(callback func(seconds float64), period time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	frames := int64(period.Seconds() * float64(t.sampleRate))
	if frames < 1 {
		frames = 1
	}
	t.nextID++
	t.repeats = append(t.repeats, &repeatEntry{
		id:       t.nextID,
		period:   frames,
		next:     t.frame + frames,
		callback: callback,
	})
	return t.nextID
}

func (t *transport) Cancel() {
	t.mu.Lock()
	t.repeats = nil
	t.mu.Unlock()
}

// position returns the frame the next rendered block starts at and whether
// the clock is running.
func (t *transport) position() (frame int64, running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frame, t.running
}

// advance moves the clock past a rendered block and collects the scheduled
// callbacks that came due. A callback that fell far behind (e.g. after an
// output stall) fires once and resynchronizes instead of catching up.
func (t *transport) advance(frames int) []dueCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.frame += int64(frames)
	t.lastAdvance = time.Now()
	seconds := float64(t.frame) / float64(t.sampleRate)
	var calls []dueCall
	for _, r := range t.repeats {
		if r.next <= t.frame {
			calls = append(calls, dueCall{callback: r.callback, seconds: seconds})
			r.next = t.frame + r.period
		}
	}
	return calls
}
