package player

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixtide/mixtide"
)

type (
	fakeEngine struct {
		mu         sync.Mutex
		transport  fakeTransport
		gain       fakeParam
		samples    []*fakeSample
		instrs     []*fakeInstrument
		effects    []*fakeEffect
		runtimeUps int

		// set before use to make the corresponding call fail
		runtimeErr error
		loadErr    error
	}

	fakeTransport struct {
		mu      sync.Mutex
		bpm     float64
		seconds float64
		running bool
		repeats []fakeRepeat
	}

	fakeRepeat struct {
		callback func(seconds float64)
		period   time.Duration
	}

	fakeParam struct {
		mu    sync.Mutex
		value float64
	}

	fakeEffect struct {
		spec     mixtide.EffectSpec
		disposed bool
	}

	fakeSample struct {
		mu       sync.Mutex
		opts     mixtide.SamplePlayerOptions
		chains   [][]mixtide.Effect
		starts   []float64
		stops    []float64
		synced   bool
		disposed bool
	}

	fakeInstrument struct {
		mu       sync.Mutex
		spec     mixtide.InstrumentSpec
		chains   [][]mixtide.Effect
		triggers []string
		releases int
		disposed bool
	}
)

func (e *fakeEngine) StartRuntime() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runtimeErr != nil {
		return e.runtimeErr
	}
	e.runtimeUps++
	return nil
}

func (e *fakeEngine) Transport() mixtide.Transport { return &e.transport }
func (e *fakeEngine) MasterGain() mixtide.Param    { return &e.gain }

func (e *fakeEngine) NewSamplePlayer(opts mixtide.SamplePlayerOptions) (mixtide.SamplePlayer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &fakeSample{opts: opts}
	e.samples = append(e.samples, s)
	return s, nil
}

func (e *fakeEngine) NewInstrument(spec mixtide.InstrumentSpec) (mixtide.Instrument, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in := &fakeInstrument{spec: spec}
	e.instrs = append(e.instrs, in)
	return in, nil
}

func (e *fakeEngine) NewEffect(spec mixtide.EffectSpec) (mixtide.Effect, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fx := &fakeEffect{spec: spec}
	e.effects = append(e.effects, fx)
	return fx, nil
}

func (e *fakeEngine) AllLoaded(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) liveSamples() []*fakeSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	var live []*fakeSample
	for _, s := range e.samples {
		s.mu.Lock()
		if !s.disposed {
			live = append(live, s)
		}
		s.mu.Unlock()
	}
	return live
}

func (t *fakeTransport) BPM() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bpm
}

func (t *fakeTransport) SetBPM(bpm float64) {
	t.mu.Lock()
	t.bpm = bpm
	t.mu.Unlock()
}

func (t *fakeTransport) Seconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seconds
}

func (t *fakeTransport) SetSeconds(seconds float64) {
	t.mu.Lock()
	t.seconds = seconds
	t.mu.Unlock()
}

func (t *fakeTransport) SecondsAt(time.Time) float64 { return t.Seconds() }

func (t *fakeTransport) Start() {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
}

func (t *fakeTransport) Pause() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

func (t *fakeTransport) Stop() {
	t.mu.Lock()
	t.running = false
	t.seconds = 0
	t.mu.Unlock()
}

func (t *fakeTransport) ScheduleRepeat(callback func(seconds float64), period time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.repeats = append(t.repeats, fakeRepeat{callback: callback, period: period})
	return len(t.repeats)
}

func (t *fakeTransport) Cancel() {
	t.mu.Lock()
	t.repeats = nil
	t.mu.Unlock()
}

// tick advances the clock and fires the registered callbacks, the way the
// engine's render loop would.
func (t *fakeTransport) tick(seconds float64) {
	t.mu.Lock()
	t.seconds = seconds
	repeats := append([]fakeRepeat(nil), t.repeats...)
	t.mu.Unlock()
	for _, r := range repeats {
		r.callback(seconds)
	}
}

func (p *fakeParam) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *fakeParam) SetValue(value float64) {
	p.mu.Lock()
	p.value = value
	p.mu.Unlock()
}

func (f *fakeEffect) Dispose() { f.disposed = true }

func (s *fakeSample) SetChain(effects []mixtide.Effect) {
	s.mu.Lock()
	s.chains = append(s.chains, effects)
	s.mu.Unlock()
}

func (s *fakeSample) Sync() {
	s.mu.Lock()
	s.synced = true
	s.mu.Unlock()
}

func (s *fakeSample) Start(seconds float64) {
	s.mu.Lock()
	s.starts = append(s.starts, seconds)
	s.mu.Unlock()
}

func (s *fakeSample) Stop(seconds float64) {
	s.mu.Lock()
	s.stops = append(s.stops, seconds)
	s.mu.Unlock()
}

func (s *fakeSample) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
}

func (in *fakeInstrument) SetChain(effects []mixtide.Effect) {
	in.mu.Lock()
	in.chains = append(in.chains, effects)
	in.mu.Unlock()
}

func (in *fakeInstrument) Sync() {}

func (in *fakeInstrument) TriggerAttackRelease(pitch string, duration, seconds float64) {
	in.mu.Lock()
	in.triggers = append(in.triggers, pitch)
	in.mu.Unlock()
}

func (in *fakeInstrument) ReleaseAll() {
	in.mu.Lock()
	in.releases++
	in.mu.Unlock()
}

func (in *fakeInstrument) Dispose() {
	in.mu.Lock()
	in.disposed = true
	in.mu.Unlock()
}

type fakeCatalog struct{}

func (fakeCatalog) SampleGroup(name string) (mixtide.SampleGroup, bool) {
	return mixtide.SampleGroup{
		Name:   name,
		URLs:   []string{"a.wav", "b.wav", "c.wav"},
		Volume: 0.8,
	}, true
}

func (fakeCatalog) Instrument(name string) (mixtide.InstrumentSpec, bool) {
	return mixtide.InstrumentSpec{Name: name}, true
}

// fakeSession records play-state pushes the way an OS media integration
// would receive them.
type fakeSession struct {
	mu       sync.Mutex
	statuses []bool
	cleared  int
}

func (s *fakeSession) SetMetadata(title, artist string)       {}
func (s *fakeSession) SetPosition(duration, position float64) {}

func (s *fakeSession) SetPlaying(playing bool) {
	s.mu.Lock()
	s.statuses = append(s.statuses, playing)
	s.mu.Unlock()
}

func (s *fakeSession) Clear() {
	s.mu.Lock()
	s.cleared++
	s.mu.Unlock()
}

func (s *fakeSession) lastStatus() (playing, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return false, false
	}
	return s.statuses[len(s.statuses)-1], true
}

func testTrack(title string, length float64) *mixtide.Track {
	return &mixtide.Track{
		Title:  title,
		BPM:    120,
		Length: length,
		Loops: []mixtide.SampleLoop{
			{Group: "drums", Index: 0, Start: 0, Stop: length},
		},
		Notes: []mixtide.InstrumentNote{
			{Instrument: "lead", Pitch: "C4", Duration: 0.5, Time: 1},
		},
	}
}

// newTestPlayer returns a player with the debounce removed and a fixed
// shuffle seed, plus the engine underneath it.
func newTestPlayer(t *testing.T) (*Player, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{}
	p := New(engine, fakeCatalog{}, nil, nil)
	p.debounce = 0
	p.rand = rand.New(rand.NewSource(1))
	return p, engine
}

// settle waits for any in-flight session construction to land.
func settle(t *testing.T, p *Player) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		p.mu.Lock()
		built := p.samples != nil || !p.playing
		p.mu.Unlock()
		if built {
			return
		}
		select {
		case <-deadline:
			t.Fatal("session construction did not finish")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestTransportOpsAreNoOpsWithoutSelection(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Play()
	p.Pause()
	p.Continue()
	p.Seek(10)
	p.SeekRelative(5)
	p.PlayNext()
	p.PlayPrevious()
	p.Stop()
	assert.False(t, p.CurrentIndex().Present())
	assert.False(t, p.Playing())
	assert.Zero(t, engine.runtimeUps)
}

func TestPlayBuildsSessionAndSchedulesEvents(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	settle(t, p)

	require.True(t, p.Playing())
	assert.Equal(t, 1.0, engine.gain.Value())
	assert.Equal(t, 120.0, engine.transport.BPM())
	assert.True(t, engine.transport.running)

	samples := engine.liveSamples()
	require.Len(t, samples, 1)
	assert.Equal(t, []float64{0}, samples[0].starts)
	assert.Equal(t, []float64{10}, samples[0].stops)
	assert.True(t, samples[0].synced)
	assert.True(t, samples[0].opts.Loop)
	assert.Equal(t, 0.8, samples[0].opts.Volume)

	require.Len(t, engine.instrs, 1)
	assert.Equal(t, []string{"C4"}, engine.instrs[0].triggers)
}

func TestStopIsIdempotent(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	settle(t, p)

	p.Stop()
	gen := func() uint64 {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.generation
	}
	first := gen()
	assert.False(t, p.Playing())
	assert.Equal(t, 0.0, engine.gain.Value())
	assert.True(t, p.CurrentIndex().Present())

	p.Stop()
	p.Stop()
	assert.False(t, p.Playing())
	assert.Equal(t, 0.0, engine.gain.Value())
	// further stops are observable only as generation bumps
	assert.Equal(t, first+2, gen())
	for _, s := range engine.samples {
		assert.True(t, s.disposed)
	}
}

func TestGainTracksPlayStateAndMute(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	settle(t, p)
	assert.Equal(t, 1.0, engine.gain.Value())

	p.SetMuted(true)
	assert.Equal(t, 0.0, engine.gain.Value())
	assert.True(t, p.Playing(), "mute must not touch the play state")

	p.Pause()
	assert.Equal(t, 0.0, engine.gain.Value())
	p.Continue()
	assert.Equal(t, 0.0, engine.gain.Value(), "still muted")

	p.SetMuted(false)
	assert.Equal(t, 1.0, engine.gain.Value(), "unmute restores the playing gain")

	p.Pause()
	assert.Equal(t, 0.0, engine.gain.Value())
}

func TestPauseAndContinue(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	settle(t, p)

	p.Pause()
	assert.False(t, p.Playing())
	assert.False(t, engine.transport.running)
	require.NotEmpty(t, engine.liveSamples(), "pause keeps voices allocated")

	p.Continue()
	assert.True(t, p.Playing())
	assert.True(t, engine.transport.running)
}

func TestSeekReleasesSustainedNotes(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	settle(t, p)

	p.Seek(5)
	assert.Equal(t, 5.0, engine.transport.Seconds())
	require.Len(t, engine.instrs, 1)
	assert.Equal(t, 1, engine.instrs[0].releases)
}

func TestSeekRelativePastEndStopsFirst(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	settle(t, p)
	engine.transport.SetSeconds(5)

	p.SeekRelative(100)
	assert.False(t, p.Playing())
	assert.Equal(t, 105.0, engine.transport.Seconds(), "position is the requested target, not clamped")
}

func TestSeekRelativeClampsAtZero(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	settle(t, p)
	engine.transport.SetSeconds(3)

	p.SeekRelative(-100)
	assert.True(t, p.Playing())
	assert.Equal(t, 0.0, engine.transport.Seconds())
}

func TestPlayNextRepeatOneRestartsWithoutAdvancing(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	p.Add(testTrack("B", 8))
	settle(t, p)
	p.SetRepeat(RepeatOne)
	engine.transport.SetSeconds(9)

	p.PlayNext()
	index, ok := p.CurrentIndex().Unpack()
	require.True(t, ok)
	assert.Equal(t, 0, index)
	assert.Equal(t, 0.0, engine.transport.Seconds())
}

func TestPlayNextWrapsWithRepeatAll(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	p.Add(testTrack("B", 8))
	settle(t, p)
	p.SetRepeat(RepeatAll)
	p.PlayTrack(1)
	settle(t, p)

	p.PlayNext()
	index, ok := p.CurrentIndex().Unpack()
	require.True(t, ok)
	assert.Equal(t, 0, index)
}

func TestPlayNextAtEndUnloads(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	p.Add(testTrack("B", 8))
	settle(t, p)
	p.PlayTrack(1)
	settle(t, p)

	p.PlayNext()
	assert.False(t, p.CurrentIndex().Present())
	assert.False(t, p.Playing())
}

func TestPlayPrevious(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	p.Add(testTrack("B", 8))
	settle(t, p)

	// at index 0 without repeat-all: restart, do not change track
	engine.transport.SetSeconds(5)
	p.PlayPrevious()
	index, ok := p.CurrentIndex().Unpack()
	require.True(t, ok)
	assert.Equal(t, 0, index)
	assert.Equal(t, 0.0, engine.transport.Seconds())

	// at index 0 with repeat-all: wrap to the last track
	p.SetRepeat(RepeatAll)
	p.PlayPrevious()
	settle(t, p)
	index, ok = p.CurrentIndex().Unpack()
	require.True(t, ok)
	assert.Equal(t, 1, index)

	// above index 0: step back
	p.PlayPrevious()
	settle(t, p)
	index, ok = p.CurrentIndex().Unpack()
	require.True(t, ok)
	assert.Equal(t, 0, index)
}

func TestAutoAdvanceThroughPlaylist(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	p.Add(testTrack("B", 8))
	settle(t, p)

	engine.transport.tick(10) // A ends
	settle(t, p)
	index, ok := p.CurrentIndex().Unpack()
	require.True(t, ok)
	assert.Equal(t, 1, index)
	assert.True(t, p.Playing())

	engine.transport.tick(8) // B ends, repeat none: unload
	assert.False(t, p.CurrentIndex().Present())
	assert.False(t, p.Playing())
}

func TestRapidTrackSwitchAbandonsSuperseded(t *testing.T) {
	engine := &fakeEngine{}
	p := New(engine, fakeCatalog{}, nil, nil)
	p.debounce = 50 * time.Millisecond
	p.rand = rand.New(rand.NewSource(1))

	p.Add(testTrack("A", 10))
	p.Add(testTrack("B", 8))

	p.PlayTrack(0)
	p.PlayTrack(1) // within the debounce window
	settle(t, p)
	time.Sleep(100 * time.Millisecond) // past the first attempt's debounce

	// only B's session was ever constructed
	live := engine.liveSamples()
	require.Len(t, live, 1)
	index, ok := p.CurrentIndex().Unpack()
	require.True(t, ok)
	assert.Equal(t, 1, index)
}

func TestDeleteAdjustsCurrentIndex(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	p.Add(testTrack("B", 8))
	p.Add(testTrack("C", 6))
	settle(t, p)
	p.PlayTrack(1)
	settle(t, p)

	// delete after current: no adjustment
	p.Delete(2)
	index, ok := p.CurrentIndex().Unpack()
	require.True(t, ok)
	assert.Equal(t, 1, index)
	assert.Equal(t, 2, p.Len())

	// delete before current: current shifts down
	p.Delete(0)
	index, ok = p.CurrentIndex().Unpack()
	require.True(t, ok)
	assert.Equal(t, 0, index)
	track, ok := p.CurrentTrack()
	require.True(t, ok)
	assert.Equal(t, "B", track.Title)

	// delete the current track: unload
	p.Delete(0)
	assert.False(t, p.CurrentIndex().Present())
	assert.Zero(t, p.Len())
}

func TestAddPlaysWhenIdle(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	settle(t, p)
	index, ok := p.CurrentIndex().Unpack()
	require.True(t, ok)
	assert.Equal(t, 0, index)
	assert.True(t, p.Playing())

	// adding while something is loaded must not steal playback
	p.Add(testTrack("B", 8))
	index, _ = p.CurrentIndex().Unpack()
	assert.Equal(t, 0, index)

	// a paused selection is still a selection; Add leaves it alone too
	p.Pause()
	p.Add(testTrack("C", 6))
	index, _ = p.CurrentIndex().Unpack()
	assert.Equal(t, 0, index)
	assert.False(t, p.Playing())
}

func TestShuffleQueueIsPermutation(t *testing.T) {
	p, _ := newTestPlayer(t)
	for i := 0; i < 10; i++ {
		p.playlist = append(p.playlist, testTrack("T", 10))
	}
	p.mu.Lock()
	p.fillShuffleQueue()
	queue := append([]int(nil), p.shuffleQueue...)
	p.mu.Unlock()

	require.Len(t, queue, 10)
	sorted := append([]int(nil), queue...)
	sort.Ints(sorted)
	for i, v := range sorted {
		assert.Equal(t, i, v)
	}
}

func TestShuffleAdvanceConsumesQueue(t *testing.T) {
	p, _ := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	p.Add(testTrack("B", 8))
	p.Add(testTrack("C", 6))
	settle(t, p)
	p.SetShuffle(true)

	seen := map[int]bool{}
	for i := 0; i < 9; i++ {
		p.PlayNext()
		settle(t, p)
		index, ok := p.CurrentIndex().Unpack()
		require.True(t, ok, "shuffle never runs out on a non-empty playlist")
		seen[index] = true
	}
	assert.Len(t, seen, 3, "every index eventually comes up")
}

func TestInsertFilterRechainsLiveVoices(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	settle(t, p)

	samples := engine.liveSamples()
	require.Len(t, samples, 1)
	before := len(samples[0].chains)
	require.Greater(t, before, 0)
	baseLen := len(samples[0].chains[before-1])

	err := p.InsertFilter(mixtide.EffectSpec{Type: "filter", Params: map[string]float64{"frequency": 500, "lowpass": 1}})
	require.NoError(t, err)

	after := samples[0].chains
	require.Len(t, after, before+1)
	latest := after[len(after)-1]
	assert.Len(t, latest, baseLen+1)
	// the inserted stage sits at the end of the list, right before the
	// master gain stage
	inserted := latest[len(latest)-1].(*fakeEffect)
	assert.Equal(t, 500.0, inserted.spec.Params["frequency"])

	require.Len(t, engine.instrs, 1)
	assert.Equal(t, len(after), len(engine.instrs[0].chains), "instrument voices re-chain too")
}

func TestUnloadClearsEverything(t *testing.T) {
	p, engine := newTestPlayer(t)
	p.Add(testTrack("A", 10))
	settle(t, p)

	p.Unload()
	assert.False(t, p.CurrentIndex().Present())
	assert.False(t, p.Playing())
	assert.Equal(t, 0.0, engine.gain.Value())
	assert.Empty(t, engine.liveSamples())
}

// collectErrors installs an ErrorHandler that records every reported error.
func collectErrors(p *Player) func() []error {
	var (
		mu   sync.Mutex
		errs []error
	)
	p.ErrorHandler = func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	return func() []error {
		mu.Lock()
		defer mu.Unlock()
		return append([]error(nil), errs...)
	}
}

func TestRuntimeFailureTearsDownSession(t *testing.T) {
	p, engine := newTestPlayer(t)
	engine.runtimeErr = errors.New("no audio device")
	reported := collectErrors(p)

	p.Add(testTrack("A", 10))
	require.Eventually(t, func() bool { return len(reported()) == 1 },
		2*time.Second, time.Millisecond)

	assert.False(t, p.Playing())
	assert.Equal(t, 0.0, engine.gain.Value())
	assert.True(t, p.CurrentIndex().Present(), "selection survives the failure")
	assert.ErrorContains(t, reported()[0], "no audio device")
}

func TestAssetLoadFailureTearsDownSession(t *testing.T) {
	p, engine := newTestPlayer(t)
	engine.loadErr = errors.New("fetching sample: not found")
	reported := collectErrors(p)

	p.Add(testTrack("A", 10))
	require.Eventually(t, func() bool { return len(reported()) == 1 },
		2*time.Second, time.Millisecond)

	assert.False(t, p.Playing())
	assert.Equal(t, 0.0, engine.gain.Value())
	assert.Empty(t, engine.liveSamples(), "voices built before the failure are disposed")
	assert.True(t, p.CurrentIndex().Present(), "selection survives the failure")
	assert.ErrorContains(t, reported()[0], "loading assets")

	// the selection is intact, so a later play attempt works once the
	// engine recovers
	engine.mu.Lock()
	engine.loadErr = nil
	engine.mu.Unlock()
	p.Play()
	settle(t, p)
	assert.True(t, p.Playing())
}

func TestMediaSessionTracksPlayState(t *testing.T) {
	engine := &fakeEngine{}
	session := &fakeSession{}
	p := New(engine, fakeCatalog{}, nil, session)
	p.debounce = 0
	p.rand = rand.New(rand.NewSource(1))

	p.Add(testTrack("A", 10))
	settle(t, p)
	playing, ok := session.lastStatus()
	require.True(t, ok)
	assert.True(t, playing)

	p.Pause()
	playing, _ = session.lastStatus()
	assert.False(t, playing)

	p.Continue()
	playing, _ = session.lastStatus()
	assert.True(t, playing)

	p.Stop()
	playing, _ = session.lastStatus()
	assert.False(t, playing)

	p.Unload()
	assert.Equal(t, 1, session.cleared)
}
