// Package player implements the playback core: the state machine that turns
// a playlist of declarative tracks into scheduled audio engine triggers, and
// the repeat/shuffle policy that decides what plays next.
package player

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mixtide/mixtide"
)

// RepeatMode selects what happens when a track reaches its end.
type RepeatMode int

const (
	RepeatNone RepeatMode = iota
	RepeatAll
	RepeatOne
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	}
	return "none"
}

const (
	// debounceDelay is how long a play attempt waits before constructing
	// voices, so rapid track switches never overlap engine scheduling.
	debounceDelay = 500 * time.Millisecond
	// tickPeriod is the period of the position-report callback.
	tickPeriod = 100 * time.Millisecond
	// loopFadeTime softens the edges of looped samples at chain insertion.
	loopFadeTime = 0.05
)

type (
	// Player owns the playlist, the current selection and all play/pause/
	// seek transitions. Every operation that references the current track
	// is a guarded no-op when nothing is selected; no transport operation
	// returns an error for normal user actions.
	//
	// Voice construction is asynchronous: Play captures a generation token,
	// waits out the debounce delay and abandons silently if a newer play,
	// stop or track change superseded it in the meantime. Stop is the
	// cancellation primitive for everything in flight.
	Player struct {
		mu sync.Mutex

		engine  mixtide.Engine
		catalog mixtide.Catalog
		ui      UINotifier
		session MediaSession

		playlist []*mixtide.Track
		current  OptionalIndex
		playing  bool
		repeat   RepeatMode
		shuffle  bool
		muted    bool

		shuffleQueue   []int
		gainBeforeMute float64

		// generation counts teardowns; an in-flight play attempt whose
		// captured generation no longer matches abandons without side
		// effects.
		generation    uint64
		sessionCancel context.CancelFunc

		chain       *chain
		samples     map[string][]mixtide.SamplePlayer // by group, indexed by sample index, may contain nil holes
		instruments map[string]mixtide.Instrument

		debounce time.Duration
		tick     time.Duration
		rand     *rand.Rand

		// ErrorHandler, when set, receives errors from asynchronous voice
		// construction (asset load failures and the like). Set it before
		// the first Play call.
		ErrorHandler func(error)
	}
)

// New creates a player on top of the given engine and catalog. ui and
// session may be nil; nop implementations are substituted.
func New(engine mixtide.Engine, catalog mixtide.Catalog, ui UINotifier, session MediaSession) *Player {
	if ui == nil {
		ui = NopUINotifier{}
	}
	if session == nil {
		session = NopMediaSession{}
	}
	return &Player{
		engine:   engine,
		catalog:  catalog,
		ui:       ui,
		session:  session,
		debounce: debounceDelay,
		tick:     tickPeriod,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PlayTrack makes the track at index current and plays it from the start.
// This is the only path that changes which track is current: pointer first,
// then notifications, then teardown of the previous session, then play.
func (p *Player) PlayTrack(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playTrack(index)
}

func (p *Player) playTrack(index int) {
	if index < 0 || index >= len(p.playlist) {
		return
	}
	p.current = Index(index)
	p.ui.TrackChanged()
	p.ui.TrackDisplayUpdate(0)
	p.stopSession()
	p.play()
}

// Play (re)starts the current track from scratch, rebuilding all voices.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.current.Present() {
		return
	}
	p.stopSession()
	p.play()
}

func (p *Player) play() {
	index, ok := p.current.Unpack()
	if !ok {
		return
	}
	track := p.playlist[index]
	p.playing = true
	p.applyGain()
	p.ui.PlayingStateChanged()
	// optimistic: metadata goes out before the voices exist
	p.session.SetMetadata(track.Title, track.Artist)
	p.session.SetPlaying(true)

	ctx, cancel := context.WithCancel(context.Background())
	p.sessionCancel = cancel
	go p.buildSession(ctx, p.generation, index, track)
}

// buildSession is the deferred half of play: wait out the debounce, check
// for supersession, construct the session, wait for assets, check again,
// then schedule everything and start the clock.
func (p *Player) buildSession(ctx context.Context, generation uint64, index int, track *mixtide.Track) {
	select {
	case <-time.After(p.debounce):
	case <-ctx.Done():
		return
	}

	p.mu.Lock()
	if !p.sessionValid(generation, index) {
		p.mu.Unlock()
		return
	}
	if err := p.engine.StartRuntime(); err != nil {
		p.stopSession()
		p.mu.Unlock()
		p.reportError(fmt.Errorf("starting audio runtime: %w", err))
		return
	}
	transport := p.engine.Transport()
	transport.SetBPM(track.BPM)
	if err := p.buildVoices(track); err != nil {
		p.stopSession()
		p.mu.Unlock()
		p.reportError(err)
		return
	}
	ready := p.chain.ready()
	p.mu.Unlock()

	// the waits happen unlocked; a newer play or a stop may supersede us
	// here, which the generation re-check below catches
	if err := p.engine.AllLoaded(ctx); err != nil {
		if ctx.Err() == nil {
			p.mu.Lock()
			if p.sessionValid(generation, index) {
				p.stopSession()
			}
			p.mu.Unlock()
			p.reportError(fmt.Errorf("loading assets: %w", err))
		}
		return
	}
	for _, ch := range ready {
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sessionValid(generation, index) {
		return
	}
	p.scheduleEvents(track)
	transport.ScheduleRepeat(p.onTick, p.tick)
	transport.Start()
}

func (p *Player) sessionValid(generation uint64, index int) bool {
	if generation != p.generation || !p.playing {
		return false
	}
	current, ok := p.current.Unpack()
	return ok && current == index
}

// buildVoices rebuilds the voice registries from scratch: one looping
// sample voice per unique sample reference, one instrument voice per
// instrument the track uses, all routed through a fresh shared chain.
func (p *Player) buildVoices(track *mixtide.Track) error {
	c, err := newChain(p.engine)
	if err != nil {
		return fmt.Errorf("building effect chain: %w", err)
	}
	p.chain = c
	p.samples = make(map[string][]mixtide.SamplePlayer)
	p.instruments = make(map[string]mixtide.Instrument)

	for _, ref := range track.SampleRefs() {
		group, ok := p.catalog.SampleGroup(ref.Group)
		if !ok {
			return fmt.Errorf("unknown sample group %q", ref.Group)
		}
		if ref.Index >= len(group.URLs) {
			return fmt.Errorf("sample group %q has no sample %d", ref.Group, ref.Index)
		}
		voice, err := p.engine.NewSamplePlayer(mixtide.SamplePlayerOptions{
			URL:     group.URLs[ref.Index],
			Volume:  group.Volume,
			Loop:    true,
			FadeIn:  loopFadeTime,
			FadeOut: loopFadeTime,
		})
		if err != nil {
			return fmt.Errorf("creating sample voice %s/%d: %w", ref.Group, ref.Index, err)
		}
		prefix, err := p.buildEffects(group.Filters)
		if err != nil {
			voice.Dispose()
			return err
		}
		p.chain.attach(voice, prefix)
		voice.Sync()
		voices := p.samples[ref.Group]
		for len(voices) <= ref.Index {
			voices = append(voices, nil)
		}
		voices[ref.Index] = voice
		p.samples[ref.Group] = voices
	}

	for _, name := range track.Instruments() {
		spec, ok := p.catalog.Instrument(name)
		if !ok {
			return fmt.Errorf("unknown instrument %q", name)
		}
		voice, err := p.engine.NewInstrument(spec)
		if err != nil {
			return fmt.Errorf("creating instrument voice %q: %w", name, err)
		}
		prefix, err := p.buildEffects(spec.Filters)
		if err != nil {
			voice.Dispose()
			return err
		}
		p.chain.attach(voice, prefix)
		voice.Sync()
		p.instruments[name] = voice
	}
	return nil
}

func (p *Player) buildEffects(specs []mixtide.EffectSpec) ([]mixtide.Effect, error) {
	var effects []mixtide.Effect
	for _, spec := range specs {
		effect, err := p.engine.NewEffect(spec)
		if err != nil {
			for _, e := range effects {
				e.Dispose()
			}
			return nil, fmt.Errorf("creating %s effect: %w", spec.Type, err)
		}
		effects = append(effects, effect)
	}
	return effects, nil
}

func (p *Player) scheduleEvents(track *mixtide.Track) {
	for _, loop := range track.Loops {
		voices := p.samples[loop.Group]
		if loop.Index >= len(voices) || voices[loop.Index] == nil {
			continue
		}
		voices[loop.Index].Start(loop.Start)
		voices[loop.Index].Stop(loop.Stop)
	}
	for _, note := range track.Notes {
		voice := p.instruments[note.Instrument]
		if voice == nil {
			continue
		}
		voice.TriggerAttackRelease(note.Pitch, note.Duration, note.Time)
	}
}

// onTick runs on the engine's clock: report the elapsed position and
// auto-advance once it reaches the track length.
func (p *Player) onTick(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	index, ok := p.current.Unpack()
	if !ok || !p.playing {
		return
	}
	track := p.playlist[index]
	p.ui.TrackDisplayUpdate(seconds)
	p.session.SetPosition(track.Length, seconds)
	if seconds >= track.Length {
		p.playNext()
	}
}

// Continue resumes from the current transport position without rebuilding
// voices. Only meaningful when a track is loaded.
func (p *Player) Continue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.current.Present() {
		return
	}
	p.playing = true
	p.applyGain()
	p.engine.Transport().Start()
	p.ui.PlayingStateChanged()
	p.session.SetPlaying(true)
}

// Pause stops the clock and drops the gain; voices stay allocated so
// Continue can resume.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.current.Present() {
		return
	}
	p.playing = false
	p.applyGain()
	p.engine.Transport().Pause()
	p.ui.PlayingStateChanged()
	p.session.SetPlaying(false)
}

// Stop tears down the session but keeps the current selection. Idempotent.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopSession()
}

// stopSession is the cancellation primitive: it supersedes any in-flight
// play attempt, cancels all scheduled transport callbacks, stops the clock
// and disposes every voice. Safe to call with no active session.
func (p *Player) stopSession() {
	p.generation++
	if p.sessionCancel != nil {
		p.sessionCancel()
		p.sessionCancel = nil
	}
	transport := p.engine.Transport()
	transport.Cancel()
	transport.Stop()
	for _, voice := range p.instruments {
		voice.Dispose()
	}
	for _, voices := range p.samples {
		for _, voice := range voices {
			if voice != nil {
				voice.Dispose()
			}
		}
	}
	p.instruments = nil
	p.samples = nil
	if p.chain != nil {
		p.chain.dispose()
		p.chain = nil
	}
	if p.playing {
		p.playing = false
		p.applyGain()
		p.ui.PlayingStateChanged()
		p.session.SetPlaying(false)
	}
}

// Unload stops playback and clears the selection, the display and the
// media session metadata.
func (p *Player) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unload()
}

func (p *Player) unload() {
	p.stopSession()
	p.current = NoIndex()
	p.ui.ClearTrackDisplay()
	p.session.Clear()
}

// Seek jumps to the given transport position. Sustained instrument notes
// are released first so no note hangs across the jump.
func (p *Player) Seek(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seek(seconds)
}

func (p *Player) seek(seconds float64) {
	if !p.current.Present() {
		return
	}
	for _, voice := range p.instruments {
		voice.ReleaseAll()
	}
	p.engine.Transport().SetSeconds(seconds)
	p.ui.TrackDisplayUpdate(seconds)
}

// SeekRelative seeks by delta seconds, clamped at zero. A target beyond the
// track length stops playback first; the position is then left at the
// requested target rather than clamped.
func (p *Player) SeekRelative(delta float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	index, ok := p.current.Unpack()
	if !ok {
		return
	}
	target := p.engine.Transport().Seconds() + delta
	if target < 0 {
		target = 0
	}
	if target > p.playlist[index].Length {
		p.stopSession()
	}
	p.seek(target)
}

// PlayNext advances according to the repeat/shuffle policy. With repeat-one
// it restarts the current track; at the playlist end it wraps under
// repeat-all and unloads otherwise.
func (p *Player) PlayNext() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playNext()
}

func (p *Player) playNext() {
	index, ok := p.current.Unpack()
	if !ok {
		return
	}
	if p.repeat == RepeatOne {
		p.seek(0)
		return
	}
	if p.shuffle {
		if next, ok := p.popShuffleIndex(); ok {
			p.playTrack(next)
			return
		}
	} else if index+1 < len(p.playlist) {
		p.playTrack(index + 1)
		return
	} else if p.repeat == RepeatAll && len(p.playlist) > 0 {
		p.playTrack(0)
		return
	}
	p.unload()
}

// PlayPrevious steps back one track. At index 0 it wraps to the last track
// under repeat-all and otherwise restarts the current track.
func (p *Player) PlayPrevious() {
	p.mu.Lock()
	defer p.mu.Unlock()
	index, ok := p.current.Unpack()
	if !ok {
		return
	}
	if index > 0 {
		p.playTrack(index - 1)
		return
	}
	if p.repeat == RepeatAll {
		p.playTrack(len(p.playlist) - 1)
		return
	}
	p.seek(0)
}

// InsertFilter builds the described effect and splices it into the live
// chain immediately before the master gain stage. Every live voice is
// re-chained atomically; voices created later pick the stage up on attach.
func (p *Player) InsertFilter(spec mixtide.EffectSpec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chain == nil {
		return nil
	}
	effect, err := p.engine.NewEffect(spec)
	if err != nil {
		return fmt.Errorf("creating %s effect: %w", spec.Type, err)
	}
	p.chain.insert(effect)
	return nil
}

// SetMuted toggles mute without touching the play state: the gain the
// master stage would otherwise have is remembered and restored.
func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if muted == p.muted {
		return
	}
	gain := p.engine.MasterGain()
	if muted {
		p.gainBeforeMute = gain.Value()
		p.muted = true
		gain.SetValue(0)
		return
	}
	p.muted = false
	gain.SetValue(p.gainBeforeMute)
}

// applyGain keeps the master gain and the play state in agreement: 1 while
// playing, 0 otherwise. While muted the target is only remembered, so
// unmuting restores the right value.
func (p *Player) applyGain() {
	target := 0.0
	if p.playing {
		target = 1
	}
	if p.muted {
		p.gainBeforeMute = target
		return
	}
	p.engine.MasterGain().SetValue(target)
}

func (p *Player) reportError(err error) {
	p.mu.Lock()
	handler := p.ErrorHandler
	p.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// CurrentIndex reports the current selection; absent when nothing is
// loaded.
func (p *Player) CurrentIndex() OptionalIndex {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// CurrentTrack returns the loaded track, if any.
func (p *Player) CurrentTrack() (*mixtide.Track, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	index, ok := p.current.Unpack()
	if !ok {
		return nil, false
	}
	return p.playlist[index], true
}

// Position reports the current transport position in seconds.
func (p *Player) Position() float64 {
	return p.engine.Transport().Seconds()
}

func (p *Player) Repeat() RepeatMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeat
}

func (p *Player) SetRepeat(mode RepeatMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.repeat = mode
}

func (p *Player) Shuffle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shuffle
}

func (p *Player) SetShuffle(shuffle bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shuffle = shuffle
}
