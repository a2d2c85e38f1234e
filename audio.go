package mixtide

import (
	"context"
	"time"
)

type (
	// Engine is the audio backend the player drives. It owns the output
	// device, the transport clock and the master gain stage, and it builds
	// the voices and effects the player wires together. There is exactly
	// one Engine per process; it is injected into the player at
	// construction and never torn down mid-process.
	Engine interface {
		// StartRuntime brings up the underlying audio output. Idempotent;
		// playback scheduling before StartRuntime is undefined behavior.
		StartRuntime() error
		Transport() Transport
		MasterGain() Param
		NewSamplePlayer(opts SamplePlayerOptions) (SamplePlayer, error)
		NewInstrument(spec InstrumentSpec) (Instrument, error)
		NewEffect(spec EffectSpec) (Effect, error)
		// AllLoaded blocks until every asset requested so far has finished
		// loading, or returns the first load error. Triggering a voice
		// whose asset has not loaded is undefined behavior.
		AllLoaded(ctx context.Context) error
		Close() error
	}

	// Transport is the shared playback clock. All voice event times resolve
	// against it, so position reporting and event triggering can never
	// drift apart.
	Transport interface {
		BPM() float64
		SetBPM(bpm float64)
		Seconds() float64
		SetSeconds(seconds float64)
		// SecondsAt extrapolates the transport position at the given
		// wall-clock instant, for consumers that report positions
		// out-of-band (e.g. the media session).
		SecondsAt(at time.Time) float64
		Start()
		Pause()
		// Stop halts the clock and resets the position to zero.
		Stop()
		// ScheduleRepeat registers a callback invoked with the current
		// transport position roughly every period while the clock runs.
		// Callbacks may call back into the transport.
		ScheduleRepeat(callback func(seconds float64), period time.Duration) int
		// Cancel drops every scheduled callback.
		Cancel()
	}

	// Param is a single controllable numeric value, e.g. the master gain.
	Param interface {
		Value() float64
		SetValue(value float64)
	}

	// Effect is an opaque handle to one processing stage. Effects are
	// created through the engine and shared freely between voices; the
	// engine sums the inputs of a shared stage.
	Effect interface {
		Dispose()
	}

	// AsyncEffect is implemented by effects that prepare state in the
	// background after creation (e.g. reverb impulse generation). Ready is
	// closed once the effect is fully usable.
	AsyncEffect interface {
		Effect
		Ready() <-chan struct{}
	}

	// Voice is the part common to sample players and instruments. SetChain
	// replaces the ordered effect list the voice routes through before the
	// master gain; Sync locks the voice's event times to the transport
	// clock; Dispose silences and frees the voice.
	Voice interface {
		SetChain(effects []Effect)
		Sync()
		Dispose()
	}

	// SamplePlayer plays one (possibly looped) sample. Start and Stop take
	// transport seconds.
	SamplePlayer interface {
		Voice
		Start(seconds float64)
		Stop(seconds float64)
	}

	// Instrument is a polyphonic synth voice triggered per note.
	Instrument interface {
		Voice
		TriggerAttackRelease(pitch string, duration, seconds float64)
		ReleaseAll()
	}

	// SamplePlayerOptions configures a sample voice at creation. Volume is
	// a linear gain; FadeIn/FadeOut are in seconds and soften the loop
	// edges at chain insertion.
	SamplePlayerOptions struct {
		URL     string
		Volume  float64
		Loop    bool
		FadeIn  float64
		FadeOut float64
	}
)
