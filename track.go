package mixtide

import (
	"errors"
	"fmt"
	"sort"
)

type (
	// Track is the declarative description of one generated piece: which
	// sample loops play when, which instrument notes trigger when, and how
	// fast the whole thing runs. Tracks are produced by a generator or an
	// import step and are read-only to the player; all slices should be
	// treated as immutable once the track is in a playlist.
	Track struct {
		Title  string
		Artist string  `yaml:",omitempty"`
		BPM    float64 // tempo, in beats per minute
		Length float64 // total length of the track, in seconds

		// Samples lists every (group, index) sample reference the track
		// uses. Voices are created once per unique reference, so listing a
		// reference here without a corresponding loop just preloads it.
		Samples []SampleRef `yaml:",omitempty"`

		Loops []SampleLoop     `yaml:",omitempty"`
		Notes []InstrumentNote `yaml:",omitempty"`
	}

	// SampleRef identifies a single sample within a named sample group of
	// the asset catalog.
	SampleRef struct {
		Group string
		Index int
	}

	// SampleLoop plays the referenced sample, looped, from Start to Stop.
	// Both are in seconds on the transport clock, not wall-clock.
	SampleLoop struct {
		Group string
		Index int
		Start float64
		Stop  float64
	}

	// InstrumentNote is a single attack-release trigger of an instrument
	// voice: Pitch in scientific notation (e.g. "C4", "F#3"), Duration and
	// Time in seconds on the transport clock.
	InstrumentNote struct {
		Instrument string
		Pitch      string
		Duration   float64
		Time       float64
	}

	// EffectSpec describes one effect stage and its parameters. The engine
	// resolves Type to a concrete processor; unknown parameters are
	// ignored so specs stay forward-compatible.
	EffectSpec struct {
		Type   string
		Params map[string]float64 `yaml:",flow"`
	}
)

func (t *Track) Copy() Track {
	samples := make([]SampleRef, len(t.Samples))
	copy(samples, t.Samples)
	loops := make([]SampleLoop, len(t.Loops))
	copy(loops, t.Loops)
	notes := make([]InstrumentNote, len(t.Notes))
	copy(notes, t.Notes)
	return Track{
		Title:   t.Title,
		Artist:  t.Artist,
		BPM:     t.BPM,
		Length:  t.Length,
		Samples: samples,
		Loops:   loops,
		Notes:   notes,
	}
}

func (t *Track) Validate() error {
	if t.BPM <= 0 {
		return errors.New("track BPM should be > 0")
	}
	if t.Length <= 0 {
		return errors.New("track length should be > 0")
	}
	for i, l := range t.Loops {
		if l.Group == "" {
			return fmt.Errorf("loop %d has no sample group", i)
		}
		if l.Index < 0 {
			return fmt.Errorf("loop %d has a negative sample index", i)
		}
		if l.Stop <= l.Start {
			return fmt.Errorf("loop %d stops at or before it starts", i)
		}
		if l.Start < 0 {
			return fmt.Errorf("loop %d starts before the track", i)
		}
	}
	for i, n := range t.Notes {
		if n.Instrument == "" {
			return fmt.Errorf("note %d has no instrument", i)
		}
		if n.Time < 0 {
			return fmt.Errorf("note %d triggers before the track", i)
		}
		if n.Duration <= 0 {
			return fmt.Errorf("note %d has a non-positive duration", i)
		}
	}
	return nil
}

// SampleRefs returns every unique (group, index) reference of the track,
// combining the explicit Samples list with the references of the loop
// events. The order is deterministic: group name first, then index.
func (t *Track) SampleRefs() []SampleRef {
	seen := make(map[SampleRef]bool)
	var refs []SampleRef
	add := func(r SampleRef) {
		if !seen[r] {
			seen[r] = true
			refs = append(refs, r)
		}
	}
	for _, r := range t.Samples {
		add(r)
	}
	for _, l := range t.Loops {
		add(SampleRef{Group: l.Group, Index: l.Index})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Group != refs[j].Group {
			return refs[i].Group < refs[j].Group
		}
		return refs[i].Index < refs[j].Index
	})
	return refs
}

// Instruments returns the sorted unique instrument names used by the notes
// of the track.
func (t *Track) Instruments() []string {
	seen := make(map[string]bool)
	var names []string
	for _, n := range t.Notes {
		if !seen[n.Instrument] {
			seen[n.Instrument] = true
			names = append(names, n.Instrument)
		}
	}
	sort.Strings(names)
	return names
}
