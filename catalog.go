package mixtide

type (
	// SampleGroup is one named family of loopable samples: where to load
	// each sample from, the default playback volume and the group-specific
	// filters inserted in front of the shared effect chain.
	SampleGroup struct {
		Name    string
		URLs    []string `yaml:",flow"`
		Volume  float64
		Filters []EffectSpec `yaml:",omitempty"`
	}

	// InstrumentSpec describes a named instrument voice: oscillator and
	// envelope parameters for the engine, plus instrument-specific filters.
	// Params follows the same convention as EffectSpec.Params.
	InstrumentSpec struct {
		Name    string
		Params  map[string]float64 `yaml:",flow"`
		Filters []EffectSpec       `yaml:",omitempty"`
	}

	// Catalog resolves sample group names and instrument identifiers to
	// their asset descriptions. Implementations are read-only from the
	// player's point of view.
	Catalog interface {
		SampleGroup(name string) (SampleGroup, bool)
		Instrument(name string) (InstrumentSpec, bool)
	}
)
