package player

import "github.com/mixtide/mixtide"

// defaultChainSpecs is the fixed processing applied to every voice before
// the master gain stage: dynamics compression, low/high-pass filtering,
// reverb and nonlinear saturation, in that order.
var defaultChainSpecs = []mixtide.EffectSpec{
	{Type: "compressor", Params: map[string]float64{"threshold": -24, "ratio": 12, "attack": 0.003, "release": 0.25}},
	{Type: "filter", Params: map[string]float64{"frequency": 18000, "lowpass": 1}},
	{Type: "filter", Params: map[string]float64{"frequency": 30, "highpass": 1}},
	{Type: "reverb", Params: map[string]float64{"decay": 2.5, "wet": 0.25}},
	{Type: "distortion", Params: map[string]float64{"drive": 0.2, "wet": 0.4}},
}

type (
	// chain is the shared effect chain of one playback session: an ordered
	// list of engine effect stages ending at the master gain, plus the set
	// of live voices routed through it. New stages are spliced at the end
	// of the list, immediately before the gain stage, and every live voice
	// is re-chained so no voice ever observes a half-updated list. All
	// methods are called with the player lock held.
	chain struct {
		effects []mixtide.Effect
		voices  map[mixtide.Voice][]mixtide.Effect // live voice -> its private prefix stages
	}
)

func newChain(engine mixtide.Engine) (*chain, error) {
	c := &chain{voices: make(map[mixtide.Voice][]mixtide.Effect)}
	for _, spec := range defaultChainSpecs {
		effect, err := engine.NewEffect(spec)
		if err != nil {
			c.dispose()
			return nil, err
		}
		c.effects = append(c.effects, effect)
	}
	return c, nil
}

// attach routes a voice through its private prefix stages (e.g. the sample
// group's filters) and then the shared chain. The prefix is owned by the
// chain from here on and disposed with it.
func (c *chain) attach(voice mixtide.Voice, prefix []mixtide.Effect) {
	c.voices[voice] = prefix
	voice.SetChain(c.chainFor(prefix))
}

func (c *chain) detach(voice mixtide.Voice) {
	for _, effect := range c.voices[voice] {
		effect.Dispose()
	}
	delete(c.voices, voice)
}

// insert splices an effect in front of the master gain stage and re-chains
// every live voice through the updated list. Voices created afterwards pick
// the new stage up via attach.
func (c *chain) insert(effect mixtide.Effect) {
	c.effects = append(c.effects, effect)
	for voice, prefix := range c.voices {
		voice.SetChain(c.chainFor(prefix))
	}
}

func (c *chain) chainFor(prefix []mixtide.Effect) []mixtide.Effect {
	full := make([]mixtide.Effect, 0, len(prefix)+len(c.effects))
	full = append(full, prefix...)
	full = append(full, c.effects...)
	return full
}

// ready returns the readiness channels of every stage that prepares state
// asynchronously. The caller waits on them outside the player lock.
func (c *chain) ready() []<-chan struct{} {
	var chans []<-chan struct{}
	for _, effect := range c.effects {
		if async, ok := effect.(mixtide.AsyncEffect); ok {
			chans = append(chans, async.Ready())
		}
	}
	return chans
}

func (c *chain) dispose() {
	for voice, prefix := range c.voices {
		for _, effect := range prefix {
			effect.Dispose()
		}
		delete(c.voices, voice)
	}
	for _, effect := range c.effects {
		effect.Dispose()
	}
	c.effects = nil
}
