package player

// OptionalIndex is an explicit sum over "no track selected" and "track at
// index N", so every transport entry point can check the selection instead
// of relying on a sentinel value.
type OptionalIndex struct {
	index   int
	present bool
}

func NoIndex() OptionalIndex {
	return OptionalIndex{}
}

func Index(index int) OptionalIndex {
	return OptionalIndex{index: index, present: true}
}

func (o OptionalIndex) Unpack() (int, bool) {
	return o.index, o.present
}

func (o OptionalIndex) Present() bool {
	return o.present
}
