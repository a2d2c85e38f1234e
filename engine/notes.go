package engine

import (
	"fmt"
	"math"
)

var noteSemitones = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

// noteFreq converts scientific pitch notation ("C4", "F#3", "Eb2") to a
// frequency in Hz, with A4 = 440.
func noteFreq(pitch string) (float64, error) {
	if len(pitch) < 2 {
		return 0, fmt.Errorf("invalid pitch %q", pitch)
	}
	semitone, ok := noteSemitones[pitch[0]]
	if !ok {
		return 0, fmt.Errorf("invalid pitch %q", pitch)
	}
	rest := pitch[1:]
	switch rest[0] {
	case '#':
		semitone++
		rest = rest[1:]
	case 'b':
		semitone--
		rest = rest[1:]
	}
	octave := 0
	negative := false
	if len(rest) > 0 && rest[0] == '-' {
		negative = true
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return 0, fmt.Errorf("invalid pitch %q", pitch)
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid pitch %q", pitch)
		}
		octave = octave*10 + int(c-'0')
	}
	if negative {
		octave = -octave
	}
	midi := semitone + (octave+1)*12
	return 440 * math.Pow(2, float64(midi-69)/12), nil
}
