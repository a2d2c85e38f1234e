package mixtide

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseTrack parses a track from its serialized form, trying json first and
// yaml second, so both generator output and hand-written files work.
func ParseTrack(data []byte) (Track, error) {
	var track Track
	if errJSON := json.Unmarshal(data, &track); errJSON != nil {
		if errYaml := yaml.Unmarshal(data, &track); errYaml != nil {
			return Track{}, fmt.Errorf("the track could not be parsed as .json (%v) or .yml (%v)", errJSON, errYaml)
		}
	}
	if err := track.Validate(); err != nil {
		return Track{}, err
	}
	return track, nil
}

// Write serializes the track as yaml.
func (t *Track) Write() ([]byte, error) {
	data, err := yaml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshaling track failed: %w", err)
	}
	return data, nil
}
