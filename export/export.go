// Package export encodes playlists into compact URL-safe strings, so a
// generated set can be shared as a link and reloaded elsewhere.
package export

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"

	"gopkg.in/yaml.v3"

	"github.com/mixtide/mixtide"
)

// queryKey is the query parameter the playlist travels in.
const queryKey = "pl"

// Encode serializes the playlist into a deflate-compressed, URL-safe
// base64 string.
func Encode(tracks []*mixtide.Track) (string, error) {
	data, err := yaml.Marshal(tracks)
	if err != nil {
		return "", fmt.Errorf("serializing playlist: %w", err)
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("compressing playlist: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("compressing playlist: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode and validates every track.
func Decode(encoded string) ([]*mixtide.Track, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding playlist: %w", err)
	}
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing playlist: %w", err)
	}
	var tracks []*mixtide.Track
	if err := yaml.Unmarshal(data, &tracks); err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}
	for i, track := range tracks {
		if track == nil {
			return nil, fmt.Errorf("track %d is empty", i)
		}
		if err := track.Validate(); err != nil {
			return nil, fmt.Errorf("track %d: %w", i, err)
		}
	}
	return tracks, nil
}

// ShareURL appends the encoded playlist to base as a query parameter.
func ShareURL(base string, tracks []*mixtide.Track) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing share base URL: %w", err)
	}
	encoded, err := Encode(tracks)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(queryKey, encoded)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FromURL extracts and decodes a playlist from a share URL.
func FromURL(share string) ([]*mixtide.Track, error) {
	u, err := url.Parse(share)
	if err != nil {
		return nil, fmt.Errorf("parsing share URL: %w", err)
	}
	encoded := u.Query().Get(queryKey)
	if encoded == "" {
		return nil, fmt.Errorf("share URL carries no playlist")
	}
	return Decode(encoded)
}
