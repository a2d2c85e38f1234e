package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

type (
	// asset is one decoded sample buffer, loaded asynchronously. samples
	// is interleaved stereo float32 at the engine rate; it stays nil until
	// the load finishes.
	asset struct {
		mu      sync.Mutex
		samples []float32
		err     error
	}

	// loader fetches and decodes sample assets in the background and
	// answers the bulk "is everything loaded" question. Assets are cached
	// by URL, so repeated references load once.
	loader struct {
		mu         sync.Mutex
		sampleRate int
		log        *slog.Logger
		assets     map[string]*asset
		pending    int
		idle       chan struct{} // closed whenever pending is zero
		total      int
		loaded     int
		firstErr   error

		onProgress func(loaded, total int)
	}
)

func newLoader(sampleRate int, log *slog.Logger) *loader {
	idle := make(chan struct{})
	close(idle)
	return &loader{
		sampleRate: sampleRate,
		log:        log,
		assets:     make(map[string]*asset),
		idle:       idle,
	}
}

// load returns the asset for url, starting its background fetch on first
// use.
func (l *loader) load(url string) *asset {
	l.mu.Lock()
	if a, ok := l.assets[url]; ok {
		l.mu.Unlock()
		return a
	}
	a := &asset{}
	l.assets[url] = a
	l.total++
	if l.pending == 0 {
		l.idle = make(chan struct{})
	}
	l.pending++
	progress := l.onProgress
	loaded, total := l.loaded, l.total
	l.mu.Unlock()

	if progress != nil {
		progress(loaded, total)
	}
	go l.fetch(url, a)
	return a
}

func (l *loader) fetch(url string, a *asset) {
	samples, err := decodeAsset(url, l.sampleRate)
	a.mu.Lock()
	a.samples = samples
	a.err = err
	a.mu.Unlock()
	if err != nil {
		l.log.Error("loading sample failed", "url", url, "error", err)
	}

	l.mu.Lock()
	l.loaded++
	if err != nil && l.firstErr == nil {
		l.firstErr = fmt.Errorf("loading %s: %w", url, err)
	}
	l.pending--
	if l.pending == 0 {
		close(l.idle)
	}
	progress := l.onProgress
	loaded, total := l.loaded, l.total
	l.mu.Unlock()

	if progress != nil {
		progress(loaded, total)
	}
}

// allLoaded blocks until every asset requested so far finished loading and
// returns the first load error, if any.
func (l *loader) allLoaded(ctx context.Context) error {
	for {
		l.mu.Lock()
		idle := l.idle
		pending := l.pending
		err := l.firstErr
		l.mu.Unlock()
		if pending == 0 {
			return err
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *asset) data() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.samples
}

// decodeAsset reads the sample behind a file path or http(s) URL and
// returns it as interleaved stereo float32 resampled to the engine rate.
func decodeAsset(url string, sampleRate int) ([]float32, error) {
	rc, err := openAsset(url)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var (
		streamer beep.StreamCloser
		format   beep.Format
	)
	switch strings.ToLower(path.Ext(stripQuery(url))) {
	case ".mp3":
		streamer, format, err = mp3.Decode(rc)
	case ".ogg", ".oga":
		streamer, format, err = vorbis.Decode(rc)
	default:
		streamer, format, err = wav.Decode(rc)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding failed: %w", err)
	}
	defer streamer.Close()

	var source beep.Streamer = streamer
	if int(format.SampleRate) != sampleRate {
		source = beep.Resample(4, format.SampleRate, beep.SampleRate(sampleRate), streamer)
	}

	var out []float32
	block := make([][2]float64, 512)
	for {
		n, ok := source.Stream(block)
		for _, frame := range block[:n] {
			out = append(out, float32(frame[0]), float32(frame[1]))
		}
		if !ok {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sample is empty")
	}
	return out, nil
}

func openAsset(url string) (io.ReadCloser, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		resp, err := http.Get(url)
		if err != nil {
			return nil, fmt.Errorf("fetching failed: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetching failed: %s", resp.Status)
		}
		return resp.Body, nil
	}
	f, err := os.Open(url)
	if err != nil {
		return nil, fmt.Errorf("opening failed: %w", err)
	}
	return f, nil
}

func stripQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
