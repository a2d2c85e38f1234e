package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/schollz/progressbar/v3"

	"github.com/mixtide/mixtide"
	"github.com/mixtide/mixtide/catalog"
	"github.com/mixtide/mixtide/engine"
	"github.com/mixtide/mixtide/export"
	"github.com/mixtide/mixtide/gomidi"
	"github.com/mixtide/mixtide/mediasession"
	"github.com/mixtide/mixtide/player"
	"github.com/mixtide/mixtide/version"
)

func main() {
	help := flag.Bool("h", false, "Show help.")
	catalogPath := flag.String("catalog", "", "Path to a catalog manifest file or directory, overlaid on the built-in catalog.")
	shuffle := flag.Bool("shuffle", false, "Play the playlist in random order.")
	repeat := flag.String("repeat", "none", "Repeat mode: none, all or one.")
	share := flag.String("share", "", "Load the playlist from a share URL or encoded playlist string.")
	exportURL := flag.Bool("export", false, "Print the playlist as a share URL and exit.")
	watch := flag.Bool("watch", false, "Watch the given directories and add new track files as they appear.")
	midiInput := flag.String("midi", "", "Open the first MIDI input whose name starts with this prefix; \"*\" opens the first input found.")
	mpris := flag.Bool("mpris", true, "Publish the player on the desktop session bus.")
	verbose := flag.Bool("verbose", false, "Log at debug level.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if (flag.NArg() == 0 && *share == "") || *help {
		flag.Usage()
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	tracks, err := collectTracks(flag.Args(), *share)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if len(tracks) == 0 {
		fmt.Fprintln(os.Stderr, "no playable tracks found")
		os.Exit(1)
	}

	if *exportURL {
		u, err := export.ShareURL("https://mixtide.net/listen", tracks)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not export the playlist: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(u)
		os.Exit(0)
	}

	cat := catalog.Builtin()
	if *catalogPath != "" {
		cat, err = catalog.Load(*catalogPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not load the catalog: %v\n", err)
			os.Exit(1)
		}
	}

	eng := engine.New(engine.Options{Logger: log})
	defer eng.Close()
	eng.OnLoadProgress(loadProgress())

	notifier := newConsoleNotifier()
	var session player.MediaSession
	var deferredSession *deferredMediaSession
	if *mpris {
		// the MPRIS connection needs the player for its controls and the
		// player needs the session for its notifications, so the session
		// side goes through a late-bound forwarder
		deferredSession = &deferredMediaSession{}
		session = deferredSession
	}

	p := player.New(eng, cat, notifier, session)
	p.ErrorHandler = func(err error) {
		log.Error("playback error", "error", err)
	}
	p.SetShuffle(*shuffle)
	switch *repeat {
	case "none":
	case "all":
		p.SetRepeat(player.RepeatAll)
	case "one":
		p.SetRepeat(player.RepeatOne)
	default:
		fmt.Fprintf(os.Stderr, "unknown repeat mode %q\n", *repeat)
		os.Exit(1)
	}
	go notifier.run(p)

	if deferredSession != nil {
		mprisSession, err := mediasession.Connect(p, log)
		if err != nil {
			log.Debug("media session unavailable", "error", err)
		} else {
			defer mprisSession.Close()
			deferredSession.bind(mprisSession)
		}
	}

	if *midiInput != "" {
		remote := gomidi.NewRemote(p, log)
		defer remote.Close()
		prefix := *midiInput
		if prefix == "*" {
			prefix = ""
		}
		if err := remote.OpenByPrefix(prefix); err != nil {
			log.Warn("MIDI remote unavailable", "error", err)
		}
	}

	for _, track := range tracks {
		p.Add(track)
	}

	if *watch {
		watcher, err := watchDirs(flag.Args(), p, log)
		if err != nil {
			log.Warn("directory watch unavailable", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	controlLoop(p)
}

// collectTracks reads every path argument (files or directories of .json,
// .yml and .yaml files) plus an optional share URL into one playlist.
func collectTracks(paths []string, share string) ([]*mixtide.Track, error) {
	var tracks []*mixtide.Track
	if share != "" {
		shared, err := export.FromURL(share)
		if err != nil {
			// accept a bare encoded playlist too, without the URL around it
			if shared, err = export.Decode(share); err != nil {
				return nil, fmt.Errorf("could not load the shared playlist: %w", err)
			}
		}
		tracks = append(tracks, shared...)
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("could not read %v: %w", path, err)
		}
		if !info.IsDir() {
			track, err := readTrack(path)
			if err != nil {
				return nil, err
			}
			tracks = append(tracks, track)
			continue
		}
		files, err := trackFilesIn(path)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			track, err := readTrack(file)
			if err != nil {
				return nil, err
			}
			tracks = append(tracks, track)
		}
	}
	return tracks, nil
}

func trackFilesIn(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml", "*.json"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("could not glob the path %v: %w", dir, err)
		}
		files = append(files, matches...)
	}
	return files, nil
}

func readTrack(path string) (*mixtide.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read file %v: %w", path, err)
	}
	track, err := mixtide.ParseTrack(data)
	if err != nil {
		return nil, fmt.Errorf("could not parse %v: %w", path, err)
	}
	if track.Title == "" {
		track.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &track, nil
}

// loadProgress renders sample loading as a progress bar, recreating the
// bar whenever a new batch of loads begins.
func loadProgress() func(loaded, total int) {
	var bar *progressbar.ProgressBar
	var barTotal int
	return func(loaded, total int) {
		if loaded >= total {
			if bar != nil {
				bar.Finish()
				bar = nil
			}
			return
		}
		if bar == nil || barTotal != total {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("loading samples"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionClearOnFinish(),
			)
			barTotal = total
		}
		bar.Set(loaded)
	}
}

func watchDirs(paths []string, p *player.Player, log *slog.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	watched := 0
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := watcher.Add(path); err != nil {
				log.Warn("could not watch directory", "path", path, "error", err)
				continue
			}
			watched++
		}
	}
	if watched == 0 {
		watcher.Close()
		return nil, fmt.Errorf("no directories to watch")
	}
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				switch filepath.Ext(event.Name) {
				case ".yml", ".yaml", ".json":
				default:
					continue
				}
				track, err := readTrack(event.Name)
				if err != nil {
					log.Warn("ignoring unreadable track file", "path", event.Name, "error", err)
					continue
				}
				log.Info("adding track", "title", track.Title, "path", event.Name)
				p.Add(track)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("directory watch error", "error", err)
			}
		}
	}()
	return watcher, nil
}

// controlLoop reads single-letter commands from standard input until the
// user quits or the input closes.
func controlLoop(p *player.Player) {
	fmt.Fprintln(os.Stderr, "commands: [p]ause/resume, [n]ext, [b]ack, [s]top, [r]epeat, [z]shuffle, [m]ute, [f]orward 10s, [q]uit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "p":
			if p.Playing() {
				p.Pause()
			} else {
				p.Continue()
			}
		case "n":
			p.PlayNext()
		case "b":
			p.PlayPrevious()
		case "s":
			p.Stop()
		case "r":
			next := (p.Repeat() + 1) % 3
			p.SetRepeat(next)
			fmt.Fprintf(os.Stderr, "repeat: %v\n", next)
		case "z":
			p.SetShuffle(!p.Shuffle())
			fmt.Fprintf(os.Stderr, "shuffle: %v\n", p.Shuffle())
		case "m":
			p.SetMuted(!p.Muted())
		case "f":
			p.SeekRelative(10)
		case "q":
			return
		}
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Mixtide command line player for .json/.yml track files.\nUsage: %s [flags] [path ...]\n", os.Args[0])
	flag.PrintDefaults()
}

// consoleNotifier prints track changes to the terminal. Notifications
// arrive under the player lock, so the callbacks only poke a channel and
// the printing goroutine queries the player afterwards.
type consoleNotifier struct {
	changed chan struct{}
}

func newConsoleNotifier() *consoleNotifier {
	return &consoleNotifier{changed: make(chan struct{}, 1)}
}

func (n *consoleNotifier) run(p *player.Player) {
	for range n.changed {
		if track, ok := p.CurrentTrack(); ok {
			artist := track.Artist
			if artist == "" {
				artist = "unknown artist"
			}
			fmt.Fprintf(os.Stderr, "playing: %s - %s (%.0f s)\n", artist, track.Title, track.Length)
		}
	}
}

func (n *consoleNotifier) poke() {
	select {
	case n.changed <- struct{}{}:
	default:
	}
}

func (n *consoleNotifier) PlaylistChanged()                   {}
func (n *consoleNotifier) TrackChanged()                      { n.poke() }
func (n *consoleNotifier) ClearTrackDisplay()                 {}
func (n *consoleNotifier) TrackDisplayUpdate(seconds float64) {}
func (n *consoleNotifier) PlayingStateChanged()               {}

// deferredMediaSession forwards to a session that appears after the
// player is constructed, and drops calls until then.
type deferredMediaSession struct {
	mu      sync.Mutex
	session player.MediaSession
}

func (d *deferredMediaSession) bind(session player.MediaSession) {
	d.mu.Lock()
	d.session = session
	d.mu.Unlock()
}

func (d *deferredMediaSession) get() player.MediaSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *deferredMediaSession) SetMetadata(title, artist string) {
	if s := d.get(); s != nil {
		s.SetMetadata(title, artist)
	}
}

func (d *deferredMediaSession) SetPosition(duration, position float64) {
	if s := d.get(); s != nil {
		s.SetPosition(duration, position)
	}
}

func (d *deferredMediaSession) SetPlaying(playing bool) {
	if s := d.get(); s != nil {
		s.SetPlaying(playing)
	}
}

func (d *deferredMediaSession) Clear() {
	if s := d.get(); s != nil {
		s.Clear()
	}
}
