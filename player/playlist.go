package player

import "github.com/mixtide/mixtide"

// Add appends a track to the playlist. If nothing is loaded, the new track
// starts playing immediately. The shuffle queue is always refilled, as the
// playlist length changed.
func (p *Player) Add(track *mixtide.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playlist = append(p.playlist, track)
	if !p.current.Present() {
		p.playTrack(len(p.playlist) - 1)
	}
	p.fillShuffleQueue()
	p.ui.PlaylistChanged()
}

// Delete removes the track at index. Deleting the current track unloads
// the player; deleting a track before the current one shifts the current
// index down so it keeps pointing at the same track.
func (p *Player) Delete(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.playlist) {
		return
	}
	p.playlist = append(p.playlist[:index], p.playlist[index+1:]...)
	if cur, ok := p.current.Unpack(); ok {
		switch {
		case index == cur:
			p.unload()
		case index < cur:
			p.current = Index(cur - 1)
		}
	}
	p.fillShuffleQueue()
	p.ui.PlaylistChanged()
}

// Tracks returns a snapshot of the playlist in playback order.
func (p *Player) Tracks() []*mixtide.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	tracks := make([]*mixtide.Track, len(p.playlist))
	copy(tracks, p.playlist)
	return tracks
}

func (p *Player) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.playlist)
}
