package player

// fillShuffleQueue regenerates the queue as a fresh uniform permutation of
// the playlist indices (Fisher–Yates). Called whenever the playlist length
// changes and whenever the queue runs out mid-playback.
func (p *Player) fillShuffleQueue() {
	p.shuffleQueue = p.shuffleQueue[:0]
	for i := range p.playlist {
		p.shuffleQueue = append(p.shuffleQueue, i)
	}
	for i := len(p.shuffleQueue) - 1; i >= 1; i-- {
		j := p.rand.Intn(i + 1)
		p.shuffleQueue[i], p.shuffleQueue[j] = p.shuffleQueue[j], p.shuffleQueue[i]
	}
}

// popShuffleIndex consumes the queue front-to-back, refilling it when
// exhausted. ok is false only for an empty playlist.
func (p *Player) popShuffleIndex() (index int, ok bool) {
	if len(p.shuffleQueue) == 0 {
		p.fillShuffleQueue()
	}
	if len(p.shuffleQueue) == 0 {
		return 0, false
	}
	index = p.shuffleQueue[0]
	p.shuffleQueue = p.shuffleQueue[1:]
	return index, true
}
