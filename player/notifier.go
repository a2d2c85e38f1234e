package player

type (
	// UINotifier receives best-effort display updates from the player. The
	// callbacks run while the player lock is held, so implementations must
	// not call back into the player; queue the update and return.
	UINotifier interface {
		PlaylistChanged()
		TrackDisplayUpdate(seconds float64)
		ClearTrackDisplay()
		TrackChanged()
		PlayingStateChanged()
	}

	// MediaSession pushes now-playing metadata and position to an OS-level
	// media integration. All methods are best-effort side channels; their
	// failure never affects playback. Same reentrancy rule as UINotifier.
	MediaSession interface {
		SetMetadata(title, artist string)
		SetPosition(duration, position float64)
		SetPlaying(playing bool)
		Clear()
	}

	NopUINotifier   struct{}
	NopMediaSession struct{}
)

func (NopUINotifier) PlaylistChanged()                   {}
func (NopUINotifier) TrackDisplayUpdate(seconds float64) {}
func (NopUINotifier) ClearTrackDisplay()                 {}
func (NopUINotifier) TrackChanged()                      {}
func (NopUINotifier) PlayingStateChanged()               {}

func (NopMediaSession) SetMetadata(title, artist string)       {}
func (NopMediaSession) SetPosition(duration, position float64) {}
func (NopMediaSession) SetPlaying(playing bool)                {}
func (NopMediaSession) Clear()                                 {}
