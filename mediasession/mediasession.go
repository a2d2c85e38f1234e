// Package mediasession publishes playback state over MPRIS
// (org.mpris.MediaPlayer2) so desktop environments can show the current
// track and drive the player from media keys. On systems without a D-Bus
// session bus the package degrades to a no-op.
package mediasession

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

const (
	busName    = "org.mpris.MediaPlayer2.mixtide"
	objectPath = "/org/mpris/MediaPlayer2"

	rootInterface   = "org.mpris.MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"
)

type (
	// Controller is the part of the player the desktop is allowed to
	// drive. Calls arrive from the D-Bus dispatch goroutine.
	Controller interface {
		Continue()
		Pause()
		Stop()
		PlayNext()
		PlayPrevious()
		SeekRelative(seconds float64)
		Playing() bool
	}

	// Session exports one MPRIS player on the session bus.
	Session struct {
		conn  *dbus.Conn
		props *prop.Properties
		log   *slog.Logger
	}

	mprisRoot   struct{}
	mprisPlayer struct {
		controller Controller
	}
)

// Connect claims the MPRIS bus name and exports the player objects. The
// returned Session implements the player's media session interface.
func Connect(controller Controller, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to the session bus: %w", err)
	}
	reply, err := conn.RequestName(busName, dbus.NameFlagReplaceExisting)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("claiming %s: %w", busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s is taken", busName)
	}

	s := &Session{conn: conn, log: log}
	player := &mprisPlayer{controller: controller}

	propSpec := map[string]map[string]*prop.Prop{
		rootInterface: {
			"Identity":            constProp("mixtide"),
			"CanQuit":             constProp(false),
			"CanRaise":            constProp(false),
			"HasTrackList":        constProp(false),
			"SupportedUriSchemes": constProp([]string{}),
			"SupportedMimeTypes":  constProp([]string{}),
		},
		playerInterface: {
			"PlaybackStatus": liveProp("Stopped"),
			"Metadata":       liveProp(map[string]dbus.Variant{}),
			"Position":       liveProp(int64(0)),
			"Rate":           constProp(1.0),
			"MinimumRate":    constProp(1.0),
			"MaximumRate":    constProp(1.0),
			"Volume":         constProp(1.0),
			"CanGoNext":      constProp(true),
			"CanGoPrevious":  constProp(true),
			"CanPlay":        constProp(true),
			"CanPause":       constProp(true),
			"CanSeek":        constProp(true),
			"CanControl":     constProp(true),
		},
	}
	s.props, err = prop.Export(conn, objectPath, propSpec)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("exporting MPRIS properties: %w", err)
	}
	if err := conn.Export(&mprisRoot{}, objectPath, rootInterface); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Export(player, objectPath, playerInterface); err != nil {
		conn.Close()
		return nil, err
	}
	node := &introspect.Node{
		Name: objectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{Name: rootInterface, Methods: introspect.Methods(&mprisRoot{})},
			{Name: playerInterface, Methods: introspect.Methods(player)},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, err
	}
	log.Info("media session exported", "bus", busName)
	return s, nil
}

func constProp(value any) *prop.Prop {
	return &prop.Prop{Value: value, Writable: false, Emit: prop.EmitFalse}
}

func liveProp(value any) *prop.Prop {
	return &prop.Prop{Value: value, Writable: false, Emit: prop.EmitTrue}
}

// SetMetadata publishes the current track and marks playback as playing.
func (s *Session) SetMetadata(title, artist string) {
	meta := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(dbus.ObjectPath("/net/mixtide/track/current")),
		"xesam:title":   dbus.MakeVariant(title),
	}
	if artist != "" {
		meta["xesam:artist"] = dbus.MakeVariant([]string{artist})
	}
	s.setProp("Metadata", meta)
	s.setProp("PlaybackStatus", "Playing")
}

// SetPosition publishes the track duration and playback position, both in
// seconds.
func (s *Session) SetPosition(duration, position float64) {
	micros := func(seconds float64) int64 {
		return int64(seconds * float64(time.Second/time.Microsecond))
	}
	if meta, err := s.props.Get(playerInterface, "Metadata"); err == nil {
		m := meta.Value().(map[string]dbus.Variant)
		m["mpris:length"] = dbus.MakeVariant(micros(duration))
		s.setProp("Metadata", m)
	}
	s.setProp("Position", micros(position))
}

// SetPlaying flips the published status between Playing and Paused.
func (s *Session) SetPlaying(playing bool) {
	status := "Paused"
	if playing {
		status = "Playing"
	}
	s.setProp("PlaybackStatus", status)
}

// Clear drops the published track and marks playback as stopped.
func (s *Session) Clear() {
	s.setProp("Metadata", map[string]dbus.Variant{})
	s.setProp("Position", int64(0))
	s.setProp("PlaybackStatus", "Stopped")
}

func (s *Session) setProp(name string, value any) {
	if err := s.props.Set(playerInterface, name, dbus.MakeVariant(value)); err != nil {
		s.log.Warn("media session property update failed", "property", name, "error", err)
	}
}

func (s *Session) Close() error {
	return s.conn.Close()
}

func (r *mprisRoot) Raise() *dbus.Error { return nil }
func (r *mprisRoot) Quit() *dbus.Error  { return nil }

func (p *mprisPlayer) Play() *dbus.Error {
	p.controller.Continue()
	return nil
}

func (p *mprisPlayer) Pause() *dbus.Error {
	p.controller.Pause()
	return nil
}

func (p *mprisPlayer) PlayPause() *dbus.Error {
	if p.controller.Playing() {
		p.controller.Pause()
	} else {
		p.controller.Continue()
	}
	return nil
}

func (p *mprisPlayer) Stop() *dbus.Error {
	p.controller.Stop()
	return nil
}

func (p *mprisPlayer) Next() *dbus.Error {
	p.controller.PlayNext()
	return nil
}

func (p *mprisPlayer) Previous() *dbus.Error {
	p.controller.PlayPrevious()
	return nil
}

// Seek moves playback by the given offset in microseconds, per the MPRIS
// convention.
func (p *mprisPlayer) Seek(offset int64) *dbus.Error {
	p.controller.SeekRelative(float64(offset) / float64(time.Second/time.Microsecond))
	return nil
}

func (p *mprisPlayer) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	return nil // track ids are not stable enough to honor absolute seeks
}

func (p *mprisPlayer) OpenUri(uri string) *dbus.Error {
	return nil
}
