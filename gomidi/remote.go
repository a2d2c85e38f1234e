// Package gomidi drives the player from a hardware MIDI controller: pads
// mapped to transport actions and program changes mapped to track
// selection. A missing MIDI driver or device is tolerated; the remote just
// stays inert.
package gomidi

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Default pad notes of the transport mapping. The layout follows the
// bottom pad row of common 4x4 controllers.
const (
	padPrevious  = 36 // C1
	padPlayPause = 37
	padStop      = 38
	padNext      = 39
	padMute      = 40
)

type (
	// Controller is the part of the player a MIDI remote may drive.
	// Calls arrive from the MIDI input callback goroutine.
	Controller interface {
		Continue()
		Pause()
		Stop()
		PlayNext()
		PlayPrevious()
		PlayTrack(index int)
		Playing() bool
		SetMuted(muted bool)
		Muted() bool
	}

	// Remote owns the MIDI driver and the currently open input device.
	Remote struct {
		driver     *rtmididrv.Driver
		currentIn  drivers.In
		stopListen func()
		controller Controller
		log        *slog.Logger
	}
)

// NewRemote opens the MIDI driver. If no driver is available the remote is
// still usable, it just cannot open devices.
func NewRemote(controller Controller, log *slog.Logger) *Remote {
	if log == nil {
		log = slog.Default()
	}
	r := &Remote{controller: controller, log: log}
	var err error
	r.driver, err = rtmididrv.New()
	if err != nil {
		r.log.Warn("no MIDI driver available", "error", err)
		r.driver = nil
	}
	return r
}

// InputNames lists the available MIDI input devices.
func (r *Remote) InputNames() []string {
	if r.driver == nil {
		return nil
	}
	ins, err := r.driver.Ins()
	if err != nil {
		return nil
	}
	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	return names
}

// OpenByPrefix opens the first input device whose name starts with
// namePrefix, or the first device of all when namePrefix is empty.
func (r *Remote) OpenByPrefix(namePrefix string) error {
	if r.driver == nil {
		return errors.New("no MIDI driver available")
	}
	ins, err := r.driver.Ins()
	if err != nil {
		return fmt.Errorf("listing MIDI inputs: %w", err)
	}
	for _, in := range ins {
		if namePrefix == "" || strings.HasPrefix(in.String(), namePrefix) {
			return r.open(in)
		}
	}
	if namePrefix == "" {
		return errors.New("no MIDI inputs found")
	}
	return fmt.Errorf("no MIDI input starting with %q", namePrefix)
}

func (r *Remote) open(in drivers.In) error {
	if r.currentIn == in {
		return nil
	}
	r.closeInput()
	if err := in.Open(); err != nil {
		return fmt.Errorf("opening MIDI input %s: %w", in, err)
	}
	stop, err := midi.ListenTo(in, r.handleMessage)
	if err != nil {
		in.Close()
		return fmt.Errorf("listening to MIDI input %s: %w", in, err)
	}
	r.currentIn = in
	r.stopListen = stop
	r.log.Info("MIDI remote connected", "device", in.String())
	return nil
}

func (r *Remote) handleMessage(msg midi.Message, timestampms int32) {
	var channel, key, velocity, program uint8
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		if velocity == 0 {
			return // running status note-off
		}
		r.handlePad(key)
	case msg.GetProgramChange(&channel, &program):
		r.controller.PlayTrack(int(program))
	}
}

func (r *Remote) handlePad(key uint8) {
	switch key {
	case padPlayPause:
		if r.controller.Playing() {
			r.controller.Pause()
		} else {
			r.controller.Continue()
		}
	case padStop:
		r.controller.Stop()
	case padNext:
		r.controller.PlayNext()
	case padPrevious:
		r.controller.PlayPrevious()
	case padMute:
		r.controller.SetMuted(!r.controller.Muted())
	}
}

func (r *Remote) closeInput() {
	if r.stopListen != nil {
		r.stopListen()
		r.stopListen = nil
	}
	if r.currentIn != nil && r.currentIn.IsOpen() {
		r.currentIn.Close()
	}
	r.currentIn = nil
}

func (r *Remote) Close() {
	r.closeInput()
	if r.driver != nil {
		r.driver.Close()
	}
}
