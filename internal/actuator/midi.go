package actuator

import (
	"fmt"
	"strings"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"belltower/internal/config"
	logx "belltower/pkg/logx"
)

const (
	defaultBell1Key = 60 // C4
	defaultBell2Key = 64 // E4
	strikeVelocity  = 100
)

// midiDriver maps bell strikes to MIDI notes so melodies can be
// auditioned on a synth without relay hardware attached.
type midiDriver struct {
	log  logx.Logger
	out  drivers.Out
	send func(gomidi.Message) error
	ch   uint8
	keys [2]uint8
}

func openMIDI(cfg config.MIDIConfig, log logx.Logger) (Driver, error) {
	out, err := pickOutPort(cfg.Port)
	if err != nil {
		return nil, err
	}
	if err := out.Open(); err != nil {
		return nil, fmt.Errorf("midi: open %q: %w", out.String(), err)
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("midi: sender for %q: %w", out.String(), err)
	}

	keys := [2]uint8{cfg.Bell1Key, cfg.Bell2Key}
	if keys[0] == 0 {
		keys[0] = defaultBell1Key
	}
	if keys[1] == 0 {
		keys[1] = defaultBell2Key
	}
	log.Info("midi actuator ready",
		logx.String("port", out.String()),
		logx.Int("bell1_key", int(keys[0])),
		logx.Int("bell2_key", int(keys[1])),
	)
	return &midiDriver{log: log, out: out, send: send, ch: cfg.Channel, keys: keys}, nil
}

func pickOutPort(pattern string) (drivers.Out, error) {
	outs := gomidi.GetOutPorts()
	if len(outs) == 0 {
		return nil, fmt.Errorf("midi: no output ports available")
	}
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return outs[0], nil
	}
	for _, o := range outs {
		if strings.Contains(strings.ToLower(o.String()), strings.ToLower(pattern)) {
			return o, nil
		}
	}
	return nil, fmt.Errorf("midi: no output port matches %q", pattern)
}

func (d *midiDriver) Set(bell int, asserted bool) error {
	if bell < 1 || bell > 2 {
		return fmt.Errorf("midi: no key for bell %d", bell)
	}
	key := d.keys[bell-1]
	var msg gomidi.Message
	if asserted {
		msg = gomidi.NoteOn(d.ch, key, strikeVelocity)
	} else {
		msg = gomidi.NoteOff(d.ch, key)
	}
	if err := d.send(msg); err != nil {
		return fmt.Errorf("midi: bell %d: %w", bell, err)
	}
	return nil
}

func (d *midiDriver) Close() error {
	// Silence anything still sounding before the port goes away.
	for _, key := range d.keys {
		_ = d.send(gomidi.NoteOff(d.ch, key))
	}
	err := d.out.Close()
	gomidi.CloseDriver()
	return err
}
