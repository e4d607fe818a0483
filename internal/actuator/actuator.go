// Package actuator provides the physical output drivers behind the
// playback engine: relay coils on GPIO lines, MIDI notes for bench
// testing, or nothing at all.
package actuator

import (
	"fmt"
	"strings"

	"belltower/internal/bell"
	"belltower/internal/config"
	logx "belltower/pkg/logx"
)

// Driver is a closable bell actuator. Set must not block: it is called
// from the playback tick loop and any latency there becomes pulse
// jitter.
type Driver interface {
	bell.Actuator
	Close() error
}

// Open builds the configured driver. Unknown or empty names fall back
// to the nop driver so a misconfigured tower boots silent rather than
// not at all.
func Open(cfg config.BellsConfig, log logx.Logger) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Actuator)) {
	case "", "nop", "none":
		return nopDriver{}, nil
	case "gpio":
		return openGPIO(cfg.GPIO, log)
	case "midi":
		return openMIDI(cfg.MIDI, log)
	default:
		return nil, fmt.Errorf("actuator: unknown driver %q", cfg.Actuator)
	}
}

type nopDriver struct{}

func (nopDriver) Set(bell int, asserted bool) error { return nil }
func (nopDriver) Close() error                      { return nil }
