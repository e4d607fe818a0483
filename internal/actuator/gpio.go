package actuator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"belltower/internal/config"
	logx "belltower/pkg/logx"
)

const gpioRoot = "/sys/class/gpio"

// gpioDriver drives the bell relays through sysfs GPIO lines. The
// reference boards use active-low relay modules, so "asserted" writes 0
// unless active_high is set.
//
// Value files are opened once at init and rewound per write, keeping
// Set on the tick-loop hot path down to a single pwrite.
type gpioDriver struct {
	log        logx.Logger
	activeHigh bool
	pins       [2]int
	values     [2]*os.File
}

func openGPIO(cfg config.GPIOConfig, log logx.Logger) (Driver, error) {
	if cfg.Bell1Pin <= 0 || cfg.Bell2Pin <= 0 {
		return nil, fmt.Errorf("gpio: bell1_pin and bell2_pin are required")
	}
	if cfg.Bell1Pin == cfg.Bell2Pin {
		return nil, fmt.Errorf("gpio: bells share pin %d", cfg.Bell1Pin)
	}

	d := &gpioDriver{
		log:        log,
		activeHigh: cfg.ActiveHigh,
		pins:       [2]int{cfg.Bell1Pin, cfg.Bell2Pin},
	}
	for i, pin := range d.pins {
		f, err := exportPin(pin)
		if err != nil {
			d.closePartial(i)
			return nil, err
		}
		d.values[i] = f
	}
	// Both relays released before anything else runs.
	for b := 1; b <= 2; b++ {
		if err := d.Set(b, false); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	log.Info("gpio actuator ready",
		logx.Int("bell1_pin", cfg.Bell1Pin),
		logx.Int("bell2_pin", cfg.Bell2Pin),
		logx.Bool("active_high", cfg.ActiveHigh),
	)
	return d, nil
}

func exportPin(pin int) (*os.File, error) {
	dir := filepath.Join(gpioRoot, "gpio"+strconv.Itoa(pin))
	if _, err := os.Stat(dir); err != nil {
		if err := os.WriteFile(filepath.Join(gpioRoot, "export"), []byte(strconv.Itoa(pin)), 0o200); err != nil {
			return nil, fmt.Errorf("gpio: export pin %d: %w", pin, err)
		}
		// The kernel creates the pin directory asynchronously; give udev
		// a moment to fix up permissions.
		for i := 0; i < 20; i++ {
			if _, err := os.Stat(dir); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("out"), 0o200); err != nil {
		return nil, fmt.Errorf("gpio: pin %d direction: %w", pin, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "value"), os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("gpio: pin %d value: %w", pin, err)
	}
	return f, nil
}

func (d *gpioDriver) Set(bell int, asserted bool) error {
	if bell < 1 || bell > 2 {
		return fmt.Errorf("gpio: no pin for bell %d", bell)
	}
	level := byte('0')
	if asserted == d.activeHigh {
		level = '1'
	}
	if _, err := d.values[bell-1].WriteAt([]byte{level}, 0); err != nil {
		return fmt.Errorf("gpio: bell %d write: %w", bell, err)
	}
	return nil
}

func (d *gpioDriver) Close() error {
	// Release both relays before letting go of the pins.
	for b := 1; b <= 2; b++ {
		_ = d.Set(b, false)
	}
	d.closePartial(len(d.values))
	var firstErr error
	for _, pin := range d.pins {
		if err := os.WriteFile(filepath.Join(gpioRoot, "unexport"), []byte(strconv.Itoa(pin)), 0o200); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *gpioDriver) closePartial(n int) {
	for i := 0; i < n && i < len(d.values); i++ {
		if d.values[i] != nil {
			_ = d.values[i].Close()
			d.values[i] = nil
		}
	}
}
