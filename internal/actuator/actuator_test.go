package actuator

import (
	"testing"

	"belltower/internal/config"
	logx "belltower/pkg/logx"
)

func TestOpenNop(t *testing.T) {
	for _, name := range []string{"", "nop", "none", "NOP"} {
		d, err := Open(config.BellsConfig{Actuator: name}, logx.Nop())
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if err := d.Set(1, true); err != nil {
			t.Fatalf("nop set: %v", err)
		}
		if err := d.Close(); err != nil {
			t.Fatalf("nop close: %v", err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(config.BellsConfig{Actuator: "steam"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestGPIOValidation(t *testing.T) {
	cases := []config.GPIOConfig{
		{},                           // missing pins
		{Bell1Pin: 17},               // missing bell2
		{Bell1Pin: 17, Bell2Pin: 17}, // shared pin
		{Bell1Pin: -4, Bell2Pin: 27}, // negative
	}
	for _, c := range cases {
		if _, err := openGPIO(c, logx.Nop()); err == nil {
			t.Fatalf("config %+v accepted", c)
		}
	}
}
