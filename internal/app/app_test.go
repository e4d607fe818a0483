package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"belltower/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "belltower.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestNewAppWiresFromConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, `
logging:
  level: error
bells:
  actuator: nop
schedule:
  enabled: true
storage:
  driver: file
  path: `+filepath.Join(dir, "tower")+`
`)
	a, err := NewApp(p)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if a.svc == nil || a.match == nil || a.store == nil || a.runner == nil {
		t.Fatalf("wiring incomplete")
	}
	if !a.ctl.Enabled() {
		t.Fatalf("default config did not auto-enable the bells")
	}
	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNewAppAutoEnableOff(t *testing.T) {
	p := writeConfig(t, `
bells:
  actuator: nop
  auto_enable: false
`)
	a, err := NewApp(p)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if a.ctl.Enabled() {
		t.Fatalf("auto_enable: false ignored")
	}
	_ = a.Stop(context.Background(), StopAppStop)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []config.Config{
		{Bells: config.BellsConfig{TickInterval: "fast"}},
		{Schedule: config.ScheduleConfig{Timezone: "Mars/Olympus"}},
		{Bells: config.BellsConfig{Actuator: "steam"}},
		{Bells: config.BellsConfig{Actuator: "gpio"}}, // missing pins
	}
	for i := range cases {
		if err := validate(&cases[i]); err == nil {
			t.Fatalf("case %d accepted", i)
		}
	}
}
