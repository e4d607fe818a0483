package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestParseJSON(t *testing.T) {
	p := writeTemp(t, "tower.json", `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"bells": {"actuator": "gpio", "tick_interval": "50ms", "gpio": {"bell1_pin": 17, "bell2_pin": 27}},
		"schedule": {"enabled": true, "evaluate_every": "30s", "timezone": "Europe/Madrid"},
		"storage": {"driver": "file", "path": "./tower_store"},
		"http": {"enabled": true, "addr": "127.0.0.1:8080"}
	}`)

	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bells.Actuator != "gpio" || cfg.Bells.GPIO.Bell1Pin != 17 {
		t.Fatalf("bells mismatch: %+v", cfg.Bells)
	}
	if !cfg.Schedule.Enabled || cfg.Schedule.Timezone != "Europe/Madrid" {
		t.Fatalf("schedule mismatch: %+v", cfg.Schedule)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage mismatch: %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get() did not return committed config")
	}
}

func TestParseYAML(t *testing.T) {
	p := writeTemp(t, "tower.yaml", `
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
bells:
  actuator: midi
  midi:
    port: "Synth"
    bell1_key: 60
    bell2_key: 64
schedule:
  enabled: false
`)
	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Bells.Actuator != "midi" || cfg.Bells.MIDI.Port != "Synth" || cfg.Bells.MIDI.Bell2Key != 64 {
		t.Fatalf("midi mismatch: %+v", cfg.Bells.MIDI)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	p := writeTemp(t, "tower.json", `{"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}, "mystery": 1}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatalf("unknown key accepted")
	}

	y := writeTemp(t, "tower.yaml", "logging:\n  level: info\n  consle: true\n")
	if _, err := NewManager(y).Parse(); err == nil {
		t.Fatalf("unknown yaml key accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	p := writeTemp(t, "tower.json", `{"logging": {"level": "info", "console": false, "file": {"enabled": false, "path": ""}}}{"extra": true}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatalf("trailing data accepted")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("bells.tick_interval", "", 50_000_000)
	if err != nil || d != 50_000_000 {
		t.Fatalf("default: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "banana"); err == nil {
		t.Fatalf("bad duration accepted")
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatalf("negative duration accepted")
	}
}

func TestAutoEnableDefaultsOn(t *testing.T) {
	p := writeTemp(t, "tower.json", `{"bells": {"actuator": "nop"}}`)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Bells.AutoEnableOn() {
		t.Fatalf("auto_enable unset should arm the tower")
	}

	p = writeTemp(t, "tower_off.json", `{"bells": {"actuator": "nop", "auto_enable": false}}`)
	cfg, err = NewManager(p).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bells.AutoEnableOn() {
		t.Fatalf("auto_enable: false ignored")
	}
}

func TestSummarizeChange(t *testing.T) {
	oldCfg := &Config{}
	newCfg := &Config{
		Bells:    BellsConfig{Actuator: "gpio"},
		Schedule: ScheduleConfig{Enabled: true},
	}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := map[string]bool{"bells": true, "schedule": true}
	if len(changed) != 2 {
		t.Fatalf("changed = %v", changed)
	}
	for _, c := range changed {
		if !want[c] {
			t.Fatalf("unexpected section %q in %v", c, changed)
		}
	}
}
