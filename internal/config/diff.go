package config

import (
	"reflect"
	"sort"
	"strings"

	logx "belltower/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Bells (actuator and playback loop)
	if !reflect.DeepEqual(oldCfg.Bells, newCfg.Bells) {
		changed = append(changed, "bells")
		attrs = append(attrs,
			logx.String("bells.actuator", strings.TrimSpace(newCfg.Bells.Actuator)),
			logx.String("bells.tick_interval", strings.TrimSpace(newCfg.Bells.TickInterval)),
			logx.Bool("bells.auto_enable", newCfg.Bells.AutoEnableOn()),
		)
	}

	// Schedule matcher
	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.evaluate_every", strings.TrimSpace(newCfg.Schedule.EvaluateEvery)),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
			logx.Bool("schedule.trust_fallback_time", newCfg.Schedule.TrustFallbackTime),
		)
	}

	// Clock chain
	if !reflect.DeepEqual(oldCfg.Clock, newCfg.Clock) {
		changed = append(changed, "clock")
		attrs = append(attrs,
			logx.Bool("clock.checkpoint_set", strings.TrimSpace(newCfg.Clock.CheckpointPath) != ""),
		)
	}

	// Storage. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	// HTTP (never log token)
	if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled ||
		strings.TrimSpace(oldCfg.HTTP.Addr) != strings.TrimSpace(newCfg.HTTP.Addr) ||
		oldCfg.HTTP.AllowInsecure != newCfg.HTTP.AllowInsecure ||
		oldCfg.HTTP.RingRatePerMin != newCfg.HTTP.RingRatePerMin ||
		oldCfg.HTTP.RingBurst != newCfg.HTTP.RingBurst ||
		strings.TrimSpace(oldCfg.HTTP.ReadTimeout) != strings.TrimSpace(newCfg.HTTP.ReadTimeout) ||
		strings.TrimSpace(oldCfg.HTTP.WriteTimeout) != strings.TrimSpace(newCfg.HTTP.WriteTimeout) ||
		strings.TrimSpace(oldCfg.HTTP.IdleTimeout) != strings.TrimSpace(newCfg.HTTP.IdleTimeout) ||
		(strings.TrimSpace(oldCfg.HTTP.Token) != "") != (strings.TrimSpace(newCfg.HTTP.Token) != "") {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.allow_insecure", newCfg.HTTP.AllowInsecure),
		)
	}

	// Telegram (never log token)
	oldT := oldCfg.Telegram
	newT := newCfg.Telegram
	var oEnabled, nEnabled bool
	var oOwners, nOwners []int64
	var oPoll, nPoll string
	var oTokenSet, nTokenSet bool
	if oldT != nil {
		oEnabled = oldT.Enabled
		oOwners = oldT.OwnerUserIDs
		oPoll = strings.TrimSpace(oldT.PollTimeout)
		oTokenSet = strings.TrimSpace(oldT.Token) != ""
	}
	if newT != nil {
		nEnabled = newT.Enabled
		nOwners = newT.OwnerUserIDs
		nPoll = strings.TrimSpace(newT.PollTimeout)
		nTokenSet = strings.TrimSpace(newT.Token) != ""
	}
	if oEnabled != nEnabled || oPoll != nPoll || oTokenSet != nTokenSet ||
		!reflect.DeepEqual(oOwners, nOwners) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nEnabled),
			logx.Int("telegram.owner_count", len(nOwners)),
			logx.String("telegram.poll_timeout", nPoll),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
