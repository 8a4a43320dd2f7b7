package config

import (
	"reflect"
	"strings"

	logx "dreamplan/pkg/logx"
)

// SummarizeConfigChange returns (1) the names of changed sections, (2) log
// fields describing the new values and (3) whether any changed section only
// takes effect after a restart (storage).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)
	restart := false

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		e := newCfg.Engine
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.daily_cap", e.DailyCap),
			logx.String("engine.rest_day", strings.TrimSpace(e.RestDay)),
			logx.Bool("engine.compaction", e.CompactionEnabled()),
			logx.Int("engine.repeat.horizon_days", e.Repeat.HorizonDays),
		)
	}

	if !reflect.DeepEqual(oldCfg.Planner, newCfg.Planner) {
		p := newCfg.Planner
		changed = append(changed, "planner")
		attrs = append(attrs,
			logx.Float64("planner.rate_per_sec", p.RatePerSec),
			logx.Int("planner.burst", p.Burst),
			logx.Bool("planner.persist", p.PersistEnabled()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = true
		if s := newCfg.Storage; s != nil {
			attrs = append(attrs,
				logx.String("storage.driver", strings.TrimSpace(s.Driver)),
				logx.String("storage.path", strings.TrimSpace(s.Path)),
			)
		} else {
			attrs = append(attrs, logx.String("storage.driver", "none"))
		}
	}

	if !reflect.DeepEqual(oldCfg.Runner, newCfg.Runner) {
		r := newCfg.Runner
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.Bool("runner.enabled", r.Enabled),
			logx.String("runner.schedule", strings.TrimSpace(r.Schedule)),
			logx.Int("runner.workers", r.Workers),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		h := newCfg.HTTP
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", h.Enabled),
			logx.String("http.addr", strings.TrimSpace(h.Addr)),
			logx.Bool("http.pprof", h.Pprof),
			logx.Bool("http.token_set", strings.TrimSpace(h.Token) != ""),
		)
	}

	return changed, attrs, restart
}
