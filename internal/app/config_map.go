package app

import (
	"fmt"
	"strings"
	"time"

	"dreamplan/internal/config"
	"dreamplan/internal/httpapi"
	"dreamplan/internal/planner"
	"dreamplan/internal/runner"
	"dreamplan/internal/schedule"
	"dreamplan/internal/storage"
	logx "dreamplan/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "memory":
		return storage.Config{Driver: driver}, true, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (schedule.Config, error) {
	out := schedule.DefaultConfig()
	if cfg == nil {
		return out, nil
	}
	ec := cfg.Engine

	rest, err := config.ParseWeekday(ec.RestDay, schedule.DefaultRestDay)
	if err != nil {
		return schedule.Config{}, fmt.Errorf("engine.rest_day: %w", err)
	}
	out.RestDay = rest
	if ec.DailyCap > 0 {
		out.DailyCap = ec.DailyCap
	}
	out.Compaction.Enabled = ec.CompactionEnabled()
	out.Compaction.RoundWeeks = ec.RoundWeeks()
	out.Compaction.MinSlackDays = ec.MinSlackDays()
	if ec.Compaction.Factor > 0 {
		out.Compaction.Factor = ec.Compaction.Factor
	}
	out.Repeat.HorizonDays = ec.Repeat.HorizonDays
	if ec.Repeat.MaxInstances > 0 {
		out.Repeat.MaxInstances = ec.Repeat.MaxInstances
	}
	return out, nil
}

func mapPlannerOptions(cfg *config.Config) (planner.Options, error) {
	eng, err := mapEngineConfig(cfg)
	if err != nil {
		return planner.Options{}, err
	}
	pc := cfg.Planner
	return planner.Options{
		Engine:          eng,
		RatePerSec:      pc.RatePerSec,
		Burst:           pc.Burst,
		Persist:         pc.PersistEnabled(),
		DefaultTimezone: strings.TrimSpace(pc.DefaultTimezone),
	}, nil
}

func mapRunnerOptions(cfg *config.Config) (runner.Options, error) {
	rc := cfg.Runner
	timeout, err := config.ParseDurationField("runner.timeout", rc.Timeout)
	if err != nil {
		return runner.Options{}, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Planner.DefaultTimezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return runner.Options{}, fmt.Errorf("planner.default_timezone: %w", err)
		}
	}
	return runner.Options{
		Schedule:  rc.Schedule,
		InboxDir:  rc.InboxDir,
		OutboxDir: rc.OutboxDir,
		Workers:   rc.Workers,
		Timeout:   timeout,
		Location:  loc,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	out := httpapi.Config{
		Enabled:       hc.Enabled,
		Addr:          strings.TrimSpace(hc.Addr),
		Token:         strings.TrimSpace(hc.Token),
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
	}
	if out.Addr == "" {
		out.Addr = httpapi.DefaultAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	// write_timeout defaults to 0 so pprof profiles can stream.
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", hc.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 120*time.Second); err != nil {
		return out, err
	}
	return out, nil
}
