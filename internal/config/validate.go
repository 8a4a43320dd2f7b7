package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// FieldError is one invalid config field.
type FieldError struct {
	FieldPath string
	Message   string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.FieldPath, e.Message)
}

// ValidationErrors collects every problem found in a config document.
type ValidationErrors struct {
	Errors []FieldError
}

func (ve *ValidationErrors) Add(fieldPath, format string, args ...any) {
	ve.Errors = append(ve.Errors, FieldError{FieldPath: fieldPath, Message: fmt.Sprintf(format, args...)})
}

func (ve *ValidationErrors) HasErrors() bool { return len(ve.Errors) > 0 }

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

var knownDrivers = map[string]bool{"": true, "none": true, "memory": true, "file": true, "sqlite": true}

var knownLevels = map[string]bool{"": true, "trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

// IsLoopbackHost reports whether host is localhost or a loopback IP. An empty
// host means all interfaces and is not loopback.
func IsLoopbackHost(host string) bool {
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Validate checks field ranges and formats. It returns nil or a
// *ValidationErrors listing every problem.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var ve ValidationErrors

	if !knownLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Level))] {
		ve.Add("logging.level", "unknown level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "text", "json":
	default:
		ve.Add("logging.format", "must be text or json, got %q", cfg.Logging.Format)
	}

	e := cfg.Engine
	if e.DailyCap < 0 {
		ve.Add("engine.daily_cap", "must be >= 0")
	}
	if _, err := ParseWeekday(e.RestDay, time.Sunday); err != nil {
		ve.Add("engine.rest_day", "%v", err)
	}
	if f := e.Compaction.Factor; f != 0 && f < 1 {
		ve.Add("engine.compaction.factor", "must be >= 1, got %g", f)
	}
	if e.MinSlackDays() < 0 {
		ve.Add("engine.compaction.min_slack_days", "must be >= 0")
	}
	if e.Repeat.HorizonDays < 0 {
		ve.Add("engine.repeat.horizon_days", "must be >= 0")
	}
	if e.Repeat.MaxInstances < 0 {
		ve.Add("engine.repeat.max_instances", "must be >= 0")
	}

	p := cfg.Planner
	if p.RatePerSec < 0 {
		ve.Add("planner.rate_per_sec", "must be >= 0")
	}
	if p.Burst < 0 {
		ve.Add("planner.burst", "must be >= 0")
	}
	if tz := strings.TrimSpace(p.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			ve.Add("planner.default_timezone", "unknown timezone %q", tz)
		}
	}

	if s := cfg.Storage; s != nil {
		driver := strings.ToLower(strings.TrimSpace(s.Driver))
		if !knownDrivers[driver] {
			ve.Add("storage.driver", "unknown driver %q", s.Driver)
		}
		if (driver == "file" || driver == "sqlite") && strings.TrimSpace(s.Path) == "" {
			ve.Add("storage.path", "required for driver %q", driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			ve.Add("storage.busy_timeout", "invalid duration %q", s.BusyTimeout)
		}
	}

	r := cfg.Runner
	if r.Workers < 0 {
		ve.Add("runner.workers", "must be >= 0")
	}
	if _, err := ParseDurationField("runner.timeout", r.Timeout); err != nil {
		ve.Add("runner.timeout", "invalid duration %q", r.Timeout)
	}
	if r.Enabled {
		if strings.TrimSpace(r.Schedule) == "" {
			ve.Add("runner.schedule", "required when runner is enabled")
		}
		if strings.TrimSpace(r.InboxDir) == "" {
			ve.Add("runner.inbox_dir", "required when runner is enabled")
		}
		if strings.TrimSpace(r.OutboxDir) == "" {
			ve.Add("runner.outbox_dir", "required when runner is enabled")
		}
	}

	h := cfg.HTTP
	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", h.ReadTimeout},
		{"http.write_timeout", h.WriteTimeout},
		{"http.idle_timeout", h.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			ve.Add(f.path, "invalid duration %q", f.raw)
		}
	}
	if h.Enabled && strings.TrimSpace(h.Addr) != "" {
		host, _, err := net.SplitHostPort(strings.TrimSpace(h.Addr))
		switch {
		case err != nil:
			ve.Add("http.addr", "invalid %q (expected host:port)", h.Addr)
		case !h.AllowInsecure && strings.TrimSpace(h.Token) == "" && !IsLoopbackHost(host):
			ve.Add("http.addr", "non-loopback bind requires token or allow_insecure")
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
