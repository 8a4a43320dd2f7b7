package schedule

import "time"

const (
	DefaultDailyCap               = 5
	DefaultRestDay                = time.Sunday
	DefaultCompactionFactor       = 2.0
	DefaultCompactionMinSlackDays = 7
	DefaultMaxRepeatInstances     = 500
)

// Config holds the engine tunables.
//
// Zero values are replaced with defaults by normalize(), except for booleans:
// use DefaultConfig() as the starting point.
type Config struct {
	DailyCap   int
	RestDay    time.Weekday
	Compaction CompactionPolicy
	Repeat     RepeatPolicy
}

// CompactionPolicy decides when an over-long window gets a recommended end.
//
// Compaction triggers when nominal > required*Factor and the difference is at
// least MinSlackDays. The recommended length is the required length, rounded up
// to whole weeks when RoundWeeks is set.
type CompactionPolicy struct {
	Enabled      bool
	Factor       float64
	MinSlackDays int
	RoundWeeks   bool
}

// RepeatPolicy bounds how many instances of an open-ended repeating action are
// requested per run.
//
// HorizonDays limits the requested span (0 = the whole effective window).
// MaxInstances caps the count for any repeating action, finite or not.
type RepeatPolicy struct {
	HorizonDays  int
	MaxInstances int
}

func DefaultConfig() Config {
	return Config{
		DailyCap: DefaultDailyCap,
		RestDay:  DefaultRestDay,
		Compaction: CompactionPolicy{
			Enabled:      true,
			Factor:       DefaultCompactionFactor,
			MinSlackDays: DefaultCompactionMinSlackDays,
			RoundWeeks:   true,
		},
		Repeat: RepeatPolicy{
			MaxInstances: DefaultMaxRepeatInstances,
		},
	}
}

func (c Config) normalize() Config {
	if c.DailyCap <= 0 {
		c.DailyCap = DefaultDailyCap
	}
	if c.RestDay < time.Sunday || c.RestDay > time.Saturday {
		c.RestDay = DefaultRestDay
	}
	if c.Compaction.Factor < 1 {
		c.Compaction.Factor = DefaultCompactionFactor
	}
	if c.Compaction.MinSlackDays < 0 {
		c.Compaction.MinSlackDays = DefaultCompactionMinSlackDays
	}
	if c.Repeat.HorizonDays < 0 {
		c.Repeat.HorizonDays = 0
	}
	if c.Repeat.MaxInstances <= 0 {
		c.Repeat.MaxInstances = DefaultMaxRepeatInstances
	}
	return c
}

func (c Config) isRestDay(d Day) bool { return d.Weekday() == c.RestDay }
