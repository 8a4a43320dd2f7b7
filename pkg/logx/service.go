package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	// Format is the console encoding: "text" (default) or "json".
	Format string
	File   FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogFile = "./dreamplan.log"

// Service owns the log sinks. Apply may be called at any time; Loggers taken
// from the Service pick up the new sinks on their next event.
type Service struct {
	mu     sync.Mutex
	stdout io.Writer
	file   *os.File

	zl atomic.Pointer[zerolog.Logger]
}

// New builds the service and applies cfg. A file sink that cannot be opened
// is reported on the returned logger and skipped.
func New(cfg Config) (*Service, Logger) {
	s := newService(Stdout())
	err := s.Apply(cfg)
	l := s.Logger()
	if err != nil {
		l.Warn("log sink unavailable", Err(err))
	}
	return s, l
}

func newService(stdout io.Writer) *Service {
	setGlobals()
	s := &Service{stdout: stdout}
	boot := zerolog.New(consoleWriter(stdout, false)).With().Timestamp().Logger()
	s.zl.Store(&boot)
	return s
}

func (s *Service) current() zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// Apply rebuilds the sinks. With neither console nor file enabled, logs go
// to the console so nothing is lost silently.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, s.console(cfg.Format))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			errs = append(errs, fmt.Errorf("open log file %q: %w", path, err))
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, s.console(cfg.Format))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.zl.Store(&zl)
	return errors.Join(errs...)
}

func (s *Service) console(format string) io.Writer {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return s.stdout
	}
	return consoleWriter(s.stdout, true)
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

// consoleWriter renders human-readable lines. Colors are used only when
// detectTTY is set and stdout is a terminal.
func consoleWriter(w io.Writer, detectTTY bool) zerolog.ConsoleWriter {
	noColor := true
	if detectTTY {
		if f, ok := w.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd())
		}
	}
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		NoColor:      noColor,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

func Stdout() io.Writer { return os.Stdout }

func Stderr() io.Writer { return os.Stderr }
