// Package runner plans request documents dropped into an inbox directory on a
// schedule and writes one result document per request into an outbox.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"dreamplan/internal/planner"
	logx "dreamplan/pkg/logx"
)

// Planner is the part of the planner service the runner needs.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (planner.Report, error)
}

type Options struct {
	Schedule  string
	InboxDir  string
	OutboxDir string
	Workers   int
	// Timeout bounds one pass; zero means no limit.
	Timeout  time.Duration
	Location *time.Location
}

// Result is the document written to the outbox for each request.
type Result struct {
	Source string          `json:"source"`
	Report *planner.Report `json:"report,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Summary describes one pass over the inbox.
type Summary struct {
	Files  int
	Failed int
	Took   time.Duration
}

const resultSuffix = ".result.json"

type Runner struct {
	p   Planner
	log logx.Logger

	mu      sync.Mutex
	opts    Options
	trigger Trigger
	c       *cron.Cron
	ctx     context.Context

	running atomic.Bool
	skipped atomic.Int64
}

func New(opts Options, p Planner, log logx.Logger) (*Runner, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	tr, err := ParseSchedule(opts.Schedule)
	if err != nil {
		return nil, err
	}
	return &Runner{p: p, log: log, opts: normalize(opts), trigger: tr}, nil
}

func normalize(o Options) Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Start registers the trigger and starts the cron loop. Jobs run with ctx.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	r.ctx = ctx
	r.startLocked()
	return nil
}

func (r *Runner) startLocked() {
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(r.opts.Location))
	c.Schedule(r.trigger.Schedule(), cron.FuncJob(r.tick))
	c.Start()
	r.c = c
	r.log.Info("runner started",
		logx.String("schedule", r.trigger.String()),
		logx.String("inbox", r.opts.InboxDir),
		logx.String("outbox", r.opts.OutboxDir),
		logx.Int("workers", r.opts.Workers),
	)
}

// Stop stops the cron loop and waits for a running pass, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply swaps options at runtime. The cron loop is rebuilt when the schedule
// or location changed; other options take effect on the next pass.
func (r *Runner) Apply(opts Options) error {
	tr, err := ParseSchedule(opts.Schedule)
	if err != nil {
		return err
	}
	opts = normalize(opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	restart := tr.String() != r.trigger.String() || opts.Location.String() != r.opts.Location.String()
	r.opts = opts
	r.trigger = tr
	if restart && r.c != nil {
		old := r.c
		r.c = nil
		// Running jobs keep going; the next tick comes from the new loop.
		old.Stop()
		r.startLocked()
	}
	return nil
}

// Skipped returns how many ticks were dropped because a pass was running.
func (r *Runner) Skipped() int64 { return r.skipped.Load() }

func (r *Runner) tick() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if !r.running.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		r.log.Warn("runner pass still running; tick skipped")
		return
	}
	defer r.running.Store(false)

	sum, err := r.pass(ctx)
	if err != nil {
		r.log.Error("runner pass failed", logx.Err(err))
		return
	}
	if sum.Files > 0 {
		r.log.Info("runner pass done",
			logx.Int("files", sum.Files),
			logx.Int("failed", sum.Failed),
			logx.Duration("took", sum.Took),
		)
	}
}

// RunOnce processes the inbox once. A pass started by the schedule and one
// started here never overlap.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Summary{}, errors.New("runner: pass already running")
	}
	defer r.running.Store(false)
	return r.pass(ctx)
}

func (r *Runner) pass(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	opts := r.opts
	r.mu.Unlock()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	start := time.Now()

	files, err := scanInbox(opts.InboxDir)
	if err != nil {
		return Summary{}, err
	}
	if err := os.MkdirAll(opts.OutboxDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("runner: outbox: %w", err)
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, path := range files {
		path := path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := r.process(gctx, path)
			if res.Error != "" {
				failed.Add(1)
				r.log.Warn("request failed", logx.String("file", filepath.Base(path)), logx.String("error", res.Error))
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			return writeResult(opts.OutboxDir, path, res)
		})
	}
	err = g.Wait()
	return Summary{Files: len(files), Failed: int(failed.Load()), Took: time.Since(start)}, err
}

func (r *Runner) process(ctx context.Context, path string) Result {
	res := Result{Source: filepath.Base(path)}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req, err := planner.DecodeRequest(path, data)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	rep, err := r.p.Plan(ctx, req)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Report = &rep
	return res
}

func scanInbox(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("runner: inbox: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, resultSuffix) {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json", ".yaml", ".yml":
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ResultName maps a request file name to its result file name. The source
// extension is kept so "a.json" and "a.yaml" never share a result.
func ResultName(source string) string {
	return filepath.Base(source) + resultSuffix
}

func writeResult(dir, source string, res Result) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return writeFileAtomic(filepath.Join(dir, ResultName(source)), b)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
