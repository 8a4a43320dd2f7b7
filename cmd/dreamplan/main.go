package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/coreos/go-systemd/v22/daemon"

	"dreamplan/internal/app"
	"dreamplan/internal/planner"
	logx "dreamplan/pkg/logx"
)

const usage = `usage:
  dreamplan [-config path] plan -in request.(json|yaml) [-out result.json]
  dreamplan [-config path] serve`

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.Usage = func() { fmt.Fprintln(logx.Stderr(), usage) }
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch flag.Arg(0) {
	case "plan":
		err = runPlan(ctx, cfgPath, flag.Args()[1:])
	case "serve":
		err = runServe(ctx, cfgPath)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(logx.Stderr(), "fatal:", err)
		os.Exit(1)
	}
}

func runPlan(ctx context.Context, cfgPath string, args []string) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	in := fs.String("in", "", "request document")
	out := fs.String("out", "", "result file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("plan: -in is required")
	}
	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	req, err := planner.DecodeRequest(*in, data)
	if err != nil {
		return err
	}

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopAppStop)
	}()

	rep, err := a.Planner().Plan(ctx, req)
	if err != nil {
		return err
	}

	var w io.Writer = logx.Stdout()
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	if !rep.Result.Success {
		return fmt.Errorf("plan failed: %v", rep.Result.Errors)
	}
	return nil
}

func runServe(ctx context.Context, cfgPath string) error {
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	// The app context derives from ctx, so a signal closes both.
	reason := app.StopFatalError
	if ctx.Err() != nil {
		reason = app.StopSignal
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}
