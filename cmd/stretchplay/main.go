package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/satindergrewal/stretchplay/internal/audio"
	"github.com/satindergrewal/stretchplay/internal/backend"
	"github.com/satindergrewal/stretchplay/internal/config"
	"github.com/satindergrewal/stretchplay/internal/control"
	"github.com/satindergrewal/stretchplay/internal/stretch"
	"github.com/satindergrewal/stretchplay/internal/terminal"
)

func main() {
	os.Exit(run())
}

func run() int {
	prog := filepath.Base(os.Args[0])
	log.SetFlags(0)
	log.SetPrefix(prog + ": ")

	cfg := config.Load()
	if err := cfg.Parse(prog, os.Args[1:], os.Stderr); err != nil {
		return 1
	}
	if cfg.ShowVersion {
		fmt.Fprintf(os.Stderr, "stretchplay %s\n", config.Version)
		return 0
	}

	window := backend.Window{
		Begin:    cfg.Begin,
		End:      cfg.End,
		HasBegin: cfg.HasBegin,
		HasEnd:   cfg.HasEnd,
	}
	if err := window.Validate(); err != nil {
		log.Printf("Invalid play range: %v", err)
		return 1
	}

	tty, err := terminal.Open(os.Stdin)
	if err != nil {
		log.Printf("Terminal setup failed: %v", err)
		return 1
	}
	defer tty.Restore()
	stop := tty.HandleSignals()
	defer stop()

	f, err := os.Open(cfg.Filename)
	if err != nil {
		log.Printf("Can not open %s: %v, aborting...", cfg.Filename, err)
		return 1
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := stretch.New(stretch.Options{
		SequenceMS:   cfg.SequenceMS,
		OverlapMS:    cfg.OverlapMS,
		SeekWindowMS: cfg.SeekWindowMS,
		QuickSeek:    cfg.QuickSeek,
		AntiAlias:    cfg.AntiAlias,
	})
	pipeline := audio.NewPipeline(audio.NewOtoSink(cfg.BufferSize), proc)

	ctrl := control.New(control.Options{
		Keys:      tty,
		Status:    os.Stdout,
		Verbosity: cfg.Verbosity,
		SeekStep:  cfg.SeekStep,
		Cancel:    cancel,
	}, control.Params{Tempo: cfg.Tempo, Cents: cfg.Cents})
	ctrl.Attach(proc)

	sess := backend.NewSession(ctx, pipeline, ctrl, window, cfg.Verbosity)
	defer sess.Close()

	err = backend.Dispatch(sess, f, backend.Default())
	switch {
	case err == nil:
		return 0
	case errors.Is(err, backend.ErrUnsupported):
		log.Printf("%s: %v", cfg.Filename, err)
	default:
		log.Printf("Playback failed: %v", err)
	}
	return 1
}
