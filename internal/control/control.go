// Package control turns single keystrokes into tempo, pitch, seek and quit
// actions while audio plays.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
)

// DefaultSeekStep is the jump in seconds for the seek keys.
const DefaultSeekStep = 5.0

// ErrSeekUnsupported is logged when a seek key is pressed and the current
// decoder cannot seek.
var ErrSeekUnsupported = errors.New("seek not supported")

// KeySource yields pending input bytes without blocking. Read returns 0 and
// a nil error when no key is waiting.
type KeySource interface {
	Read(p []byte) (int, error)
}

// Tuner receives parameter changes.
type Tuner interface {
	SetTempo(tempo float64)
	SetPitch(ratio float64)
}

// SeekFunc moves the decode position by delta seconds.
type SeekFunc func(delta float64) error

// Options configures a Controller.
type Options struct {
	Keys      KeySource
	Status    io.Writer // receives the status line
	Verbosity int
	SeekStep  float64
	Cancel    context.CancelFunc // called on quit
}

// Controller polls a KeySource and applies one action per pending key.
type Controller struct {
	opts   Options
	keymap *Keymap
	params Params
	tuner  Tuner

	pending []byte
	stale   bool
	buf     [32]byte
	quit    bool
}

// New returns a Controller with the given starting parameters.
func New(opts Options, params Params) *Controller {
	if opts.SeekStep == 0 {
		opts.SeekStep = DefaultSeekStep
	}
	return &Controller{
		opts:   opts,
		keymap: DefaultKeymap(),
		params: params.Clamp(),
	}
}

// Attach starts sending parameter changes to t, beginning with the current
// values.
func (c *Controller) Attach(t Tuner) {
	c.tuner = t
	if t != nil {
		t.SetTempo(c.params.Tempo)
		t.SetPitch(c.params.PitchRatio())
	}
}

// Params returns the current settings.
func (c *Controller) Params() Params { return c.params }

// Quit reports whether the quit key was pressed.
func (c *Controller) Quit() bool { return c.quit }

// Poll handles at most one pending key. seek may be nil when the caller
// cannot seek. It never blocks.
func (c *Controller) Poll(seek SeekFunc) error {
	key, ok, err := c.next()
	if err != nil || !ok {
		return err
	}
	return c.Handle(key, seek)
}

// Handle applies the action bound to key.
func (c *Controller) Handle(key Key, seek SeekFunc) error {
	switch key {
	case 'l', KeyRight:
		return c.seek(seek, c.opts.SeekStep)
	case 'h', KeyLeft:
		return c.seek(seek, -c.opts.SeekStep)
	case '+':
		c.params.AddTempo(TempoStep)
		c.retune()
	case '-':
		c.params.AddTempo(-TempoStep)
		c.retune()
	case 'c':
		c.params.AddCents(-1)
		c.retune()
	case 'C':
		c.params.AddCents(1)
		c.retune()
	case 's', KeyDown:
		c.params.AddCents(-100)
		c.retune()
	case 'S', KeyUp:
		c.params.AddCents(100)
		c.retune()
	case 'q', KeyF10:
		c.quit = true
		if c.opts.Cancel != nil {
			c.opts.Cancel()
		}
		return nil
	default:
		return nil
	}
	c.printStatus()
	return nil
}

func (c *Controller) seek(seek SeekFunc, delta float64) error {
	if seek == nil {
		if c.opts.Verbosity >= 1 {
			log.Printf("Seek %+g s: %v", delta, ErrSeekUnsupported)
		}
		c.printStatus()
		return nil
	}
	if err := seek(delta); err != nil {
		return fmt.Errorf("seek %+g s: %w", delta, err)
	}
	c.printStatus()
	return nil
}

func (c *Controller) retune() {
	if c.tuner == nil {
		return
	}
	c.tuner.SetTempo(c.params.Tempo)
	c.tuner.SetPitch(c.params.PitchRatio())
}

func (c *Controller) printStatus() {
	if c.opts.Verbosity < 1 || c.opts.Status == nil {
		return
	}
	fmt.Fprintf(c.opts.Status, "%3.0f%% speed %7d cents\r", c.params.Tempo*100, c.params.Cents)
}

// next returns the next decoded key, reading from the source when the
// pending buffer cannot yield one.
func (c *Controller) next() (Key, bool, error) {
	if k, ok := c.decode(); ok {
		return k, true, nil
	}
	if c.opts.Keys == nil {
		return 0, false, nil
	}
	n, err := c.opts.Keys.Read(c.buf[:])
	if n > 0 {
		c.pending = append(c.pending, c.buf[:n]...)
		c.stale = false
	} else if len(c.pending) > 0 {
		// Nothing more arrived: a dangling prefix is a bare escape.
		c.stale = true
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, false, err
	}
	k, ok := c.decode()
	return k, ok, nil
}

func (c *Controller) decode() (Key, bool) {
	if len(c.pending) == 0 {
		return 0, false
	}
	k, n, more := c.keymap.Decode(c.pending)
	if more {
		if !c.stale {
			return 0, false
		}
		k, n = KeyEscape, 1
		c.stale = false
	}
	c.pending = c.pending[n:]
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return k, true
}
