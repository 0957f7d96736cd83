// Package backend tries an input file with each decoder in turn and plays
// it through the session's pipeline.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/sys/unix"

	"github.com/satindergrewal/stretchplay/internal/audio"
	"github.com/satindergrewal/stretchplay/internal/control"
	"github.com/satindergrewal/stretchplay/internal/timespec"
)

var (
	// ErrNotRecognized is returned by a backend that does not handle the
	// input. The descriptor is back at offset 0 when it is returned.
	ErrNotRecognized = errors.New("format not recognized")
	// ErrUnsupported means no backend recognized the input.
	ErrUnsupported = errors.New("unsupported file format")
	// ErrVersion reports a stream written for an incompatible decoder version.
	ErrVersion = errors.New("incompatible stream version")
)

// Window restricts playback to [Begin, End] of the file timeline.
type Window struct {
	Begin    timespec.Time
	End      timespec.Time
	HasBegin bool
	HasEnd   bool
}

// Validate checks the bounds are non-negative and ordered.
func (w Window) Validate() error {
	if w.HasBegin && w.Begin < 0 {
		return fmt.Errorf("begin %v is negative", w.Begin)
	}
	if w.HasEnd && w.End < 0 {
		return fmt.Errorf("end %v is negative", w.End)
	}
	if w.HasBegin && w.HasEnd && w.End < w.Begin {
		return fmt.Errorf("end %v is before begin %v", w.End, w.Begin)
	}
	return nil
}

// Session carries the per-playback state every backend shares.
type Session struct {
	ctx       context.Context
	pipeline  *audio.Pipeline
	control   *control.Controller
	window    Window
	verbosity int
}

// NewSession bundles a playback. ctx is cancelled to quit.
func NewSession(ctx context.Context, p *audio.Pipeline, c *control.Controller, w Window, verbosity int) *Session {
	return &Session{ctx: ctx, pipeline: p, control: c, window: w, verbosity: verbosity}
}

// Window returns the playback bounds.
func (s *Session) Window() Window { return s.window }

// Logf logs when verbosity is at least level.
func (s *Session) Logf(level int, format string, args ...any) {
	if s.verbosity >= level {
		log.Printf(format, args...)
	}
}

// Quit reports whether playback has been cancelled.
func (s *Session) Quit() bool { return s.ctx.Err() != nil }

// Poll runs the control surface once. seek is nil for backends that cannot
// seek.
func (s *Session) Poll(seek control.SeekFunc) error {
	if s.Quit() || s.control == nil {
		return nil
	}
	return s.control.Poll(seek)
}

// Opened reports whether the output has been opened.
func (s *Session) Opened() bool { return s.pipeline.Opened() }

// Open opens the output for f. It fails if called twice.
func (s *Session) Open(f audio.Format) error {
	if err := s.pipeline.Open(f); err != nil {
		return fmt.Errorf("open audio output: %w", err)
	}
	s.Logf(2, "Output %s", f)
	return nil
}

// Push sends decoded samples through the processor to the output.
func (s *Session) Push(samples []int16) error {
	return s.pipeline.Push(s.ctx, samples)
}

// Finish drains the processor into the output after a normal end of
// stream. After a quit nothing is drained.
func (s *Session) Finish() error {
	if s.Quit() {
		return nil
	}
	return s.pipeline.Finish(s.ctx)
}

// Close closes the output if it was opened.
func (s *Session) Close() error {
	return s.pipeline.Close()
}

// Backend decodes one family of formats.
type Backend interface {
	Name() string
	// Play returns ErrNotRecognized when the input is not this backend's
	// format, nil after playing it and any other error on failure.
	Play(s *Session, f *os.File) error
}

// Default returns the backends in probe order.
func Default() []Backend {
	return []Backend{WAV{}, Opus{}, MPEG{}}
}

// Dispatch offers f to each backend until one claims it.
func Dispatch(s *Session, f *os.File, backends []Backend) error {
	for _, b := range backends {
		err := b.Play(s, f)
		if errors.Is(err, ErrNotRecognized) {
			s.Logf(2, "%s: %v", b.Name(), err)
			if _, serr := f.Seek(0, io.SeekStart); serr != nil {
				return fmt.Errorf("rewind %s: %w", f.Name(), serr)
			}
			continue
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", b.Name(), err)
		}
		return nil
	}
	return ErrUnsupported
}

// dupFile returns an independent handle on f's open file. It shares the
// file offset with f.
func dupFile(f *os.File) (*os.File, error) {
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return nil, fmt.Errorf("duplicate descriptor: %w", err)
	}
	unix.CloseOnExec(fd)
	return os.NewFile(uintptr(fd), f.Name()), nil
}

// notRecognized rewinds r and reports ErrNotRecognized.
func notRecognized(r io.Seeker) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}
	return ErrNotRecognized
}
