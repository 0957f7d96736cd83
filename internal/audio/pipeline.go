package audio

import (
	"context"
	"fmt"
	"log"
)

// Processor is a tempo/pitch engine that buffers input and releases output
// once it has enough of it. Setters take effect for output produced after
// the call; samples already buffered are not dropped.
type Processor interface {
	SetSampleRate(rate int)
	SetChannels(channels int)
	SetTempo(tempo float64)
	SetPitch(ratio float64)
	// Put pushes interleaved frames.
	Put(samples []int16)
	// Receive copies up to len(out)/channels frames into out and returns the
	// number of frames copied, or 0 when too little input is buffered.
	Receive(out []int16) int
	// Flush processes whatever is still buffered, padding as needed.
	Flush()
}

// Pipeline couples a Processor to a Sink. The sink is opened lazily on the
// first block of PCM and exactly once per playback.
type Pipeline struct {
	sink Sink
	proc Processor

	format Format
	opened bool
	closed bool

	out     []int16
	bytes   []byte
	pushed  int64
	written int64
}

// NewPipeline wires proc into sink. Nothing is opened until Open.
func NewPipeline(sink Sink, proc Processor) *Pipeline {
	return &Pipeline{sink: sink, proc: proc}
}

// Open fixes the stream format and opens the sink. A second call fails with
// ErrSinkOpen.
func (p *Pipeline) Open(f Format) error {
	if p.opened {
		return fmt.Errorf("open %s: %w", f, ErrSinkOpen)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if err := p.sink.Open(f); err != nil {
		return err
	}
	p.opened = true
	p.format = f
	p.proc.SetSampleRate(f.SampleRate)
	p.proc.SetChannels(f.Channels)
	p.out = make([]int16, ReceiveFrames*f.Channels)
	p.bytes = make([]byte, 0, len(p.out)*BytesPerSample)
	return nil
}

// Opened reports whether the sink has been opened.
func (p *Pipeline) Opened() bool { return p.opened }

// Format returns the format passed to Open.
func (p *Pipeline) Format() Format { return p.format }

// Pushed returns the number of frames handed to the processor.
func (p *Pipeline) Pushed() int64 { return p.pushed }

// Written returns the number of processed frames written to the sink.
func (p *Pipeline) Written() int64 { return p.written }

// Push feeds interleaved samples to the processor and drains everything it
// has ready into the sink.
func (p *Pipeline) Push(ctx context.Context, samples []int16) error {
	if !p.opened {
		return ErrNotOpen
	}
	if len(samples) == 0 {
		return nil
	}
	p.proc.Put(samples)
	p.pushed += int64(len(samples) / p.format.Channels)
	return p.drain(ctx)
}

// Finish flushes the processor tail and waits for the sink to play out.
// It is a no-op when nothing was ever opened.
func (p *Pipeline) Finish(ctx context.Context) error {
	if !p.opened || p.closed {
		return nil
	}
	p.proc.Flush()
	if err := p.drain(ctx); err != nil {
		return err
	}
	return p.sink.Drain()
}

// Close closes the sink if it was opened. Calling it again is a no-op.
func (p *Pipeline) Close() error {
	if !p.opened || p.closed {
		return nil
	}
	p.closed = true
	if err := p.sink.Close(); err != nil {
		log.Printf("Close audio device: %v", err)
		return err
	}
	return nil
}

func (p *Pipeline) drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := p.proc.Receive(p.out)
		if n == 0 {
			return nil
		}
		p.bytes = AppendSamples(p.bytes[:0], p.out[:n*p.format.Channels])
		if _, err := p.sink.Write(p.bytes); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
		p.written += int64(n)
	}
}
