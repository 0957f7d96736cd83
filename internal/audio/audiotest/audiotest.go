// Package audiotest provides in-memory sinks and processors for tests.
package audiotest

import (
	"sync"

	"github.com/satindergrewal/stretchplay/internal/audio"
)

// Sink records everything written to it.
type Sink struct {
	mu sync.Mutex

	OpenErr error
	Format  audio.Format
	Opens   int
	Closes  int
	Drains  int
	Data    []byte

	// OnWrite runs after each write with the total bytes written so far.
	OnWrite func(total int)
}

func (s *Sink) Open(f audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.Opens++
	if s.Opens > 1 {
		return audio.ErrSinkOpen
	}
	s.Format = f
	return nil
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.Data = append(s.Data, p...)
	total := len(s.Data)
	hook := s.OnWrite
	s.mu.Unlock()
	if hook != nil {
		hook(total)
	}
	return len(p), nil
}

func (s *Sink) Drain() error {
	s.mu.Lock()
	s.Drains++
	s.mu.Unlock()
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	s.Closes++
	s.mu.Unlock()
	return nil
}

// Frames returns the number of complete frames written.
func (s *Sink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Format.Channels == 0 {
		return 0
	}
	return len(s.Data) / s.Format.FrameBytes()
}

// Samples decodes the written bytes.
func (s *Sink) Samples() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.BytesToSamples(nil, s.Data)
}

// Passthrough is a Processor that releases input unchanged once at least
// Threshold frames are queued. It records every setting it receives.
type Passthrough struct {
	Threshold int

	Rate     int
	Channels int
	Tempo    float64
	Pitch    float64
	Flushed  bool

	queue []int16
}

func (p *Passthrough) SetSampleRate(rate int)  { p.Rate = rate }
func (p *Passthrough) SetChannels(channels int) { p.Channels = channels }
func (p *Passthrough) SetTempo(tempo float64)   { p.Tempo = tempo }
func (p *Passthrough) SetPitch(ratio float64)   { p.Pitch = ratio }

func (p *Passthrough) Put(samples []int16) {
	p.queue = append(p.queue, samples...)
}

func (p *Passthrough) Receive(out []int16) int {
	ch := p.Channels
	if ch == 0 {
		ch = 1
	}
	queued := len(p.queue) / ch
	if queued == 0 || (!p.Flushed && queued < p.Threshold) {
		return 0
	}
	n := min(queued, len(out)/ch)
	copy(out, p.queue[:n*ch])
	p.queue = p.queue[n*ch:]
	return n
}

func (p *Passthrough) Flush() { p.Flushed = true }

// Buffered returns the frames still held.
func (p *Passthrough) Buffered() int {
	if p.Channels == 0 {
		return len(p.queue)
	}
	return len(p.queue) / p.Channels
}
