// Package stretch changes tempo and pitch of interleaved 16-bit audio
// independently, in a streaming fashion.
//
// Pitch is shifted by resampling with the pitch ratio, which also scales
// duration; a WSOLA stage then restores the duration to the requested tempo.
package stretch

import (
	"math"

	"github.com/satindergrewal/stretchplay/internal/audio"
)

const (
	MinPitch = 1.0 / 16
	MaxPitch = 16.0

	MinTempo = 0.01
	MaxTempo = 16.0
)

// Options tunes the time stretcher.
type Options struct {
	SequenceMS   float64
	OverlapMS    float64
	SeekWindowMS float64
	QuickSeek    bool
	AntiAlias    bool
}

// DefaultOptions favours quality over CPU: full seek, anti-alias on.
func DefaultOptions() Options {
	return Options{
		SequenceMS:   82,
		OverlapMS:    10,
		SeekWindowMS: 28,
		QuickSeek:    false,
		AntiAlias:    true,
	}
}

// Processor implements audio.Processor.
type Processor struct {
	opts     Options
	rate     int
	channels int
	tempo    float64
	pitch    float64

	rt  *transposer
	tds *tdStretch
	out *fifo

	scratch  []float64
	mid      []float64
	expected float64 // output frames owed for the input received so far
	produced int64
}

var _ audio.Processor = (*Processor)(nil)

// New returns a processor for 44.1 kHz stereo at unity tempo and pitch.
// The rate and channel count are normally set again before the first Put.
func New(opts Options) *Processor {
	p := &Processor{
		opts:     opts,
		rate:     44100,
		channels: 2,
		tempo:    1,
		pitch:    1,
	}
	p.rebuild()
	return p
}

func (p *Processor) rebuild() {
	p.rt = newTransposer(p.rate, p.channels, p.opts.AntiAlias)
	p.tds = newTDStretch(p.rate, p.channels, p.opts)
	p.out = newFIFO(p.channels)
	p.expected = 0
	p.produced = 0
	p.apply()
}

func (p *Processor) apply() {
	p.rt.setRatio(p.pitch)
	p.tds.setTempo(p.tempo / p.pitch)
}

// SetSampleRate resets the engine when the rate changes.
func (p *Processor) SetSampleRate(rate int) {
	if rate > 0 && rate != p.rate {
		p.rate = rate
		p.rebuild()
	}
}

// SetChannels resets the engine when the channel count changes.
func (p *Processor) SetChannels(channels int) {
	if channels > 0 && channels != p.channels {
		p.channels = channels
		p.rebuild()
	}
}

// SetTempo sets the playback speed ratio; 2 plays twice as fast.
func (p *Processor) SetTempo(tempo float64) {
	p.tempo = clamp(tempo, MinTempo, MaxTempo)
	p.apply()
}

// SetPitch sets the frequency ratio. It is clamped to [MinPitch, MaxPitch].
func (p *Processor) SetPitch(ratio float64) {
	p.pitch = clamp(ratio, MinPitch, MaxPitch)
	p.apply()
}

// Tempo returns the effective tempo ratio.
func (p *Processor) Tempo() float64 { return p.tempo }

// Pitch returns the effective pitch ratio.
func (p *Processor) Pitch() float64 { return p.pitch }

func (p *Processor) Put(samples []int16) {
	frames := len(samples) / p.channels
	if frames == 0 {
		return
	}
	p.scratch = p.scratch[:0]
	for _, s := range samples[:frames*p.channels] {
		p.scratch = append(p.scratch, float64(s))
	}
	p.expected += float64(frames) / p.tempo
	p.run(p.scratch)
}

func (p *Processor) run(in []float64) {
	p.mid = p.rt.process(in, p.mid[:0])
	before := p.out.frames()
	p.out.write(p.tds.process(p.mid, nil))
	p.produced += int64(p.out.frames() - before)
}

func (p *Processor) Receive(out []int16) int {
	n := min(p.out.frames(), len(out)/p.channels)
	if n == 0 {
		return 0
	}
	for i, v := range p.out.data()[:n*p.channels] {
		out[i] = audio.ClampInt16(math.Round(v))
	}
	p.out.skip(n)
	return n
}

// Flush pushes silence through until the output owed for all input has been
// produced, then drops whatever the padding generated beyond that.
func (p *Processor) Flush() {
	owed := int64(math.Round(p.expected))
	pad := make([]float64, 0, 1024*p.channels)
	for range 1024 * p.channels {
		pad = append(pad, 0)
	}
	limit := p.tds.required() + p.rt.latency() + int(float64(p.tds.required())*p.pitch) + 1024
	for fed := 0; p.produced < owed && fed < limit*4; fed += 1024 {
		p.run(pad)
	}
	if p.produced > owed {
		extra := int(p.produced - owed)
		p.out.truncate(max(p.out.frames()-extra, 0))
		p.produced = owed
	}
}

// Available returns the number of frames ready for Receive.
func (p *Processor) Available() int { return p.out.frames() }

func clamp(v, lo, hi float64) float64 {
	if v < lo || math.IsNaN(v) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
