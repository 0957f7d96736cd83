package stretch

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
	"github.com/cwbudde/algo-dsp/dsp/interp"
)

const (
	// aaOrder is the Butterworth order of the anti-alias low-pass.
	aaOrder = 8
	// aaMargin places the cutoff below the narrower Nyquist limit.
	aaMargin = 0.9
	// unityTolerance is how close to 1 a ratio must be to skip filtering.
	unityTolerance = 1e-6
)

// transposer resamples by ratio with 4-point Hermite interpolation. A ratio
// above 1 reads input faster, raising pitch and shortening the signal.
//
// When decimating, input is low-passed at nyquist/ratio before interpolation;
// when expanding, output is low-passed at nyquist*ratio to remove images.
type transposer struct {
	rate      int
	channels  int
	ratio     float64
	antiAlias bool

	in  *fifo
	pos float64 // read position in frames relative to in

	pre, post  []*biquad.Chain
	filterFreq float64
	frame      []float64
}

func newTransposer(rate, channels int, antiAlias bool) *transposer {
	r := &transposer{
		rate:      rate,
		channels:  channels,
		ratio:     1,
		antiAlias: antiAlias,
		in:        newFIFO(channels),
		frame:     make([]float64, channels),
	}
	r.reset()
	return r
}

// reset discards buffered input. One silent frame precedes the stream so
// the first output frame has a left neighbour.
func (r *transposer) reset() {
	r.in.clear()
	r.in.writeZeros(1)
	r.pos = 1
	r.pre, r.post = nil, nil
	r.filterFreq = 0
}

func (r *transposer) setRatio(ratio float64) {
	r.ratio = ratio
}

// latency is the input lookahead held back to interpolate the last frames.
func (r *transposer) latency() int {
	return 3
}

// process appends the transposed version of in to out.
func (r *transposer) process(in, out []float64) []float64 {
	if r.antiAlias && r.ratio > 1+unityTolerance {
		chains := r.chains(&r.pre, 0.5*float64(r.rate)/r.ratio*aaMargin)
		filtered := make([]float64, len(in))
		for i, v := range in {
			filtered[i] = chains[i%r.channels].ProcessSample(v)
		}
		in = filtered
	}
	r.in.write(in)

	first := len(out)
	out = r.interpolate(out)

	if r.antiAlias && r.ratio < 1-unityTolerance {
		chains := r.chains(&r.post, 0.5*float64(r.rate)*r.ratio*aaMargin)
		for i := first; i < len(out); i++ {
			out[i] = chains[(i-first)%r.channels].ProcessSample(out[i])
		}
	}
	return out
}

func (r *transposer) interpolate(out []float64) []float64 {
	ch := r.channels
	for {
		idx := int(r.pos)
		if idx+2 >= r.in.frames() {
			break
		}
		t := r.pos - float64(idx)
		data := r.in.data()
		for c := 0; c < ch; c++ {
			xm1 := data[(idx-1)*ch+c]
			x0 := data[idx*ch+c]
			x1 := data[(idx+1)*ch+c]
			x2 := data[(idx+2)*ch+c]
			r.frame[c] = interp.Hermite4(t, xm1, x0, x1, x2)
		}
		out = append(out, r.frame...)
		r.pos += r.ratio
	}

	// Keep one frame of history behind the read position.
	if drop := int(r.pos) - 1; drop > 0 {
		drop = min(drop, r.in.frames())
		r.in.skip(drop)
		r.pos -= float64(drop)
	}
	return out
}

// chains returns per-channel low-pass cascades tuned to freq, designing or
// retuning them when the cutoff moved.
func (r *transposer) chains(set *[]*biquad.Chain, freq float64) []*biquad.Chain {
	freq = math.Min(freq, 0.49*float64(r.rate))
	if *set != nil && freq == r.filterFreq {
		return *set
	}
	coeffs := design.ButterworthLP(freq, aaOrder, float64(r.rate))
	if *set == nil {
		// Switching between pre and post filtering starts from a clean state.
		r.pre, r.post = nil, nil
		chains := make([]*biquad.Chain, r.channels)
		for c := range chains {
			chains[c] = biquad.NewChain(coeffs)
		}
		*set = chains
	} else {
		// Same order, same sections: carry the delay lines over.
		for i, c := range *set {
			next := biquad.NewChain(coeffs)
			if next.NumSections() == c.NumSections() {
				next.SetState(c.State())
			}
			(*set)[i] = next
		}
	}
	r.filterFreq = freq
	return *set
}
