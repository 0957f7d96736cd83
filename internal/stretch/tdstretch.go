package stretch

import (
	"math"

	"github.com/satindergrewal/stretchplay/internal/audio"
)

// quickSeekStep is the coarse stride of the two-pass overlap search.
const quickSeekStep = 8

// tdStretch changes duration without touching pitch by cutting the input
// into sequences and splicing them where the waveforms line up best (WSOLA).
//
// Each round emits seqLen-overlap frames and consumes tempo times as many.
type tdStretch struct {
	channels  int
	tempo     float64
	quickSeek bool

	seqLen  int // sequence length in frames
	overlap int // crossfade length in frames
	seekLen int // search window in frames

	in        *fifo
	mid       []float64 // tail of the previous sequence, overlap frames
	curve     []float64
	blend     []float64
	first     bool
	skipFract float64
}

func newTDStretch(rate, channels int, opts Options) *tdStretch {
	ms := func(v float64) int {
		return max(int(math.Round(float64(rate)*v/1000)), 1)
	}
	s := &tdStretch{
		channels:  channels,
		tempo:     1,
		quickSeek: opts.QuickSeek,
		seqLen:    ms(opts.SequenceMS),
		overlap:   ms(opts.OverlapMS),
		seekLen:   ms(opts.SeekWindowMS),
		in:        newFIFO(channels),
	}
	if s.overlap*2 >= s.seqLen {
		s.overlap = max(s.seqLen/4, 1)
	}
	s.mid = make([]float64, s.overlap*channels)
	s.blend = make([]float64, s.overlap*channels)
	s.curve = audio.FadeCurve(s.overlap)
	s.reset()
	return s
}

func (s *tdStretch) reset() {
	s.in.clear()
	for i := range s.mid {
		s.mid[i] = 0
	}
	s.first = true
	s.skipFract = 0
}

func (s *tdStretch) setTempo(tempo float64) {
	s.tempo = tempo
}

// required is the input needed before one round can run.
func (s *tdStretch) required() int {
	skip := int(s.tempo*float64(s.seqLen-s.overlap) + 0.5)
	return max(skip+s.overlap, s.seqLen) + s.seekLen
}

// process queues in and appends every complete round to out.
func (s *tdStretch) process(in, out []float64) []float64 {
	s.in.write(in)
	ch := s.channels
	for s.in.frames() >= s.required() {
		data := s.in.data()

		// The first sequence starts at the first frame so no input is lost.
		var offset int
		if !s.first {
			offset = s.bestOverlap(data)
			audio.CrossfadeFrames(s.blend, s.mid, data[offset*ch:(offset+s.overlap)*ch], s.curve, ch)
			out = append(out, s.blend...)
		}

		body := s.seqLen - 2*s.overlap
		if s.first {
			// Nothing to splice against yet: emit the full first stretch.
			body += s.overlap
			out = append(out, data[offset*ch:(offset+body)*ch]...)
			copy(s.mid, data[(offset+body)*ch:(offset+body+s.overlap)*ch])
		} else {
			start := offset + s.overlap
			out = append(out, data[start*ch:(start+body)*ch]...)
			copy(s.mid, data[(start+body)*ch:(start+body+s.overlap)*ch])
		}
		s.first = false

		s.skipFract += s.tempo * float64(s.seqLen-s.overlap)
		skip := int(s.skipFract)
		s.skipFract -= float64(skip)
		s.in.skip(skip)
	}
	return out
}

// bestOverlap finds the offset within the seek window whose first overlap
// frames correlate best with the retained tail.
func (s *tdStretch) bestOverlap(data []float64) int {
	if !s.quickSeek {
		return s.scan(data, 0, s.seekLen, 1)
	}
	coarse := s.scan(data, 0, s.seekLen, quickSeekStep)
	lo := max(coarse-quickSeekStep+1, 0)
	hi := min(coarse+quickSeekStep, s.seekLen)
	return s.scan(data, lo, hi, 1)
}

func (s *tdStretch) scan(data []float64, lo, hi, step int) int {
	best, bestCorr := lo, math.Inf(-1)
	for off := lo; off < hi; off += step {
		if c := s.correlation(data[off*s.channels : (off+s.overlap)*s.channels]); c > bestCorr {
			best, bestCorr = off, c
		}
	}
	return best
}

// correlation is the cross-correlation with the tail normalised by the
// candidate's energy.
func (s *tdStretch) correlation(cand []float64) float64 {
	var corr, norm float64
	for i, v := range cand {
		corr += v * s.mid[i]
		norm += v * v
	}
	return corr / math.Sqrt(norm+1e-9)
}
