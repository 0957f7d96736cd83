package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeCurve fills a table of n smoothstep gains rising from 0 towards 1.
// The fade-out gain for step i is 1 - curve[i], so the pair always sums to one.
func FadeCurve(n int) []float64 {
	curve := make([]float64, n)
	for i := range curve {
		curve[i] = Smoothstep(float64(i) / float64(n))
	}
	return curve
}

// CrossfadeFrames blends interleaved outgoing frames into incoming frames
// in place of dst, stepping the curve once per frame. All slices hold
// len(curve)*channels samples.
func CrossfadeFrames(dst, outgoing, incoming, curve []float64, channels int) {
	for i, gain := range curve {
		base := i * channels
		for c := 0; c < channels; c++ {
			dst[base+c] = outgoing[base+c]*(1-gain) + incoming[base+c]*gain
		}
	}
}
