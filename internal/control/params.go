package control

import "math"

const (
	MinTempo     = 0.02
	MaxTempo     = 5.0
	DefaultTempo = 1.0
	TempoStep    = 0.01

	// MaxCents caps upward pitch at four octaves; downward pitch is unbounded.
	MaxCents       = 4800
	CentsPerOctave = 1200
)

// Params holds the live tempo and pitch settings.
type Params struct {
	Tempo float64
	Cents int
}

// DefaultParams is unity tempo and pitch.
func DefaultParams() Params {
	return Params{Tempo: DefaultTempo}
}

// Clamp brings both values into range.
func (p Params) Clamp() Params {
	if math.IsNaN(p.Tempo) || p.Tempo < MinTempo {
		p.Tempo = MinTempo
	} else if p.Tempo > MaxTempo {
		p.Tempo = MaxTempo
	}
	if p.Cents > MaxCents {
		p.Cents = MaxCents
	}
	return p
}

// AddTempo nudges tempo by delta, staying within [MinTempo, MaxTempo].
func (p *Params) AddTempo(delta float64) {
	p.Tempo += delta
	*p = p.Clamp()
}

// AddCents shifts pitch by delta cents, never above MaxCents.
func (p *Params) AddCents(delta int) {
	p.Cents += delta
	*p = p.Clamp()
}

// PitchRatio is 2^(cents/1200).
func (p Params) PitchRatio() float64 {
	return math.Exp2(float64(p.Cents) / CentsPerOctave)
}
