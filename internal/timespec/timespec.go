// Package timespec parses playback positions such as "1:30.250", "3/4" or
// "1:00-0.5" into an exact rational time.
package timespec

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// Resolution is the number of ticks per second. It is divisible by every
// MPEG audio sample rate, so frame durations are represented exactly.
const Resolution = 352800000

// maxFracDigits bounds the decimal digits kept after '.'; the rest are below
// one tick.
const maxFracDigits = 9

var (
	// ErrSyntax is matched by every *SyntaxError.
	ErrSyntax = errors.New("invalid time specification")
	// ErrRange reports a time that does not fit the tick counter.
	ErrRange = errors.New("time specification out of range")
)

// SyntaxError describes where parsing stopped.
type SyntaxError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("time spec %q: %s at offset %d", e.Input, e.Msg, e.Pos)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// Time is a signed position in ticks of 1/Resolution seconds.
type Time int64

// Zero is the start of the timeline.
const Zero Time = 0

// FromSeconds converts a float to the nearest tick.
func FromSeconds(s float64) Time {
	return Time(math.Round(s * Resolution))
}

// FromSamples returns the duration of n frames at the given rate.
func FromSamples(n int64, rate int) Time {
	if rate <= 0 {
		return 0
	}
	return Time(mulDivRound(n, Resolution, int64(rate)))
}

// Seconds returns t as a float.
func (t Time) Seconds() float64 {
	return float64(t) / Resolution
}

// Samples returns the frame index at the given rate, rounded to nearest.
func (t Time) Samples(rate int) int64 {
	return mulDivRound(int64(t), int64(rate), Resolution)
}

func (t Time) Add(u Time) Time { return t + u }
func (t Time) Sub(u Time) Time { return t - u }
func (t Time) Neg() Time       { return -t }

// Cmp returns -1, 0 or +1.
func (t Time) Cmp(u Time) int {
	switch {
	case t < u:
		return -1
	case t > u:
		return 1
	}
	return 0
}

// String formats t as [-]H:MM:SS[.fffffffff], a form Parse accepts.
func (t Time) String() string {
	var b strings.Builder
	v := int64(t)
	if v < 0 {
		b.WriteByte('-')
		v = -v
	}
	sec := v / Resolution
	rem := v % Resolution
	fmt.Fprintf(&b, "%d:%02d:%02d", sec/3600, sec/60%60, sec%60)
	if rem != 0 {
		ns := mulDivRound(rem, 1e9, Resolution)
		if ns > 0 {
			frac := strings.TrimRight(fmt.Sprintf("%09d", ns), "0")
			b.WriteByte('.')
			b.WriteString(frac)
		}
	}
	return b.String()
}

// ParseSeconds is Parse followed by Seconds, for callers that count samples.
func ParseSeconds(s string) (float64, error) {
	t, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return t.Seconds(), nil
}

// Parse reads a sum of terms. Each term is an optionally signed
// colon form (H:M:S.frac, every ':' scales the accumulator by 60),
// a fraction n/d, or a decimal number.
func Parse(s string) (Time, error) {
	p := parser{in: s, pos: 0}
	p.skipSpace()
	if p.eof() {
		return 0, p.fail("empty input")
	}

	var acc Time
	for {
		term, err := p.term()
		if err != nil {
			return 0, err
		}
		acc += term
		if p.eof() || (p.peek() != '+' && p.peek() != '-') {
			break
		}
	}

	p.skipSpace()
	if !p.eof() {
		return 0, p.fail("unexpected character " + strconv.QuoteRune(rune(p.peek())))
	}
	return acc, nil
}

// MustParse is Parse for constants in tests and defaults.
func MustParse(s string) Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	in  string
	pos int
}

func (p *parser) eof() bool  { return p.pos >= len(p.in) }
func (p *parser) peek() byte { return p.in[p.pos] }

func (p *parser) skipSpace() {
	for !p.eof() && strings.IndexByte(" \t\n\r\v\f", p.peek()) >= 0 {
		p.pos++
	}
}

func (p *parser) fail(msg string) error {
	return &SyntaxError{Input: p.in, Pos: p.pos, Msg: msg}
}

// digits consumes a run of decimal digits.
func (p *parser) digits() string {
	start := p.pos
	for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
		p.pos++
	}
	return p.in[start:p.pos]
}

func (p *parser) integer() (int64, error) {
	d := p.digits()
	if d == "" {
		return 0, p.fail("expected digits")
	}
	n, err := strconv.ParseInt(d, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("time spec %q: %w", p.in, ErrRange)
	}
	return n, nil
}

func (p *parser) term() (Time, error) {
	minus := false
	switch p.peek() {
	case '-':
		minus = true
		p.pos++
	case '+':
		p.pos++
	}
	if p.eof() {
		return 0, p.fail("missing value after sign")
	}

	var seconds int64
	colons := 0
	for {
		n, err := p.integer()
		if err != nil {
			return 0, err
		}
		if seconds, err = addChecked(seconds, n); err != nil {
			return 0, fmt.Errorf("time spec %q: %w", p.in, err)
		}
		if p.eof() || p.peek() != ':' {
			break
		}
		p.pos++
		colons++
		if seconds, err = mulChecked(seconds, 60); err != nil {
			return 0, fmt.Errorf("time spec %q: %w", p.in, err)
		}
	}

	ticks, err := mulChecked(seconds, Resolution)
	if err != nil {
		return 0, fmt.Errorf("time spec %q: %w", p.in, err)
	}

	if !p.eof() {
		switch p.peek() {
		case '.':
			p.pos++
			frac := p.digits()
			if frac == "" {
				return 0, p.fail("expected digits after '.'")
			}
			if len(frac) > maxFracDigits {
				frac = frac[:maxFracDigits]
			}
			num, _ := strconv.ParseInt(frac, 10, 64)
			den := int64(math.Pow10(len(frac)))
			if ticks, err = addChecked(ticks, mulDivRound(num, Resolution, den)); err != nil {
				return 0, fmt.Errorf("time spec %q: %w", p.in, err)
			}
		case '/':
			if colons > 0 {
				return 0, p.fail("fraction after colon form")
			}
			p.pos++
			den, err := p.integer()
			if err != nil {
				return 0, err
			}
			if den == 0 {
				return 0, p.fail("zero denominator")
			}
			ticks = mulDivRound(seconds, Resolution, den)
		}
	}

	if minus {
		ticks = -ticks
	}
	return Time(ticks), nil
}

func addChecked(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrRange
	}
	return s, nil
}

func mulChecked(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a {
		return 0, ErrRange
	}
	return c, nil
}

// mulDivRound computes a*b/c rounded to nearest with a 128-bit intermediate.
// c must be positive; results that overflow saturate.
func mulDivRound(a, b, c int64) int64 {
	neg := false
	if a < 0 {
		a, neg = -a, !neg
	}
	if b < 0 {
		b, neg = -b, !neg
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	lo, carry := bits.Add64(lo, uint64(c)/2, 0)
	hi += carry
	if hi >= uint64(c) {
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		q = math.MaxInt64
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}
