package stretch

// fifo is an interleaved float sample queue measured in frames.
type fifo struct {
	channels int
	buf      []float64
	start    int
}

func newFIFO(channels int) *fifo {
	return &fifo{channels: channels}
}

// frames returns the number of queued frames.
func (f *fifo) frames() int {
	return (len(f.buf) - f.start) / f.channels
}

// data returns the queued samples without copying.
func (f *fifo) data() []float64 {
	return f.buf[f.start:]
}

func (f *fifo) write(samples []float64) {
	f.compact()
	f.buf = append(f.buf, samples...)
}

// writeZeros appends n silent frames.
func (f *fifo) writeZeros(n int) {
	f.compact()
	for i := 0; i < n*f.channels; i++ {
		f.buf = append(f.buf, 0)
	}
}

// skip drops up to n frames from the front.
func (f *fifo) skip(n int) {
	n = min(n, f.frames())
	f.start += n * f.channels
	if f.start == len(f.buf) {
		f.buf = f.buf[:0]
		f.start = 0
	}
}

// truncate keeps only the first n frames.
func (f *fifo) truncate(n int) {
	if n < f.frames() {
		f.buf = f.buf[:f.start+n*f.channels]
	}
}

func (f *fifo) clear() {
	f.buf = f.buf[:0]
	f.start = 0
}

// compact reclaims consumed space once it dominates the buffer.
func (f *fifo) compact() {
	if f.start > 0 && f.start >= len(f.buf)/2 {
		n := copy(f.buf, f.buf[f.start:])
		f.buf = f.buf[:n]
		f.start = 0
	}
}
