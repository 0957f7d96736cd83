package backend

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
	"golang.org/x/sys/unix"

	"github.com/satindergrewal/stretchplay/internal/audio"
	"github.com/satindergrewal/stretchplay/internal/timespec"
)

// flow tells the frame feed what to do with a frame.
type flow int

const (
	flowContinue flow = iota // decode the frame
	flowIgnore               // count its duration but do not decode it
	flowStop                 // end of playback
	flowBreak                // end of playback with an error
)

type mpegOptions uint8

const (
	optSkip  mpegOptions = 1 << iota // discard frames before begin
	optTimed                         // stop after the requested duration
)

// mpegMaxErrors bounds consecutive decode errors without a new frame.
const mpegMaxErrors = 8

// mpegPrimeFrames is how many skipped frames are decoded and dropped before
// the first played one, so its bit reservoir and synthesis filter are
// filled.
const mpegPrimeFrames = 2

// MPEG plays MPEG-1 and MPEG-2 Layer III streams.
type MPEG struct{}

func (MPEG) Name() string { return "mpeg" }

func (MPEG) Play(s *Session, f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if info.Size() == 0 || int64(int(info.Size())) != info.Size() {
		return ErrNotRecognized
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return ErrNotRecognized
	}
	defer unix.Munmap(data)

	start := skipID3v2(data)
	pos, first := findFrame(data, start, nil, start)
	if pos < 0 {
		return ErrNotRecognized
	}

	p := newMPEGPlayer(s, data, pos, first)
	defer s.Close()
	return p.play()
}

type mpegFrame struct {
	pos int
	hdr mpegHeader
}

// mpegPlayer feeds accepted frames to go-mp3 and routes each decoded frame
// to the session.
type mpegPlayer struct {
	s    *Session
	data []byte

	stream mpegHeader // first frame; later frames must match it
	opts   mpegOptions
	begin  timespec.Time
	length timespec.Time // how much to play when optTimed is set

	absolute timespec.Time
	playback timespec.Time

	off      int    // where the scan for the next frame starts
	cur      []byte // unread bytes of the frame being decoded
	curHdr   mpegHeader
	curPos   int
	curPrime bool        // the frame being decoded is only there to prime
	primer   []mpegFrame // the last ignored frames
	queue    []mpegFrame // frames to hand over before scanning on
	frames   int64       // frames handed to the decoder
	ended  bool
	err    error

	format audio.Format
	pcm    []int16
}

func newMPEGPlayer(s *Session, data []byte, pos int, first mpegHeader) *mpegPlayer {
	p := &mpegPlayer{s: s, data: data, stream: first, off: pos}
	w := s.Window()
	if w.HasBegin {
		p.opts |= optSkip
		p.begin = w.Begin
		s.Logf(2, "Skip to %v", w.Begin)
	}
	if w.HasEnd {
		p.opts |= optTimed
		p.length = w.End
		if w.HasBegin {
			p.length = w.End.Sub(w.Begin)
		}
		s.Logf(2, "Play for %v", p.length)
	}
	s.Logf(1, "%s", first)
	return p
}

// header decides what happens to the frame described by h.
func (p *mpegPlayer) header(h mpegHeader) flow {
	if p.opts&optTimed != 0 && p.playback.Cmp(p.length) > 0 {
		return flowStop
	}
	d := h.duration()
	p.absolute = p.absolute.Add(d)
	if p.opts&optSkip != 0 && p.absolute.Cmp(p.begin) < 0 {
		return flowIgnore
	}
	p.playback = p.playback.Add(d)
	return flowContinue
}

// filter runs before a frame is decoded.
func (p *mpegPlayer) filter() flow {
	if err := p.s.Poll(nil); err != nil {
		p.err = err
		return flowBreak
	}
	if p.s.Quit() {
		return flowStop
	}
	return flowContinue
}

// output sends one decoded frame of 16-bit stereo PCM to the session.
func (p *mpegPlayer) output(h mpegHeader, pcm []byte) error {
	if !p.s.Opened() {
		p.format = audio.Format{SampleRate: h.rate, Channels: h.channels}
		if err := p.s.Open(p.format); err != nil {
			return err
		}
	}
	p.pcm = audio.BytesToSamples(p.pcm, pcm)
	if p.format.Channels == 1 {
		p.pcm = audio.DownmixStereo(p.pcm)
	}
	return p.s.Push(p.pcm)
}

// Read hands the decoder the bytes of accepted frames, one frame at a time.
func (p *mpegPlayer) Read(b []byte) (int, error) {
	for len(p.cur) == 0 {
		if len(p.queue) > 0 {
			fr := p.queue[0]
			p.queue = p.queue[1:]
			p.cur = p.data[fr.pos : fr.pos+fr.hdr.frameLen()]
			p.curHdr, p.curPos = fr.hdr, fr.pos
			p.curPrime = len(p.queue) > 0
			p.frames++
			continue
		}
		if p.ended {
			return 0, io.EOF
		}
		pos, h := findFrame(p.data, p.off, &p.stream, -1)
		if pos < 0 {
			p.ended = true
			return 0, io.EOF
		}
		if skipped := pos - p.off; skipped > 0 {
			p.s.Logf(2, "Skipped %d bytes of garbage at byte offset %d", skipped, p.off)
		}
		n := h.frameLen()
		p.off = pos + n

		fl := p.header(h)
		if fl == flowContinue {
			fl = p.filter()
		}
		switch fl {
		case flowIgnore:
			p.primer = append(p.primer, mpegFrame{pos, h})
			if len(p.primer) > mpegPrimeFrames {
				p.primer = p.primer[1:]
			}
			continue
		case flowStop, flowBreak:
			p.ended = true
			return 0, io.EOF
		}
		p.queue = append(p.primer, mpegFrame{pos, h})
		p.primer = nil
	}
	n := copy(b, p.cur)
	p.cur = p.cur[n:]
	return n, nil
}

func (p *mpegPlayer) play() error {
	var (
		dec     *mp3.Decoder
		buf     = make([]byte, p.stream.pcmBytes())
		errs    int
		lastErr int64 = -1
	)
	for {
		var err error
		n := 0
		if dec == nil {
			dec, err = mp3.NewDecoder(p)
		} else {
			n, err = dec.Read(buf)
		}
		if p.err != nil {
			return p.err
		}
		if errors.Is(err, io.EOF) || p.ended && err != nil {
			break
		}
		if err != nil {
			p.s.Logf(1, "Decoding error at byte offset %d: %v", p.curPos, err)
			// Drop the rest of the bad frame so the decoder resyncs on the
			// next one.
			p.cur = nil
			if p.frames == lastErr {
				errs++
			} else {
				errs, lastErr = 1, p.frames
			}
			if errs >= mpegMaxErrors {
				break
			}
			continue
		}
		if n == 0 || p.curPrime {
			continue
		}
		if err := p.output(p.curHdr, buf[:n]); err != nil {
			return err
		}
	}
	if p.err != nil {
		return p.err
	}
	p.s.Logf(2, "Played %v of %v decoded", p.playback, p.absolute)
	return p.s.Finish()
}
