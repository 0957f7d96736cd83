package backend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/stretchplay/internal/audio"
	"github.com/satindergrewal/stretchplay/internal/ogg"
)

const (
	// Opus always decodes at 48 kHz regardless of the input rate in the header.
	opusRate = 48000
	// opusMaxFrame is the longest packet duration, 120 ms at 48 kHz.
	opusMaxFrame = 5760
	// opusReadSize is the chunk fed to the Ogg sync layer per read.
	opusReadSize = 200

	opusScale = 32768
	opusLimit = 32000
)

var (
	opusHeadMagic = []byte("OpusHead")
	opusTagsMagic = []byte("OpusTags")

	errOpusHeader = errors.New("invalid Opus identification header")
)

type opusHead struct {
	version   int
	channels  int
	preSkip   int
	inputRate int
	gain      int // Q7.8 dB
	mapping   int
}

func parseOpusHead(b []byte) (opusHead, error) {
	if len(b) < 19 || !bytes.HasPrefix(b, opusHeadMagic) {
		return opusHead{}, errOpusHeader
	}
	h := opusHead{
		version:   int(b[8]),
		channels:  int(b[9]),
		preSkip:   int(binary.LittleEndian.Uint16(b[10:])),
		inputRate: int(binary.LittleEndian.Uint32(b[12:])),
		gain:      int(int16(binary.LittleEndian.Uint16(b[16:]))),
		mapping:   int(b[18]),
	}
	switch {
	case h.version == 0:
		return h, fmt.Errorf("file encoded with an older version of Opus: %w", ErrVersion)
	case h.version >= 16:
		return h, fmt.Errorf("file encoded with a newer version of Opus: %w", ErrVersion)
	case h.mapping != 0:
		return h, fmt.Errorf("channel mapping family %d: %w", h.mapping, errOpusHeader)
	case h.channels < 1 || h.channels > audio.MaxChannels:
		return h, fmt.Errorf("%d channels: %w", h.channels, errOpusHeader)
	}
	return h, nil
}

// opusVendor returns the vendor string of an OpusTags packet.
func opusVendor(b []byte) (string, bool) {
	if len(b) < 12 || !bytes.HasPrefix(b, opusTagsMagic) {
		return "", false
	}
	n := int(binary.LittleEndian.Uint32(b[8:]))
	if n > len(b)-12 {
		return "", false
	}
	return string(b[12 : 12+n]), true
}

// Opus plays Ogg Opus files.
type Opus struct{}

func (Opus) Name() string { return "opus" }

func (Opus) Play(s *Session, f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if _, _, err := oggreader.NewWith(io.NewSectionReader(f, 0, info.Size())); err != nil {
		return ErrNotRecognized
	}

	file, err := dupFile(f)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}

	p := &opusPlayer{s: s}
	defer s.Close()
	return p.play(file)
}

type opusPlayer struct {
	s   *Session
	dec *opus.Decoder

	head   opusHead
	format audio.Format
	scale  float64

	// pos counts decoded samples per channel; it starts at minus the
	// pre-skip so that 0 is the first sample of the original input.
	pos    int64
	begin  int64
	end    int64
	hasEnd bool
	done   bool

	pcmf []float32
	pcm  []int16
}

func (p *opusPlayer) play(r io.Reader) error {
	var (
		sync   ogg.Sync
		stream ogg.Stream
		buf    = make([]byte, opusReadSize)
	)
	for !p.done && !p.s.Quit() {
		n, rerr := r.Read(buf)
		sync.Write(buf[:n])
		if err := p.drainPages(&sync, &stream); err != nil {
			return err
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read: %w", rerr)
		}
	}
	if p.dec == nil && !p.s.Quit() {
		return errOpusHeader
	}
	if stream.Lost() > 0 {
		p.s.Logf(1, "%d Ogg pages lost", stream.Lost())
	}
	if sync.Skipped() > 0 {
		p.s.Logf(2, "Skipped %d bytes between Ogg pages", sync.Skipped())
	}
	return p.s.Finish()
}

func (p *opusPlayer) drainPages(sync *ogg.Sync, stream *ogg.Stream) error {
	for !p.done && !p.s.Quit() {
		page, err := sync.PageOut()
		if err != nil {
			return err
		}
		if page == nil {
			return nil
		}
		stream.PageIn(page)
		for !p.done && !p.s.Quit() {
			pkt, ok := stream.PacketOut()
			if !ok {
				break
			}
			if pkt.Number == 0 {
				p.s.Logf(2, "Ogg stream %#08x", stream.Serial())
			}
			if err := p.packet(pkt); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *opusPlayer) packet(pkt ogg.Packet) error {
	switch {
	case pkt.Number == 0:
		return p.header(pkt.Data)
	case pkt.Number == 1:
		if vendor, ok := opusVendor(pkt.Data); ok {
			p.s.Logf(2, "Encoded with %s", vendor)
		}
		return nil
	}
	if err := p.s.Poll(nil); err != nil {
		return err
	}
	if p.s.Quit() {
		return nil
	}
	pcm, err := p.decode(pkt.Data)
	if err != nil {
		p.s.Logf(1, "Decode packet %d: %v", pkt.Number, err)
	}
	if pkt.EOS {
		p.done = true
	}
	if len(pcm) == 0 {
		return nil
	}
	return p.s.Push(pcm)
}

func (p *opusPlayer) header(b []byte) error {
	h, err := parseOpusHead(b)
	if err != nil {
		return err
	}
	dec, err := opus.NewDecoder(opusRate, h.channels)
	if err != nil {
		return fmt.Errorf("create Opus decoder: %w", err)
	}
	p.dec = dec
	p.head = h
	p.format = audio.Format{SampleRate: opusRate, Channels: h.channels}
	p.scale = opusScale * math.Pow(10, float64(h.gain)/(20*256))
	p.pos = -int64(h.preSkip)
	p.pcmf = make([]float32, opusMaxFrame*h.channels)
	p.pcm = make([]int16, 0, opusMaxFrame*h.channels)

	w := p.s.Window()
	if w.HasBegin {
		p.begin = w.Begin.Samples(opusRate)
		p.s.Logf(2, "Skip to %v (sample %d)", w.Begin, p.begin)
	}
	if w.HasEnd {
		p.end, p.hasEnd = w.End.Samples(opusRate), true
		p.s.Logf(2, "End at %v (sample %d)", w.End, p.end)
	}
	p.s.Logf(1, "Opus %s, input %d Hz, pre-skip %d", p.format, h.inputRate, h.preSkip)
	return p.s.Open(p.format)
}

// decode returns the part of the packet that falls inside the window.
func (p *opusPlayer) decode(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return nil, errors.New("empty packet")
	}
	n, err := p.dec.DecodeFloat32(data, p.pcmf)
	if err != nil {
		return nil, err
	}
	ch := p.format.Channels
	start := p.pos
	p.pos += int64(n)

	lo := max(start, p.begin)
	hi := p.pos
	if p.hasEnd {
		hi = min(hi, p.end)
		if p.pos >= p.end {
			p.done = true
		}
	}
	if hi <= lo {
		return nil, nil
	}
	frames := p.pcmf[(lo-start)*int64(ch) : (hi-start)*int64(ch)]
	p.pcm = audio.Float32sToSamples(p.pcm, frames, p.scale, opusLimit)
	return p.pcm, nil
}
