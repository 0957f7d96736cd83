package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/satindergrewal/stretchplay/internal/audio"
)

// WAV format tags from the fmt chunk.
const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xfffe
)

// wavBlockFrames is how many frames are decoded between control polls.
const wavBlockFrames = 512

var errWAVEncoding = errors.New("unsupported WAV encoding")

// WAV plays RIFF/WAVE files holding integer or float PCM. It is the only
// backend that can seek.
type WAV struct{}

func (WAV) Name() string { return "wav" }

func (WAV) Play(s *Session, f *os.File) error {
	file, err := dupFile(f)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return notRecognized(file)
	}
	if err := dec.FwdToPCM(); err != nil || dec.PCMChunk == nil {
		return notRecognized(file)
	}

	float, ok := sampleFormat(dec, file)
	if !ok {
		s.Logf(2, "WAV format tag %#x is not PCM", dec.WavAudioFormat)
		return notRecognized(file)
	}

	p, err := newWAVPlayer(s, dec, file, float)
	if err != nil {
		return err
	}
	defer s.Close()
	return p.play()
}

type wavPlayer struct {
	s    *Session
	dec  *wav.Decoder
	file *os.File

	format     audio.Format
	bitDepth   int
	float      bool
	blockAlign int64
	dataStart  int64
	total      int64 // frames in the data chunk
	limit      int64 // frame at which playback stops
	pos        int64

	ints   goaudio.IntBuffer
	floats []float64
	pcm    []int16
}

// sampleFormat resolves the format tag, looking through the extensible
// wrapper. ok is false for anything but integer or float PCM.
func sampleFormat(dec *wav.Decoder, r io.ReaderAt) (float, ok bool) {
	tag := dec.WavAudioFormat
	if tag == wavFormatExtensible {
		sub, err := wavSubFormat(r)
		if err != nil {
			return false, false
		}
		tag = sub
	}
	switch tag {
	case wavFormatPCM:
		return false, true
	case wavFormatFloat:
		return true, true
	}
	return false, false
}

// wavSubFormat reads the format code at the head of the sub-format GUID in
// an extensible fmt chunk. The decoder skips the extension, so the chunk
// is located again from the RIFF header.
func wavSubFormat(r io.ReaderAt) (uint16, error) {
	var hdr [8]byte
	off := int64(12)
	for {
		if _, err := r.ReadAt(hdr[:], off); err != nil {
			return 0, fmt.Errorf("find fmt chunk: %w", err)
		}
		size := int64(binary.LittleEndian.Uint32(hdr[4:]))
		if string(hdr[:4]) != "fmt " {
			off += 8 + size + size&1
			continue
		}
		if size < 26 {
			return 0, fmt.Errorf("%d-byte extensible fmt chunk: %w", size, errWAVEncoding)
		}
		var sub [2]byte
		if _, err := r.ReadAt(sub[:], off+8+24); err != nil {
			return 0, fmt.Errorf("read sub-format: %w", err)
		}
		return binary.LittleEndian.Uint16(sub[:]), nil
	}
}

func newWAVPlayer(s *Session, dec *wav.Decoder, file *os.File, float bool) (*wavPlayer, error) {
	p := &wavPlayer{
		s:        s,
		dec:      dec,
		file:     file,
		bitDepth: int(dec.BitDepth),
		float:    float,
		format:   audio.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)},
	}
	if p.float {
		if p.bitDepth != 32 {
			return nil, fmt.Errorf("%d-bit float samples: %w", p.bitDepth, errWAVEncoding)
		}
	} else {
		switch p.bitDepth {
		case 8, 16, 24, 32:
		default:
			return nil, fmt.Errorf("%d-bit samples: %w", p.bitDepth, errWAVEncoding)
		}
	}
	if err := p.format.Validate(); err != nil {
		return nil, err
	}

	// The riff parser reads the descriptor directly, so the data chunk
	// starts at the current offset.
	start, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("locate PCM data: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	p.dataStart = start
	p.blockAlign = int64(p.format.Channels * p.bitDepth / 8)
	size := min(int64(dec.PCMSize), info.Size()-start)
	p.total = max(size, 0) / p.blockAlign

	p.limit = p.total
	w := s.Window()
	if w.HasEnd {
		p.limit = min(p.total, w.End.Samples(p.format.SampleRate))
		s.Logf(2, "End at %v (frame %d)", w.End, p.limit)
	}
	start = 0
	if w.HasBegin {
		start = w.Begin.Samples(p.format.SampleRate)
		s.Logf(2, "Skip to %v (frame %d)", w.Begin, start)
	}
	if err := p.seekTo(start); err != nil {
		return nil, err
	}

	n := wavBlockFrames * p.format.Channels
	p.ints = goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: p.format.Channels, SampleRate: p.format.SampleRate},
		Data:           make([]int, n),
		SourceBitDepth: p.bitDepth,
	}
	p.floats = make([]float64, 0, n)
	p.pcm = make([]int16, 0, n)
	s.Logf(1, "WAV %s, %d-bit, %v", p.format, p.bitDepth, p.format.Duration(p.total))
	return p, nil
}

// seekTo positions the decoder at frame, clamped to the data chunk.
func (p *wavPlayer) seekTo(frame int64) error {
	frame = min(max(frame, 0), p.total)
	if _, err := p.file.Seek(p.dataStart+frame*p.blockAlign, io.SeekStart); err != nil {
		return fmt.Errorf("seek to frame %d: %w", frame, err)
	}
	p.dec.PCMChunk.R = io.LimitReader(p.file, (p.total-frame)*p.blockAlign)
	p.pos = frame
	return nil
}

// seek moves the position by delta seconds.
func (p *wavPlayer) seek(delta float64) error {
	return p.seekTo(p.pos + int64(math.Round(delta*float64(p.format.SampleRate))))
}

func (p *wavPlayer) play() error {
	ch := p.format.Channels
	for p.pos < p.limit {
		if err := p.s.Poll(p.seek); err != nil {
			return err
		}
		if p.s.Quit() {
			return nil
		}
		if p.pos >= p.limit {
			break
		}

		want := min(int64(wavBlockFrames), p.limit-p.pos)
		p.ints.Data = p.ints.Data[:want*int64(ch)]
		n, err := p.dec.PCMBuffer(&p.ints)
		if err != nil {
			return fmt.Errorf("read PCM: %w", err)
		}
		frames := n / ch
		if frames == 0 {
			break
		}
		p.pos += int64(frames)

		if err := p.emit(p.ints.Data[:frames*ch]); err != nil {
			return err
		}
	}
	return p.s.Finish()
}

func (p *wavPlayer) emit(ints []int) error {
	p.floats = p.floats[:0]
	for _, v := range ints {
		if p.float {
			p.floats = append(p.floats, float64(math.Float32frombits(uint32(v))))
		} else {
			p.floats = append(p.floats, audio.IntToFloat(v, p.bitDepth))
		}
	}
	p.pcm = audio.FloatsToSamples(p.pcm, p.floats)

	if !p.s.Opened() {
		if err := p.s.Open(p.format); err != nil {
			return err
		}
	}
	return p.s.Push(p.pcm)
}
