package backend

import (
	"bytes"
	"fmt"

	"github.com/satindergrewal/stretchplay/internal/timespec"
)

// Layer III bitrates in kbit/s by bitrate index, for MPEG-1 and MPEG-2 LSF.
var (
	mpeg1Bitrates = [15]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320}
	mpeg2Bitrates = [15]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160}

	mpeg1Rates = [3]int{44100, 48000, 32000}
	mpeg2Rates = [3]int{22050, 24000, 16000}
)

const (
	mpegHeaderSize  = 4
	mpegFrameMax    = 2000 // largest frame the decoder accepts
	mpegGranuleSize = 576
)

// mpegHeader is a decoded MPEG audio Layer III frame header.
type mpegHeader struct {
	lsf      int // 0 for MPEG-1, 1 for MPEG-2
	bitrate  int // bit/s
	rate     int
	padding  int
	channels int
}

// parseMPEGHeader decodes the four header bytes at the start of b. MPEG-2.5,
// layers other than III and free-format streams are rejected.
func parseMPEGHeader(b []byte) (mpegHeader, bool) {
	if len(b) < mpegHeaderSize || b[0] != 0xff || b[1]&0xe0 != 0xe0 {
		return mpegHeader{}, false
	}
	var h mpegHeader
	switch (b[1] >> 3) & 3 {
	case 3:
		h.lsf = 0
	case 2:
		h.lsf = 1
	default:
		return mpegHeader{}, false
	}
	if (b[1]>>1)&3 != 1 {
		return mpegHeader{}, false
	}
	bi := int(b[2] >> 4)
	ri := int(b[2]>>2) & 3
	if bi == 0 || bi == 15 || ri == 3 || b[3]&3 == 2 {
		return mpegHeader{}, false
	}
	if h.lsf == 0 {
		h.bitrate = mpeg1Bitrates[bi] * 1000
		h.rate = mpeg1Rates[ri]
	} else {
		h.bitrate = mpeg2Bitrates[bi] * 1000
		h.rate = mpeg2Rates[ri]
	}
	h.padding = int(b[2]>>1) & 1
	h.channels = 2
	if b[3]>>6 == 3 {
		h.channels = 1
	}
	return h, true
}

// frameLen is the frame size in bytes including the header, computed the
// way go-mp3 computes it.
func (h mpegHeader) frameLen() int {
	return ((144*h.bitrate)/h.rate + h.padding) >> h.lsf
}

// samples is the number of PCM frames one frame decodes to.
func (h mpegHeader) samples() int {
	return 2 * mpegGranuleSize >> h.lsf
}

// pcmBytes is the size of the decoder's 16-bit stereo output for one frame.
func (h mpegHeader) pcmBytes() int {
	return h.samples() * 4
}

func (h mpegHeader) duration() timespec.Time {
	return timespec.FromSamples(int64(h.samples()), h.rate)
}

// sameStream reports whether o can belong to the stream h started.
func (h mpegHeader) sameStream(o mpegHeader) bool {
	return h.lsf == o.lsf && h.rate == o.rate
}

func (h mpegHeader) String() string {
	mode := "stereo"
	if h.channels == 1 {
		mode = "mono"
	}
	return fmt.Sprintf("MPEG-%d Layer III, %d Hz %s, %d kbit/s", h.lsf+1, h.rate, mode, h.bitrate/1000)
}

// skipID3v2 returns the offset just past a leading ID3v2 tag, or 0.
func skipID3v2(b []byte) int {
	if len(b) < 10 || !bytes.HasPrefix(b, []byte("ID3")) || b[3] == 0xff || b[4] == 0xff {
		return 0
	}
	size := 0
	for _, c := range b[6:10] {
		if c&0x80 != 0 {
			return 0
		}
		size = size<<7 | int(c)
	}
	n := 10 + size
	if b[5]&0x10 != 0 {
		n += 10 // footer
	}
	return min(n, len(b))
}

// frameAt reports whether a frame of the stream started by ref begins at
// pos. A frame found right where the previous one ended only has to fit in
// the data. Otherwise it must be followed by another header of the same
// stream, by an ID3v1 tag or by the end of data. When probing, ref is nil
// and only a following header confirms a frame, except for a frame that
// starts at first and fills the data exactly.
func frameAt(data []byte, pos int, ref *mpegHeader, first int, contiguous bool) (mpegHeader, bool) {
	h, ok := parseMPEGHeader(data[pos:])
	if !ok || ref != nil && !ref.sameStream(h) {
		return h, false
	}
	n := h.frameLen()
	if n <= mpegHeaderSize || n > mpegFrameMax {
		return h, false
	}
	end := pos + n
	switch {
	case end > len(data):
		return h, false
	case contiguous && ref != nil:
		return h, true
	case end == len(data):
		return h, ref != nil || pos == first
	}
	if next, ok := parseMPEGHeader(data[end:]); ok && h.sameStream(next) {
		return h, true
	}
	return h, ref != nil && bytes.HasPrefix(data[end:], []byte("TAG"))
}

// findFrame scans data from off for the next frame. It returns the frame
// offset and header, or -1 when none is left.
func findFrame(data []byte, off int, ref *mpegHeader, first int) (int, mpegHeader) {
	for pos := off; pos+mpegHeaderSize <= len(data); pos++ {
		i := bytes.IndexByte(data[pos:], 0xff)
		if i < 0 {
			break
		}
		pos += i
		if pos+mpegHeaderSize > len(data) {
			break
		}
		if h, ok := frameAt(data, pos, ref, first, pos == off); ok {
			return pos, h
		}
	}
	return -1, mpegHeader{}
}
