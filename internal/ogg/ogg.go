// Package ogg splits an Ogg bitstream into pages and reassembles the
// packets carried in them.
package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	headerSize  = 27
	maxSegments = 255

	flagContinued = 0x01
	flagBOS       = 0x02
	flagEOS       = 0x04
)

var capturePattern = []byte("OggS")

// ErrVersion is returned for pages with a stream structure version other than 0.
var ErrVersion = errors.New("ogg: unsupported page version")

// Page is one parsed Ogg page.
type Page struct {
	HeaderType byte
	Granule    int64
	Serial     uint32
	Sequence   uint32
	Lacing     []byte
	Body       []byte
}

func (p *Page) Continued() bool { return p.HeaderType&flagContinued != 0 }
func (p *Page) BOS() bool       { return p.HeaderType&flagBOS != 0 }
func (p *Page) EOS() bool       { return p.HeaderType&flagEOS != 0 }

// Sync accumulates raw bytes and cuts them into CRC-checked pages,
// skipping garbage between them.
type Sync struct {
	buf     []byte
	skipped int64
}

// Write appends data to the sync buffer.
func (s *Sync) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Skipped returns the number of bytes discarded while hunting for pages.
func (s *Sync) Skipped() int64 { return s.skipped }

// PageOut returns the next complete page, or nil when more data is needed.
func (s *Sync) PageOut() (*Page, error) {
	for {
		i := bytes.Index(s.buf, capturePattern)
		if i < 0 {
			keep := min(len(s.buf), len(capturePattern)-1)
			s.skip(len(s.buf) - keep)
			return nil, nil
		}
		s.skip(i)
		if len(s.buf) < headerSize {
			return nil, nil
		}
		nseg := int(s.buf[26])
		if len(s.buf) < headerSize+nseg {
			return nil, nil
		}
		lacing := s.buf[headerSize : headerSize+nseg]
		bodyLen := 0
		for _, l := range lacing {
			bodyLen += int(l)
		}
		total := headerSize + nseg + bodyLen
		if len(s.buf) < total {
			return nil, nil
		}

		raw := s.buf[:total]
		if binary.LittleEndian.Uint32(raw[22:26]) != pageChecksum(raw) {
			// False capture pattern or corruption: resync one byte later.
			s.skip(1)
			continue
		}
		if raw[4] != 0 {
			s.skip(total)
			return nil, ErrVersion
		}

		page := &Page{
			HeaderType: raw[5],
			Granule:    int64(binary.LittleEndian.Uint64(raw[6:14])),
			Serial:     binary.LittleEndian.Uint32(raw[14:18]),
			Sequence:   binary.LittleEndian.Uint32(raw[18:22]),
			Lacing:     append([]byte(nil), lacing...),
			Body:       append([]byte(nil), raw[headerSize+nseg:]...),
		}
		s.discard(total)
		return page, nil
	}
}

// skip drops n bytes that did not form a usable page.
func (s *Sync) skip(n int) {
	if n > 0 {
		s.skipped += int64(n)
		s.discard(n)
	}
}

func (s *Sync) discard(n int) {
	if n <= 0 {
		return
	}
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
}

// Packet is one reassembled logical packet.
type Packet struct {
	Data []byte
	// Number counts packets from 0 in stream order.
	Number int64
	// Granule is the page granule position when the packet completes the
	// page, otherwise -1.
	Granule int64
	BOS     bool
	EOS     bool
}

// Stream reassembles packets for one logical bitstream. It locks onto the
// serial number of the first page it is given.
type Stream struct {
	serial  uint32
	locked  bool
	partial []byte
	inPart  bool
	queue   []Packet
	next    int64
	lastSeq uint32
	lost    int
}

// Serial returns the serial number the stream is locked to.
func (s *Stream) Serial() uint32 { return s.serial }

// Lost returns how many pages were detected missing from the sequence.
func (s *Stream) Lost() int { return s.lost }

// PageIn splits a page into packets. Pages of other streams are ignored.
func (s *Stream) PageIn(p *Page) {
	if !s.locked {
		s.serial, s.locked = p.Serial, true
		s.lastSeq = p.Sequence - 1
	}
	if p.Serial != s.serial {
		return
	}
	if p.Sequence != s.lastSeq+1 {
		s.lost++
		s.partial, s.inPart = nil, false
	}
	s.lastSeq = p.Sequence

	skipCont := p.Continued() && !s.inPart
	if !p.Continued() && s.inPart {
		s.partial, s.inPart = nil, false
	}

	body := p.Body
	completed := false
	for _, l := range p.Lacing {
		seg := body[:l]
		body = body[l:]
		if skipCont {
			if l < maxSegments {
				skipCont = false
			}
			continue
		}
		s.partial = append(s.partial, seg...)
		s.inPart = true
		if l < maxSegments {
			pkt := Packet{
				Data:    s.partial,
				Number:  s.next,
				Granule: -1,
				BOS:     p.BOS() && !completed,
			}
			s.queue = append(s.queue, pkt)
			s.next++
			s.partial, s.inPart = nil, false
			completed = true
		}
	}
	if completed {
		last := &s.queue[len(s.queue)-1]
		last.Granule = p.Granule
		last.EOS = p.EOS()
	}
}

// PacketOut pops the next complete packet.
func (s *Stream) PacketOut() (Packet, bool) {
	if len(s.queue) == 0 {
		return Packet{}, false
	}
	pkt := s.queue[0]
	s.queue = s.queue[1:]
	return pkt, true
}

var crcTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

// pageChecksum computes the page CRC with the checksum field taken as zero.
func pageChecksum(page []byte) uint32 {
	var crc uint32
	for i, b := range page {
		if i >= 22 && i < 26 {
			b = 0
		}
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}
