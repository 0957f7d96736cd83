package ogg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// buildPage lays out a page with the given lacing and body and a valid CRC.
func buildPage(headerType byte, granule int64, serial, seq uint32, lacing []byte, body []byte) []byte {
	page := make([]byte, headerSize, headerSize+len(lacing)+len(body))
	copy(page, capturePattern)
	page[5] = headerType
	binary.LittleEndian.PutUint64(page[6:], uint64(granule))
	binary.LittleEndian.PutUint32(page[14:], serial)
	binary.LittleEndian.PutUint32(page[18:], seq)
	page[26] = byte(len(lacing))
	page = append(page, lacing...)
	page = append(page, body...)
	binary.LittleEndian.PutUint32(page[22:], pageChecksum(page))
	return page
}

// lace returns lacing values for whole packets.
func lace(packets ...[]byte) ([]byte, []byte) {
	var lacing, body []byte
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		body = append(body, p...)
	}
	return lacing, body
}

func collect(t *testing.T, data []byte, chunk int) []Packet {
	t.Helper()
	var sync Sync
	var st Stream
	var out []Packet
	for len(data) > 0 {
		n := min(chunk, len(data))
		sync.Write(data[:n])
		data = data[n:]
		for {
			page, err := sync.PageOut()
			if err != nil {
				t.Fatalf("PageOut: %v", err)
			}
			if page == nil {
				break
			}
			st.PageIn(page)
			for {
				pkt, ok := st.PacketOut()
				if !ok {
					break
				}
				out = append(out, pkt)
			}
		}
	}
	return out
}

func TestPacketsAcrossChunkSizes(t *testing.T) {
	a := bytes.Repeat([]byte{'a'}, 19)
	b := bytes.Repeat([]byte{'b'}, 300)
	c := []byte{}
	lacing, body := lace(a, b, c)
	stream := buildPage(flagBOS, 960, 7, 0, lacing, body)

	for _, chunk := range []int{1, 3, 200, 4096} {
		pkts := collect(t, stream, chunk)
		if len(pkts) != 3 {
			t.Fatalf("chunk %d: %d packets, want 3", chunk, len(pkts))
		}
		if !bytes.Equal(pkts[0].Data, a) || !bytes.Equal(pkts[1].Data, b) || len(pkts[2].Data) != 0 {
			t.Errorf("chunk %d: packet data mismatch", chunk)
		}
		if !pkts[0].BOS || pkts[1].BOS {
			t.Errorf("chunk %d: BOS flags = %v %v", chunk, pkts[0].BOS, pkts[1].BOS)
		}
		if pkts[0].Granule != -1 || pkts[2].Granule != 960 {
			t.Errorf("chunk %d: granules = %d, %d", chunk, pkts[0].Granule, pkts[2].Granule)
		}
		for i, p := range pkts {
			if p.Number != int64(i) {
				t.Errorf("packet %d numbered %d", i, p.Number)
			}
		}
	}
}

func TestPacketSpanningPages(t *testing.T) {
	big := make([]byte, 600)
	for i := range big {
		big[i] = byte(i)
	}
	tail := []byte("tail")

	p1 := buildPage(flagBOS, -1, 1, 0, []byte{255, 255}, big[:510])
	lacing, body := lace(tail)
	p2 := buildPage(flagContinued|flagEOS, 4800, 1, 1, append([]byte{90}, lacing...), append(big[510:], body...))

	pkts := collect(t, append(p1, p2...), 64)
	if len(pkts) != 2 {
		t.Fatalf("%d packets, want 2", len(pkts))
	}
	if !bytes.Equal(pkts[0].Data, big) {
		t.Error("spanning packet corrupted")
	}
	if pkts[0].EOS || !pkts[1].EOS {
		t.Errorf("EOS flags = %v %v, want false true", pkts[0].EOS, pkts[1].EOS)
	}
	if pkts[1].Granule != 4800 {
		t.Errorf("granule = %d, want 4800", pkts[1].Granule)
	}
}

func TestResyncAfterGarbageAndBadCRC(t *testing.T) {
	lacing, body := lace([]byte("first"))
	good := buildPage(flagBOS, 0, 3, 0, lacing, body)
	bad := buildPage(0, 0, 3, 1, lacing, []byte("brokn"))
	bad[len(bad)-1] ^= 0xff
	lacing2, body2 := lace([]byte("second"))
	good2 := buildPage(0, 0, 3, 1, lacing2, body2)

	var data []byte
	data = append(data, []byte("garbageOgg")...)
	data = append(data, good...)
	data = append(data, bad...)
	data = append(data, good2...)

	pkts := collect(t, data, 7)
	if len(pkts) != 2 {
		t.Fatalf("%d packets, want 2", len(pkts))
	}
	if string(pkts[0].Data) != "first" || string(pkts[1].Data) != "second" {
		t.Errorf("packets = %q, %q", pkts[0].Data, pkts[1].Data)
	}
}

func TestOtherSerialIgnored(t *testing.T) {
	l1, b1 := lace([]byte("mine"))
	l2, b2 := lace([]byte("theirs"))
	data := append(buildPage(flagBOS, 0, 10, 0, l1, b1), buildPage(flagBOS, 0, 11, 0, l2, b2)...)
	pkts := collect(t, data, 1000)
	if len(pkts) != 1 || string(pkts[0].Data) != "mine" {
		t.Errorf("packets = %v, want only serial 10", pkts)
	}
}

func TestLostPageDropsPartial(t *testing.T) {
	half := bytes.Repeat([]byte{1}, 255)
	p1 := buildPage(flagBOS, -1, 2, 0, []byte{255}, half)
	// Sequence 2 follows a missing page 1; its continuation is orphaned.
	lacing, body := lace([]byte("next"))
	p3 := buildPage(flagContinued, 100, 2, 2, append([]byte{10}, lacing...), append(bytes.Repeat([]byte{2}, 10), body...))

	var sync Sync
	var st Stream
	sync.Write(append(p1, p3...))
	for {
		page, _ := sync.PageOut()
		if page == nil {
			break
		}
		st.PageIn(page)
	}
	pkt, ok := st.PacketOut()
	if !ok || string(pkt.Data) != "next" {
		t.Errorf("first packet = %q, %v, want \"next\"", pkt.Data, ok)
	}
	if st.Lost() != 1 {
		t.Errorf("Lost = %d, want 1", st.Lost())
	}
}

func TestVersionRejected(t *testing.T) {
	lacing, body := lace([]byte("x"))
	page := buildPage(0, 0, 1, 0, lacing, body)
	page[4] = 1
	binary.LittleEndian.PutUint32(page[22:], pageChecksum(page))

	var sync Sync
	sync.Write(page)
	if _, err := sync.PageOut(); !errors.Is(err, ErrVersion) {
		t.Errorf("PageOut = %v, want ErrVersion", err)
	}
}

func TestChecksumKnownValue(t *testing.T) {
	// CRC-32/MPEG-2 style register without final xor: "123456789" -> 0x89a1897f.
	var crc uint32
	for _, b := range []byte("123456789") {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	if crc != 0x89a1897f {
		t.Errorf("crc = %#x, want 0x89a1897f", crc)
	}
}

func TestSkippedCountsOnlyGarbage(t *testing.T) {
	l1, b1 := lace([]byte("one"))
	l2, b2 := lace([]byte("two"))
	var data []byte
	data = append(data, "junk"...)
	data = append(data, buildPage(flagBOS, 0, 42, 0, l1, b1)...)
	data = append(data, "OggXnoise"...)
	data = append(data, buildPage(0, 960, 42, 1, l2, b2)...)

	var sync Sync
	var st Stream
	sync.Write(data)
	pages := 0
	for {
		page, err := sync.PageOut()
		if err != nil {
			t.Fatalf("PageOut: %v", err)
		}
		if page == nil {
			break
		}
		st.PageIn(page)
		pages++
	}
	if pages != 2 {
		t.Fatalf("pages = %d, want 2", pages)
	}
	if got := sync.Skipped(); got != int64(len("junk")+len("OggXnoise")) {
		t.Errorf("Skipped = %d, want %d", got, len("junk")+len("OggXnoise"))
	}
	if st.Serial() != 42 {
		t.Errorf("Serial = %d, want 42", st.Serial())
	}
}
