package backend

import (
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/stretchplay/internal/audio"
)

// pion's writer always declares this pre-skip.
const fixturePreSkip = 3840

// writeOpus encodes 20 ms packets of a 440 Hz tone. It returns the path and
// the number of samples per channel the file decodes to.
func writeOpus(t *testing.T, channels, packets int) (string, int) {
	t.Helper()
	const frame = 960
	path := filepath.Join(t.TempDir(), "in.opus")
	w, err := oggwriter.New(path, opusRate, uint16(channels))
	if err != nil {
		t.Fatal(err)
	}
	enc, err := opus.NewEncoder(opusRate, channels, opus.AppAudio)
	if err != nil {
		t.Fatal(err)
	}
	// The writer's Close rewrites the last page assuming one lacing segment,
	// so packets must stay under 255 bytes.
	if err := enc.SetBitrate(24000); err != nil {
		t.Fatal(err)
	}

	pcm := make([]int16, frame*channels)
	data := make([]byte, 4000)
	for p := 0; p < packets; p++ {
		for i := 0; i < frame; i++ {
			v := int16(8000 * math.Sin(2*math.Pi*440*float64(p*frame+i)/opusRate))
			for c := 0; c < channels; c++ {
				pcm[i*channels+c] = v
			}
		}
		n, err := enc.Encode(pcm, data)
		if err != nil {
			t.Fatal(err)
		}
		pkt := &rtp.Packet{
			Header:  rtp.Header{Timestamp: uint32(p * frame)},
			Payload: data[:n],
		}
		if err := w.WriteRTP(pkt); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path, packets * frame
}

func TestOpusPlaysAfterPreSkip(t *testing.T) {
	path, total := writeOpus(t, 2, 50)
	h := newHarness(t, Window{}, nil)
	if err := Dispatch(h.sess, openFile(t, path), Default()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if h.sink.Format != (audio.Format{SampleRate: 48000, Channels: 2}) {
		t.Errorf("format = %v, want 48000 Hz stereo", h.sink.Format)
	}
	if got, want := h.sink.Frames(), total-fixturePreSkip; got != want {
		t.Errorf("frames = %d, want %d", got, want)
	}
	for i, s := range h.sink.Samples() {
		if s > opusLimit || s < -opusLimit {
			t.Fatalf("sample %d = %d outside +-%d", i, s, opusLimit)
		}
	}
	if h.sink.Closes != 1 || h.sink.Drains != 1 {
		t.Errorf("closes/drains = %d/%d, want 1/1", h.sink.Closes, h.sink.Drains)
	}
}

func TestOpusBeginSkipsSamples(t *testing.T) {
	// 48 kHz stereo with -b 2: the first 96000 frames after the pre-skip
	// are decoded but not emitted.
	path, total := writeOpus(t, 2, 150)
	h := newHarness(t, window("2", ""), nil)
	if err := Dispatch(h.sess, openFile(t, path), Default()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got, want := h.sink.Frames(), total-fixturePreSkip-96000; got != want {
		t.Errorf("frames = %d, want %d", got, want)
	}
}

func TestOpusWindowExact(t *testing.T) {
	path, _ := writeOpus(t, 1, 150)
	h := newHarness(t, window("0.5", "2.25"), nil)
	if err := Dispatch(h.sess, openFile(t, path), Default()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got, want := h.sink.Frames(), 84000; got != want {
		t.Errorf("frames = %d, want %d", got, want)
	}
}

func TestOpusQuit(t *testing.T) {
	path, _ := writeOpus(t, 2, 50)
	h := newHarness(t, Window{}, keysAt(5, "q"))
	if err := Dispatch(h.sess, openFile(t, path), Default()); err != nil {
		t.Fatalf("play = %v, want nil after quit", err)
	}
	if h.sink.Drains != 0 {
		t.Errorf("drained %d times after quit", h.sink.Drains)
	}
	if got := h.sink.Frames(); got >= 50*960-fixturePreSkip {
		t.Errorf("frames = %d, want playback cut short", got)
	}
}

func TestOpusSeekUnsupported(t *testing.T) {
	path, total := writeOpus(t, 1, 20)
	h := newHarness(t, Window{}, keysAt(3, "l"))
	if err := Dispatch(h.sess, openFile(t, path), Default()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if got, want := h.sink.Frames(), total-fixturePreSkip; got != want {
		t.Errorf("frames = %d, want %d (seek ignored)", got, want)
	}
}

func TestOpusOpenErrorIsFatal(t *testing.T) {
	path, _ := writeOpus(t, 2, 20)
	h := newHarness(t, Window{}, nil)
	errDevice := errors.New("no audio device")
	h.sink.OpenErr = errDevice

	err := Dispatch(h.sess, openFile(t, path), Default())
	if !errors.Is(err, errDevice) {
		t.Errorf("Dispatch = %v, want %v", err, errDevice)
	}
	if h.sink.Closes != 0 {
		t.Errorf("Closes = %d, want 0", h.sink.Closes)
	}
	if len(h.sink.Data) != 0 {
		t.Errorf("wrote %d bytes, want 0", len(h.sink.Data))
	}
}

func opusHeadBytes(version, channels, mapping byte) []byte {
	b := make([]byte, 19)
	copy(b, "OpusHead")
	b[8] = version
	b[9] = channels
	binary.LittleEndian.PutUint16(b[10:], 312)
	binary.LittleEndian.PutUint32(b[12:], 44100)
	b[18] = mapping
	return b
}

func TestParseOpusHead(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		version bool
		ok      bool
	}{
		{"stereo", opusHeadBytes(1, 2, 0), false, true},
		{"minor bump", opusHeadBytes(15, 1, 0), false, true},
		{"older", opusHeadBytes(0, 2, 0), true, false},
		{"newer", opusHeadBytes(16, 2, 0), true, false},
		{"surround mapping", opusHeadBytes(1, 2, 1), false, false},
		{"no channels", opusHeadBytes(1, 0, 0), false, false},
		{"short", opusHeadBytes(1, 2, 0)[:18], false, false},
		{"magic", append([]byte("OpusTags"), make([]byte, 11)...), false, false},
	}
	for _, tt := range tests {
		h, err := parseOpusHead(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("%s: err = %v, want ok=%v", tt.name, err, tt.ok)
		}
		if errors.Is(err, ErrVersion) != tt.version {
			t.Errorf("%s: err = %v, want ErrVersion=%v", tt.name, err, tt.version)
		}
		if tt.ok && (h.preSkip != 312 || h.inputRate != 44100) {
			t.Errorf("%s: header = %+v", tt.name, h)
		}
	}
}

func TestOpusVendor(t *testing.T) {
	b := append([]byte("OpusTags"), 4, 0, 0, 0)
	b = append(b, "pion"...)
	b = append(b, 0, 0, 0, 0)
	if v, ok := opusVendor(b); !ok || v != "pion" {
		t.Errorf("opusVendor = %q, %v, want pion", v, ok)
	}
	if _, ok := opusVendor(b[:13]); ok {
		t.Error("truncated tags accepted")
	}
}
