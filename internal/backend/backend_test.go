package backend

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/satindergrewal/stretchplay/internal/audio"
	"github.com/satindergrewal/stretchplay/internal/audio/audiotest"
	"github.com/satindergrewal/stretchplay/internal/control"
	"github.com/satindergrewal/stretchplay/internal/timespec"
)

// harness is a session wired to an in-memory sink and a passthrough
// processor, so emitted frames equal decoded frames.
type harness struct {
	sink *audiotest.Sink
	proc *audiotest.Passthrough
	sess *Session
	ctrl *control.Controller
}

func newHarness(t *testing.T, w Window, keys control.KeySource) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := &harness{
		sink: &audiotest.Sink{},
		proc: &audiotest.Passthrough{},
	}
	pipe := audio.NewPipeline(h.sink, h.proc)
	h.ctrl = control.New(control.Options{Keys: keys, Cancel: cancel}, control.DefaultParams())
	h.ctrl.Attach(h.proc)
	h.sess = NewSession(ctx, pipe, h.ctrl, w, 0)
	return h
}

// script is a KeySource returning one chunk per read.
type script [][]byte

func (s *script) Read(p []byte) (int, error) {
	if len(*s) == 0 {
		return 0, nil
	}
	n := copy(p, (*s)[0])
	*s = (*s)[1:]
	return n, nil
}

// keysAt presses key on poll number at.
func keysAt(at int, key string) *script {
	s := make(script, at+1)
	s[at] = []byte(key)
	return &s
}

func window(begin, end string) Window {
	var w Window
	if begin != "" {
		w.Begin, w.HasBegin = timespec.MustParse(begin), true
	}
	if end != "" {
		w.End, w.HasEnd = timespec.MustParse(end), true
	}
	return w
}

func openFile(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func offset(t *testing.T, f *os.File) int64 {
	t.Helper()
	off, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		t.Fatal(err)
	}
	return off
}

// --- Window ---

func TestWindowValidate(t *testing.T) {
	tests := []struct {
		w  Window
		ok bool
	}{
		{Window{}, true},
		{window("1", "9"), true},
		{window("", "9"), true},
		{window("5", "5"), true},
		{window("9", "1"), false},
		{window("-1", ""), false},
	}
	for _, tt := range tests {
		if err := tt.w.Validate(); (err == nil) != tt.ok {
			t.Errorf("Validate(%+v) = %v, want ok=%v", tt.w, err, tt.ok)
		}
	}
}

// --- Dispatch ---

type fakeBackend struct {
	name  string
	err   error
	read  int // bytes consumed from the shared descriptor before answering
	calls *[]string
	start *[]int64
}

func (b fakeBackend) Name() string { return b.name }

func (b fakeBackend) Play(s *Session, f *os.File) error {
	off, _ := f.Seek(0, io.SeekCurrent)
	*b.start = append(*b.start, off)
	*b.calls = append(*b.calls, b.name)
	if b.read > 0 {
		f.Read(make([]byte, b.read))
	}
	return b.err
}

func TestDispatchOrderAndRewind(t *testing.T) {
	f := openFile(t, writeFile(t, "x.bin", make([]byte, 64)))
	h := newHarness(t, Window{}, nil)

	var calls []string
	var starts []int64
	backends := []Backend{
		fakeBackend{name: "a", err: ErrNotRecognized, read: 16, calls: &calls, start: &starts},
		fakeBackend{name: "b", err: ErrNotRecognized, read: 32, calls: &calls, start: &starts},
		fakeBackend{name: "c", calls: &calls, start: &starts},
		fakeBackend{name: "d", calls: &calls, start: &starts},
	}
	if err := Dispatch(h.sess, f, backends); err != nil {
		t.Fatalf("Dispatch = %v, want nil", err)
	}
	if len(calls) != 3 || calls[2] != "c" {
		t.Errorf("calls = %v, want [a b c]", calls)
	}
	for i, off := range starts {
		if off != 0 {
			t.Errorf("backend %s started at offset %d, want 0", calls[i], off)
		}
	}
}

func TestDispatchFatalStops(t *testing.T) {
	f := openFile(t, writeFile(t, "x.bin", []byte("data")))
	h := newHarness(t, Window{}, nil)
	boom := errors.New("boom")

	var calls []string
	var starts []int64
	backends := []Backend{
		fakeBackend{name: "a", err: boom, calls: &calls, start: &starts},
		fakeBackend{name: "b", calls: &calls, start: &starts},
	}
	err := Dispatch(h.sess, f, backends)
	if !errors.Is(err, boom) {
		t.Errorf("Dispatch = %v, want boom", err)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want only a", calls)
	}
}

func TestDispatchCancelledIsSuccess(t *testing.T) {
	f := openFile(t, writeFile(t, "x.bin", []byte("data")))
	h := newHarness(t, Window{}, nil)
	var calls []string
	var starts []int64
	err := Dispatch(h.sess, f, []Backend{fakeBackend{name: "a", err: context.Canceled, calls: &calls, start: &starts}})
	if err != nil {
		t.Errorf("Dispatch = %v, want nil", err)
	}
}

func TestDispatchUnrecognizedText(t *testing.T) {
	f := openFile(t, writeFile(t, "notes.txt", []byte("neither sampled audio nor compressed\n")))
	h := newHarness(t, Window{}, nil)

	err := Dispatch(h.sess, f, Default())
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Dispatch = %v, want ErrUnsupported", err)
	}
	if off := offset(t, f); off != 0 {
		t.Errorf("offset after dispatch = %d, want 0", off)
	}
	if h.sink.Opens != 0 {
		t.Errorf("sink opened %d times, want 0", h.sink.Opens)
	}
}

func TestDispatchRandomBytesLeaveOffsetZero(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 20; i++ {
		data := make([]byte, 1+rng.IntN(8192))
		for j := range data {
			data[j] = byte(rng.UintN(256))
		}
		f := openFile(t, writeFile(t, "random.bin", data))
		h := newHarness(t, Window{}, nil)

		err := Dispatch(h.sess, f, Default())
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("case %d: Dispatch = %v, want ErrUnsupported", i, err)
		}
		if off := offset(t, f); off != 0 {
			t.Errorf("case %d: offset = %d, want 0", i, off)
		}
	}
}

func TestDispatchEmptyFile(t *testing.T) {
	f := openFile(t, writeFile(t, "empty", nil))
	h := newHarness(t, Window{}, nil)
	if err := Dispatch(h.sess, f, Default()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Dispatch = %v, want ErrUnsupported", err)
	}
}

// --- Session ---

func TestSessionOpenTwice(t *testing.T) {
	h := newHarness(t, Window{}, nil)
	f := audio.Format{SampleRate: 44100, Channels: 2}
	if err := h.sess.Open(f); err != nil {
		t.Fatal(err)
	}
	if err := h.sess.Open(f); !errors.Is(err, audio.ErrSinkOpen) {
		t.Errorf("second Open = %v, want ErrSinkOpen", err)
	}
	h.sess.Close()
	h.sess.Close()
	if h.sink.Closes != 1 {
		t.Errorf("Closes = %d, want 1", h.sink.Closes)
	}
}

func TestSessionFinishSkippedAfterQuit(t *testing.T) {
	h := newHarness(t, Window{}, keysAt(0, "q"))
	if err := h.sess.Open(audio.Format{SampleRate: 8000, Channels: 1}); err != nil {
		t.Fatal(err)
	}
	if err := h.sess.Poll(nil); err != nil {
		t.Fatal(err)
	}
	if !h.sess.Quit() {
		t.Fatal("Quit = false after q")
	}
	if err := h.sess.Finish(); err != nil {
		t.Errorf("Finish = %v", err)
	}
	if h.sink.Drains != 0 || h.proc.Flushed {
		t.Errorf("drained after quit: drains=%d flushed=%v", h.sink.Drains, h.proc.Flushed)
	}
}
