package audio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Sink is a blocking PCM output. Write returns once every byte has been
// accepted, which is what paces the decoding pipeline.
type Sink interface {
	Open(f Format) error
	io.Writer
	// Drain waits for accepted audio to finish playing.
	Drain() error
	// Close releases the device. It is safe on a sink that was never opened.
	Close() error
}

// OtoSink plays through the default output device using oto.
//
// oto pulls from a reader on its own goroutine; the sink hands it the read
// end of a pipe so Write blocks until the device has room.
type OtoSink struct {
	bufferSize time.Duration

	mu     sync.Mutex
	format Format
	ctx    *oto.Context
	player *oto.Player
	pw     *io.PipeWriter
	closed bool
}

// NewOtoSink returns an unopened sink that will request the given device
// buffer size.
func NewOtoSink(bufferSize time.Duration) *OtoSink {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferDuration
	}
	return &OtoSink{bufferSize: bufferSize}
}

func (s *OtoSink) Open(f Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.player != nil || s.closed {
		return ErrSinkOpen
	}
	if err := f.Validate(); err != nil {
		return err
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   s.bufferSize,
	})
	if err != nil {
		return fmt.Errorf("open audio device (%s): %w", f, err)
	}
	<-ready

	pr, pw := io.Pipe()
	s.ctx = ctx
	s.format = f
	s.pw = pw
	s.player = ctx.NewPlayer(pr)
	s.player.Play()
	return nil
}

func (s *OtoSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	pw := s.pw
	s.mu.Unlock()
	if pw == nil {
		return 0, ErrNotOpen
	}
	return pw.Write(p)
}

func (s *OtoSink) Drain() error {
	s.mu.Lock()
	pw, player := s.pw, s.player
	s.mu.Unlock()
	if player == nil {
		return nil
	}

	// EOF on the pipe lets the player run out once its buffer is empty.
	pw.Close()
	for player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	return player.Err()
}

func (s *OtoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.player == nil {
		return nil
	}
	s.pw.CloseWithError(io.ErrClosedPipe)
	err := s.player.Close()
	s.player = nil
	s.pw = nil
	return err
}
