package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	BitDepth       = 16
	BytesPerSample = BitDepth / 8
	MaxChannels    = 2

	// DefaultBufferDuration is the device-side buffer requested from the driver.
	DefaultBufferDuration = 100 * time.Millisecond

	// ReceiveFrames is how many processed frames the pipeline pulls per call.
	ReceiveFrames = 2048
)

var (
	// ErrSinkOpen is returned when a sink is opened a second time.
	ErrSinkOpen = errors.New("audio device already open")
	// ErrNotOpen is returned when samples are pushed before Open.
	ErrNotOpen = errors.New("audio device not open")
	// ErrFormat reports a sample rate or channel count the pipeline cannot carry.
	ErrFormat = errors.New("unsupported audio format")
)

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate checks the format can be played.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrFormat, f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: %d channels", ErrFormat, f.Channels)
	}
	return nil
}

// FrameBytes is the size of one interleaved frame.
func (f Format) FrameBytes() int {
	return f.Channels * BytesPerSample
}

// Duration converts a frame count to wall time.
func (f Format) Duration(frames int64) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	mode := "stereo"
	if f.Channels == 1 {
		mode = "mono"
	}
	return fmt.Sprintf("%d Hz %s", f.SampleRate, mode)
}
