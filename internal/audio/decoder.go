package audio

import "encoding/binary"

// FloatScale maps a float sample in [-1, 1] onto int16 with a little headroom.
const FloatScale = 32700

// ClampInt16 saturates v to the int16 range.
func ClampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// FloatsToSamples converts float samples to int16 by multiplying by FloatScale.
func FloatsToSamples(dst []int16, src []float64) []int16 {
	dst = dst[:0]
	for _, v := range src {
		dst = append(dst, ClampInt16(v*FloatScale))
	}
	return dst
}

// Float32sToSamples scales float32 decoder output by scale and clips it
// symmetrically to +-limit.
func Float32sToSamples(dst []int16, src []float32, scale, limit float64) []int16 {
	dst = dst[:0]
	for _, f := range src {
		v := float64(f) * scale
		if v > limit {
			v = limit
		} else if v < -limit {
			v = -limit
		}
		dst = append(dst, int16(v))
	}
	return dst
}

// IntToFloat normalises a signed PCM integer of the given bit depth to [-1, 1).
// 8-bit input is unsigned as stored in WAV files.
func IntToFloat(v, bitDepth int) float64 {
	switch bitDepth {
	case 8:
		return float64(v-128) / 128
	case 16:
		return float64(v) / 32768
	case 24:
		return float64(v) / 8388608
	case 32:
		return float64(int32(v)) / 2147483648
	}
	return 0
}

// DownmixStereo averages interleaved stereo pairs into mono, in place.
// It returns the mono prefix of samples.
func DownmixStereo(samples []int16) []int16 {
	n := len(samples) / 2
	for i := 0; i < n; i++ {
		samples[i] = int16((int32(samples[2*i]) + int32(samples[2*i+1])) / 2)
	}
	return samples[:n]
}

// BytesToSamples decodes little-endian int16 PCM, dropping a trailing odd byte.
func BytesToSamples(dst []int16, b []byte) []int16 {
	dst = dst[:0]
	for i := 0; i+1 < len(b); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(b[i:])))
	}
	return dst
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	return AppendSamples(make([]byte, 0, len(samples)*2), samples)
}

// AppendSamples appends samples to dst as little-endian bytes.
func AppendSamples(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}
