// Package signal provides helpers for raw audio:
// 	- convert interleaved int samples to non-interleaved floats and back
//	- encode int samples as little-endian bytes of audio/x-raw buffers
package signal

import (
	"encoding/binary"
	"math"
	"time"
)

// Float64 is a non-interleaved float64 signal.
type Float64 [][]float64

const (
	// BitDepth8 is 8 bit depth.
	BitDepth8 = BitDepth(8)
	// BitDepth16 is 16 bit depth.
	BitDepth16 = BitDepth(16)
	// BitDepth32 is 32 bit depth.
	BitDepth32 = BitDepth(32)
)

// InterInt is an interleaved int signal.
type InterInt struct {
	Data        []int
	NumChannels int
	BitDepth
}

// BitDepth contains values required for int-to-float and backward conversion.
type BitDepth int

// SampleSize returns number of bytes per sample.
func (bitDepth BitDepth) SampleSize() int {
	return int(bitDepth) / 8
}

// Format returns audio/x-raw format name of the bit depth.
func (bitDepth BitDepth) Format() string {
	switch bitDepth {
	case BitDepth8:
		return "S8"
	case BitDepth32:
		return "S32LE"
	}
	return "S16LE"
}

// BitDepthOf returns bit depth of audio/x-raw format name. Zero is
// returned for unknown formats.
func BitDepthOf(format string) BitDepth {
	switch format {
	case "S8":
		return BitDepth8
	case "S16LE":
		return BitDepth16
	case "S32LE":
		return BitDepth32
	}
	return 0
}

func (bitDepth BitDepth) max() float64 {
	switch bitDepth {
	case BitDepth8:
		return math.MaxInt8
	case BitDepth16:
		return math.MaxInt16
	case BitDepth32:
		return math.MaxInt32
	default:
		return 1
	}
}

// DurationOf returns time duration of passed samples for this sample rate.
func DurationOf(sampleRate int, samples int64) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// AsFloat64 converts interleaved int signal to float64.
func (ints InterInt) AsFloat64() Float64 {
	if ints.Data == nil || ints.NumChannels == 0 {
		return nil
	}
	floats := make([][]float64, ints.NumChannels)
	size := int(math.Ceil(float64(len(ints.Data)) / float64(ints.NumChannels)))
	max := ints.BitDepth.max()
	for i := range floats {
		floats[i] = make([]float64, size)
		pos := 0
		for j := i; j < len(ints.Data); j += ints.NumChannels {
			floats[i][pos] = float64(ints.Data[j]) / max
			pos++
		}
	}
	return floats
}

// AsInterInt converts float64 signal to interleaved int. Values are
// clipped to [-1, 1].
func (floats Float64) AsInterInt(bitDepth BitDepth) InterInt {
	numChannels := len(floats)
	if numChannels == 0 {
		return InterInt{BitDepth: bitDepth}
	}
	max := bitDepth.max() - 1
	ints := make([]int, len(floats[0])*numChannels)
	for j := range floats {
		for i, v := range floats[j] {
			ints[i*numChannels+j] = int(math.Max(-1, math.Min(1, v)) * max)
		}
	}
	return InterInt{Data: ints, NumChannels: numChannels, BitDepth: bitDepth}
}

// EmptyFloat64 returns an empty buffer of specified dimentions.
func EmptyFloat64(numChannels int, bufferSize int) Float64 {
	result := make([][]float64, numChannels)
	for i := range result {
		result[i] = make([]float64, bufferSize)
	}
	return result
}

// NumChannels returns number of channels in this sample slice
func (floats Float64) NumChannels() int {
	return len(floats)
}

// Size returns number of samples in single block in this sample slice
func (floats Float64) Size() int {
	if floats.NumChannels() == 0 {
		return 0
	}
	return len(floats[0])
}

// Bytes encodes samples as little-endian bytes.
func (ints InterInt) Bytes() []byte {
	size := ints.BitDepth.SampleSize()
	b := make([]byte, len(ints.Data)*size)
	for i, v := range ints.Data {
		switch ints.BitDepth {
		case BitDepth8:
			b[i] = byte(int8(v))
		case BitDepth32:
			binary.LittleEndian.PutUint32(b[i*4:], uint32(int32(v)))
		default:
			binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(v)))
		}
	}
	return b
}

// FromBytes decodes little-endian samples. Trailing incomplete sample is
// ignored.
func FromBytes(b []byte, numChannels int, bitDepth BitDepth) InterInt {
	size := bitDepth.SampleSize()
	if size == 0 {
		return InterInt{NumChannels: numChannels, BitDepth: bitDepth}
	}
	ints := make([]int, len(b)/size)
	for i := range ints {
		switch bitDepth {
		case BitDepth8:
			ints[i] = int(int8(b[i]))
		case BitDepth32:
			ints[i] = int(int32(binary.LittleEndian.Uint32(b[i*4:])))
		default:
			ints[i] = int(int16(binary.LittleEndian.Uint16(b[i*2:])))
		}
	}
	return InterInt{Data: ints, NumChannels: numChannels, BitDepth: bitDepth}
}
