package signal_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pipelined.dev/pipeline/signal"
)

func TestInterIntAsFloat64(t *testing.T) {
	tests := []struct {
		ints        []int
		numChannels int
		bitDepth    signal.BitDepth
		expected    [][]float64
	}{
		{
			ints:        []int{math.MaxInt16, 0, math.MaxInt16, 0},
			numChannels: 2,
			bitDepth:    signal.BitDepth16,
			expected: [][]float64{
				{1, 1},
				{0, 0},
			},
		},
		{
			ints:        []int{math.MaxInt8, math.MaxInt8, math.MaxInt8},
			numChannels: 2,
			bitDepth:    signal.BitDepth8,
			expected: [][]float64{
				{1, 1},
				{1, 0},
			},
		},
		{
			ints:     nil,
			expected: nil,
		},
		{
			ints:     []int{1, 2, 3},
			expected: nil,
		},
	}

	for _, test := range tests {
		ints := signal.InterInt{
			Data:        test.ints,
			NumChannels: test.numChannels,
			BitDepth:    test.bitDepth,
		}
		assert.Equal(t, signal.Float64(test.expected), ints.AsFloat64())
	}
}

func TestFloat64AsInterInt(t *testing.T) {
	tests := []struct {
		floats   [][]float64
		expected []int
	}{
		{
			floats: [][]float64{
				{1, 0},
				{-1, 0},
			},
			expected: []int{math.MaxInt16 - 1, -(math.MaxInt16 - 1), 0, 0},
		},
		{
			// clipped.
			floats:   [][]float64{{2, -3}},
			expected: []int{math.MaxInt16 - 1, -(math.MaxInt16 - 1)},
		},
		{
			floats:   nil,
			expected: nil,
		},
	}

	for _, test := range tests {
		ints := signal.Float64(test.floats).AsInterInt(signal.BitDepth16)
		assert.Equal(t, test.expected, ints.Data)
		assert.Equal(t, signal.BitDepth16, ints.BitDepth)
	}
}

func TestBytes(t *testing.T) {
	for _, bitDepth := range []signal.BitDepth{signal.BitDepth8, signal.BitDepth16, signal.BitDepth32} {
		ints := signal.InterInt{Data: []int{-1, 0, 1, 100}, NumChannels: 2, BitDepth: bitDepth}
		b := ints.Bytes()
		assert.Len(t, b, 4*bitDepth.SampleSize())
		assert.Equal(t, ints, signal.FromBytes(b, 2, bitDepth))
	}
	assert.Equal(t, []byte{0xff, 0xff, 0x01, 0x00}, signal.InterInt{Data: []int{-1, 1}, BitDepth: signal.BitDepth16}.Bytes())
	// incomplete sample.
	assert.Equal(t, []int{1}, signal.FromBytes([]byte{1, 0, 1}, 1, signal.BitDepth16).Data)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "S16LE", signal.BitDepth16.Format())
	assert.Equal(t, signal.BitDepth32, signal.BitDepthOf("S32LE"))
	assert.Equal(t, signal.BitDepth(0), signal.BitDepthOf("F32LE"))
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, time.Second, signal.DurationOf(44100, 44100))
	assert.Equal(t, 500*time.Millisecond, signal.DurationOf(48000, 24000))
	assert.Equal(t, time.Duration(0), signal.DurationOf(0, 100))
}
