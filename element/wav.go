package element

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/property"
	"pipelined.dev/pipeline/signal"
)

var (
	// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
	ErrUnsupportedBitDepth = errors.New("only 16 and 32 bit depth is supported")
	// ErrInvalidWav is returned when file is not a valid wav.
	ErrInvalidWav = errors.New("wav is not valid")
	// ErrUnknownFormat is returned when format of the incoming audio
	// stream is not fixed.
	ErrUnknownFormat = errors.New("unknown audio format")
)

// wavReader decodes wav file into raw audio buffers.
type wavReader struct {
	decoder *wav.Decoder
	format  audioFormat
	buffer  *audio.IntBuffer
	offset  int64
}

// newWavReader reads wav header and positions decoder at PCM data.
func newWavReader(rs io.ReadSeeker, samplesPerBuffer int) (*wavReader, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	decoder := wav.NewDecoder(rs)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidWav
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWav, err)
	}
	bitDepth := signal.BitDepth(decoder.BitDepth)
	if bitDepth != signal.BitDepth16 && bitDepth != signal.BitDepth32 {
		return nil, ErrUnsupportedBitDepth
	}
	format := decoder.Format()
	return &wavReader{
		decoder: decoder,
		format: audioFormat{
			rate:     format.SampleRate,
			channels: format.NumChannels,
			bitDepth: bitDepth,
		},
		buffer: &audio.IntBuffer{
			Format:         format,
			Data:           make([]int, samplesPerBuffer*format.NumChannels),
			SourceBitDepth: int(bitDepth),
		},
	}, nil
}

// read returns the next buffer or io.EOF.
func (r *wavReader) read() (pipeline.Buffer, error) {
	n, err := r.decoder.PCMBuffer(r.buffer)
	if err != nil {
		return pipeline.Buffer{}, err
	}
	if n == 0 {
		return pipeline.Buffer{}, io.EOF
	}
	ints := signal.InterInt{
		Data:        r.buffer.Data[:n],
		NumChannels: r.format.channels,
		BitDepth:    r.format.bitDepth,
	}
	samples := int64(n / r.format.channels)
	b := pipeline.Buffer{
		Data:     ints.Bytes(),
		PTS:      signal.DurationOf(r.format.rate, r.offset),
		Duration: signal.DurationOf(r.format.rate, samples),
		Offset:   r.offset,
	}
	r.offset += samples
	return b, nil
}

type wavFileSink struct {
	c       *pipeline.Component
	props   *property.Set
	file    *os.File
	encoder *wav.Encoder
	format  audioFormat
}

// NewWavFileSink returns sink that encodes raw audio into wav file.
// Format of the file is taken from the incoming stream.
func NewWavFileSink(name string) *pipeline.Component {
	s := wavFileSink{
		props: property.NewSet(locationSpec),
	}
	s.c = pipeline.NewComponent(name, "wavfilesink", pipeline.KindSink, s.props,
		pipeline.Behavior{
			Open:  s.open,
			Start: s.start,
			Sink:  s.sink,
			Flush: s.flush,
		},
		sinkTemplate(rawAudio),
	)
	return s.c
}

func (s *wavFileSink) open(context.Context) error {
	if s.props.String("location") == "" {
		return ErrNoLocation
	}
	return nil
}

func (s *wavFileSink) start(context.Context) error {
	f, err := os.Create(s.props.String("location"))
	if err != nil {
		return fmt.Errorf("could not open file for writing: %w", err)
	}
	s.file = f
	return nil
}

func (s *wavFileSink) sink(_ context.Context, b pipeline.Buffer) error {
	if s.encoder == nil {
		c, ok := upstreamCaps(s.c.Pad("sink"), isAudioFormat)
		if !ok {
			return fmt.Errorf("%w: %v", ErrUnknownFormat, s.c.Pad("sink").Caps())
		}
		format, _ := audioFormatOf(c)
		if format.bitDepth != signal.BitDepth16 && format.bitDepth != signal.BitDepth32 {
			return ErrUnsupportedBitDepth
		}
		s.format = format
		// 1 is PCM audio format.
		s.encoder = wav.NewEncoder(s.file, format.rate, int(format.bitDepth), format.channels, 1)
	}
	ints := signal.FromBytes(b.Data, s.format.channels, s.format.bitDepth)
	return s.encoder.Write(&audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: s.format.channels,
			SampleRate:  s.format.rate,
		},
		Data:           ints.Data,
		SourceBitDepth: int(s.format.bitDepth),
	})
}

// flush finalizes the file.
func (s *wavFileSink) flush(context.Context) error {
	var errs []error
	if s.encoder != nil {
		errs = append(errs, s.encoder.Close())
		s.encoder = nil
	}
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
	}
	return errors.Join(errs...)
}
