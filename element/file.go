package element

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/caps"
	"pipelined.dev/pipeline/property"
)

// ErrNoLocation is returned when file element has no location set.
var ErrNoLocation = errors.New("no file location set")

var blocksizeSpec = property.Spec{
	Name:    "blocksize",
	Blurb:   "Size in bytes to read per buffer",
	Type:    property.Int,
	Default: 4096,
	Min:     1,
	Max:     1 << 24,
}

type fileSrc struct {
	props  *property.Set
	file   *os.File
	block  []byte
	offset int64
}

// NewFileSrc returns source that reads file in blocks.
func NewFileSrc(name string) *pipeline.Component {
	s := fileSrc{
		props: property.NewSet(locationSpec, blocksizeSpec),
	}
	return pipeline.NewComponent(name, "filesrc", pipeline.KindSource, s.props,
		pipeline.Behavior{
			Open:   s.open,
			Start:  s.start,
			Source: s.source,
			Close:  s.close,
		},
		srcTemplate(caps.Any()),
	)
}

func (s *fileSrc) open(context.Context) error {
	location := s.props.String("location")
	if location == "" {
		return ErrNoLocation
	}
	f, err := os.Open(location)
	if err != nil {
		return fmt.Errorf("could not open file for reading: %w", err)
	}
	s.file = f
	return nil
}

func (s *fileSrc) start(context.Context) error {
	s.block = make([]byte, s.props.Int("blocksize"))
	s.offset = 0
	_, err := s.file.Seek(0, io.SeekStart)
	return err
}

func (s *fileSrc) source(ctx context.Context, c *pipeline.Component) error {
	n, err := s.file.Read(s.block)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return err
	}
	data := make([]byte, n)
	copy(data, s.block[:n])
	if err := c.Push(ctx, "src", pipeline.Buffer{Data: data, Offset: s.offset}); err != nil {
		return err
	}
	s.offset += int64(n)
	return nil
}

func (s *fileSrc) close(context.Context) error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

type fileSink struct {
	props *property.Set
	file  *os.File
}

var appendSpec = property.Spec{
	Name:    "append",
	Blurb:   "Append to an already existing file",
	Type:    property.Bool,
	Default: false,
}

// NewFileSink returns sink that writes buffers to a file.
func NewFileSink(name string) *pipeline.Component {
	s := fileSink{
		props: property.NewSet(locationSpec, appendSpec),
	}
	return pipeline.NewComponent(name, "filesink", pipeline.KindSink, s.props,
		pipeline.Behavior{
			Open:  s.open,
			Sink:  s.sink,
			Close: s.close,
		},
		sinkTemplate(caps.Any()),
	)
}

func (s *fileSink) open(context.Context) error {
	location := s.props.String("location")
	if location == "" {
		return ErrNoLocation
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if s.props.Bool("append") {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(location, flags, 0o644)
	if err != nil {
		return fmt.Errorf("could not open file for writing: %w", err)
	}
	s.file = f
	return nil
}

func (s *fileSink) sink(_ context.Context, b pipeline.Buffer) error {
	_, err := s.file.Write(b.Data)
	return err
}

func (s *fileSink) close(context.Context) error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
