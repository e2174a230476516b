package element

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/caps"
	"pipelined.dev/pipeline/property"
	"pipelined.dev/pipeline/signal"
)

// ErrUnsupportedURI is returned when URI scheme cannot be handled.
var ErrUnsupportedURI = errors.New("unsupported uri")

var uriSpec = property.Spec{
	Name:    "uri",
	Blurb:   "URI to decode, file:// with wav content or test://?streams=video,audio&num-buffers=N",
	Type:    property.String,
	Default: "",
}

// stream is a single decoded stream exposed through a sometimes pad.
type stream struct {
	template string
	pad      string
	caps     caps.Caps
	read     func() (pipeline.Buffer, error)
	done     bool
}

type uriDecodeBin struct {
	props   *property.Set
	file    *os.File
	streams []*stream
	exposed bool
}

// NewURIDecodeBin returns source that decodes URI into raw streams. The
// streams are announced as sometimes pads once data flow starts.
func NewURIDecodeBin(name string) *pipeline.Component {
	d := uriDecodeBin{
		props: property.NewSet(uriSpec),
	}
	return pipeline.NewComponent(name, "uridecodebin", pipeline.KindSource, d.props,
		pipeline.Behavior{
			Open:   d.open,
			Start:  d.start,
			Source: d.source,
			Close:  d.close,
		},
		pipeline.PadTemplate{Name: "audio_%u", Direction: pipeline.Src, Presence: pipeline.Sometimes, Caps: rawAudio},
		pipeline.PadTemplate{Name: "video_%u", Direction: pipeline.Src, Presence: pipeline.Sometimes, Caps: rawVideo},
	)
}

func (d *uriDecodeBin) open(context.Context) error {
	u, err := url.Parse(d.props.String("uri"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedURI, err)
	}
	switch u.Scheme {
	case "file":
		f, err := os.Open(u.Path)
		if err != nil {
			return fmt.Errorf("resource not found: %w", err)
		}
		d.file = f
		return nil
	case "test":
		_, err := testStreams(u.Query())
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedURI, d.props.String("uri"))
}

// start prepares streams from the beginning.
func (d *uriDecodeBin) start(context.Context) error {
	d.exposed = false
	if d.file != nil {
		r, err := newWavReader(d.file, 1024)
		if err != nil {
			return err
		}
		d.streams = []*stream{{
			template: "audio_%u",
			pad:      "audio_0",
			caps:     r.format.caps(),
			read:     r.read,
		}}
		return nil
	}
	u, _ := url.Parse(d.props.String("uri"))
	streams, err := testStreams(u.Query())
	d.streams = streams
	return err
}

func (d *uriDecodeBin) source(ctx context.Context, c *pipeline.Component) error {
	if !d.exposed {
		d.exposed = true
		for _, s := range d.streams {
			if _, err := c.AddPad(ctx, s.template, s.pad, s.caps); err != nil {
				return err
			}
		}
	}

	active, linked := 0, 0
	for _, s := range d.streams {
		if s.done {
			continue
		}
		b, err := s.read()
		if errors.Is(err, io.EOF) {
			// end-of-stream is sent on all pads when the last stream is over.
			s.done = true
			continue
		}
		if err != nil {
			return err
		}
		active++
		switch err := c.Push(ctx, s.pad, b); {
		case err == nil:
			linked++
		case errors.Is(err, pipeline.ErrNotLinked):
		default:
			return err
		}
	}
	if active == 0 {
		return io.EOF
	}
	if linked == 0 {
		return fmt.Errorf("streaming stopped: %w", pipeline.ErrNotLinked)
	}
	return nil
}

func (d *uriDecodeBin) close(context.Context) error {
	d.streams = nil
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// testStreams returns synthetic streams described by query, e.g.
// streams=video,audio&num-buffers=10.
func testStreams(query url.Values) ([]*stream, error) {
	numBuffers := 10
	if v := query.Get("num-buffers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: num-buffers %q", ErrUnsupportedURI, v)
		}
		numBuffers = n
	}
	kinds := []string{"audio"}
	if v := query.Get("streams"); v != "" {
		kinds = strings.Split(v, ",")
	}

	var (
		streams []*stream
		counter = map[string]int{}
	)
	for _, kind := range kinds {
		kind = strings.TrimSpace(kind)
		var (
			c    caps.Caps
			data []byte
			dur  time.Duration
		)
		switch kind {
		case "audio":
			format := audioFormat{rate: 44100, channels: 2, bitDepth: signal.BitDepth16}
			c = format.caps()
			data = make([]byte, 1024*format.frameSize())
			dur = format.duration(len(data))
		case "video":
			c = caps.New(caps.NewStructure("video/x-raw", "format", "RGB", "width", 64, "height", 48, "framerate", 30))
			data = make([]byte, 64*48*3)
			dur = time.Second / 30
		default:
			return nil, fmt.Errorf("%w: stream %q", ErrUnsupportedURI, kind)
		}
		pad := kind + "_" + strconv.Itoa(counter[kind])
		counter[kind]++
		streams = append(streams, &stream{
			template: kind + "_%u",
			pad:      pad,
			caps:     c,
			read:     synthetic(data, dur, numBuffers),
		})
	}
	return streams, nil
}

func synthetic(data []byte, duration time.Duration, limit int) func() (pipeline.Buffer, error) {
	n := 0
	return func() (pipeline.Buffer, error) {
		if n >= limit {
			return pipeline.Buffer{}, io.EOF
		}
		b := pipeline.Buffer{
			Data:     append([]byte(nil), data...),
			PTS:      time.Duration(n) * duration,
			Duration: duration,
			Offset:   int64(n),
		}
		n++
		return b, nil
	}
}
