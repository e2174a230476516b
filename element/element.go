// Package element provides built-in element kinds.
//
// Elements are black boxes for the pipeline core: sources synthesize or
// read data, filters pass it through with format constraints and sinks
// discard, pace or store it. Register them in the runtime with Factories:
//
//	rt, err := pipeline.Init(pipeline.InitFactories(element.Factories()...))
package element

import (
	"context"
	"math"
	"time"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/caps"
	"pipelined.dev/pipeline/property"
	"pipelined.dev/pipeline/signal"
)

// Factories returns factories of all built-in kinds.
func Factories() []pipeline.Factory {
	return []pipeline.Factory{
		factory("videotestsrc", pipeline.KindSource, "Creates a test video stream", NewVideoTestSrc),
		factory("audiotestsrc", pipeline.KindSource, "Creates audio test signals of given frequency and volume", NewAudioTestSrc),
		factory("filesrc", pipeline.KindSource, "Reads data from a file", NewFileSrc),
		factory("uridecodebin", pipeline.KindSource, "Decodes data from a URI into raw media", NewURIDecodeBin),
		factory("audioconvert", pipeline.KindFilter, "Converts audio to different formats", NewAudioConvert),
		factory("audioresample", pipeline.KindFilter, "Resamples audio", NewAudioResample),
		factory("videoconvert", pipeline.KindFilter, "Converts video from one colorspace to another", NewVideoConvert),
		factory("tee", pipeline.KindFilter, "Repeats the stream to two branches", NewTee),
		factory("identity", pipeline.KindFilter, "Passes data without modification", NewIdentity),
		factory("fakesink", pipeline.KindSink, "Black hole for data", NewFakeSink),
		factory("autoaudiosink", pipeline.KindSink, "Audio sink synchronized to the clock", NewAutoAudioSink),
		factory("autovideosink", pipeline.KindSink, "Video sink synchronized to the clock", NewAutoVideoSink),
		factory("filesink", pipeline.KindSink, "Writes data to a file", NewFileSink),
		factory("wavfilesink", pipeline.KindSink, "Encodes raw audio into a wav file", NewWavFileSink),
		factory("playbin", pipeline.KindBin, "Plays media from a URI", NewPlayBin),
	}
}

func factory[E pipeline.Element](kind string, class pipeline.Kind, description string, fn func(string) E) pipeline.Factory {
	return pipeline.Factory{
		Kind:        kind,
		Class:       class,
		Description: description,
		New: func(name string) (pipeline.Element, error) {
			return fn(name), nil
		},
	}
}

// Common property specs.
var (
	numBuffersSpec = property.Spec{
		Name:    "num-buffers",
		Blurb:   "Number of buffers to output before sending EOS (-1 = unlimited)",
		Type:    property.Int,
		Default: -1,
		Min:     -1,
		Max:     math.MaxInt32,
	}
	isLiveSpec = property.Spec{
		Name:    "is-live",
		Blurb:   "Whether to act as a live source",
		Type:    property.Bool,
		Default: false,
	}
	locationSpec = property.Spec{
		Name:    "location",
		Blurb:   "Location of the file",
		Type:    property.String,
		Default: "",
	}
	syncSpec = property.Spec{
		Name:    "sync",
		Blurb:   "Sync on the clock",
		Type:    property.Bool,
		Default: true,
	}
)

var (
	rawAudio = caps.MustParse("audio/x-raw")
	rawVideo = caps.MustParse("video/x-raw")
)

func sinkTemplate(c caps.Caps) pipeline.PadTemplate {
	return pipeline.PadTemplate{Name: "sink", Direction: pipeline.Sink, Caps: c}
}

func srcTemplate(c caps.Caps) pipeline.PadTemplate {
	return pipeline.PadTemplate{Name: "src", Direction: pipeline.Src, Caps: c}
}

// audioFormat describes raw interleaved audio.
type audioFormat struct {
	rate     int
	channels int
	bitDepth signal.BitDepth
}

func (f audioFormat) caps() caps.Caps {
	return caps.New(caps.NewStructure("audio/x-raw",
		"format", f.bitDepth.Format(),
		"rate", f.rate,
		"channels", f.channels,
	))
}

// frameSize returns number of bytes per multichannel sample.
func (f audioFormat) frameSize() int {
	return f.channels * f.bitDepth.SampleSize()
}

func (f audioFormat) duration(size int) time.Duration {
	if f.frameSize() == 0 {
		return 0
	}
	return signal.DurationOf(f.rate, int64(size/f.frameSize()))
}

// audioFormatOf returns format described by fixed audio caps.
func audioFormatOf(c caps.Caps) (audioFormat, bool) {
	if !c.IsFixed() || c.Family() != "audio/x-raw" {
		return audioFormat{}, false
	}
	s := c.Structures()[0]
	f := audioFormat{bitDepth: signal.BitDepth16}
	var ok bool
	if f.rate, ok = s.Int("rate"); !ok {
		return audioFormat{}, false
	}
	if f.channels, ok = s.Int("channels"); !ok {
		return audioFormat{}, false
	}
	if format, ok := s.Str("format"); ok {
		if f.bitDepth = signal.BitDepthOf(format); f.bitDepth == 0 {
			return audioFormat{}, false
		}
	}
	return f, true
}

// upstreamCaps returns caps of the stream that arrives to the sink pad,
// the first ones accepted on the way upstream. Elements with caps that
// don't describe the stream, like converters with template caps, are
// looked through.
func upstreamCaps(p *pipeline.Pad, accept func(caps.Caps) bool) (caps.Caps, bool) {
	for depth := 0; p != nil && depth < 16; depth++ {
		link := p.Link()
		if link == nil {
			return caps.Caps{}, false
		}
		if accept(link.Caps) {
			return link.Caps, true
		}
		if c := link.Src.Caps(); accept(c) {
			return c, true
		}
		p = nil
		for _, sp := range link.Src.Parent().Pads() {
			if sp.Direction() == pipeline.Sink {
				p = sp
				break
			}
		}
	}
	return caps.Caps{}, false
}

// isAudioFormat accepts caps that describe raw audio completely.
func isAudioFormat(c caps.Caps) bool {
	_, ok := audioFormatOf(c)
	return ok
}

// clock paces buffers by their timestamps.
type clock struct {
	start time.Time
}

// wait blocks until running time of the buffer. The clock starts with
// the first buffer.
func (c *clock) wait(ctx context.Context, pts time.Duration) error {
	if c.start.IsZero() {
		c.start = time.Now().Add(-pts)
		return nil
	}
	return sleep(ctx, time.Until(c.start.Add(pts)))
}

func (c *clock) reset() {
	c.start = time.Time{}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
