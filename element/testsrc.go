package element

import (
	"context"
	"io"
	"math"
	"math/rand"
	"time"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/caps"
	"pipelined.dev/pipeline/property"
	"pipelined.dev/pipeline/signal"
)

// Video test patterns.
const (
	PatternSMPTE = iota
	PatternSnow
	PatternBlack
	PatternWhite
	PatternRed
	PatternGreen
	PatternBlue
)

var (
	patternSpec = property.Spec{
		Name:    "pattern",
		Blurb:   "Type of test pattern to generate",
		Type:    property.Enum,
		Default: PatternSMPTE,
		Enum: []property.EnumValue{
			{Value: PatternSMPTE, Nick: "smpte"},
			{Value: PatternSnow, Nick: "snow"},
			{Value: PatternBlack, Nick: "black"},
			{Value: PatternWhite, Nick: "white"},
			{Value: PatternRed, Nick: "red"},
			{Value: PatternGreen, Nick: "green"},
			{Value: PatternBlue, Nick: "blue"},
		},
	}
	widthSpec     = property.Spec{Name: "width", Blurb: "Frame width", Type: property.Int, Default: 320, Min: 1, Max: 4096}
	heightSpec    = property.Spec{Name: "height", Blurb: "Frame height", Type: property.Int, Default: 240, Min: 1, Max: 4096}
	framerateSpec = property.Spec{Name: "framerate", Blurb: "Frames per second", Type: property.Int, Default: 30, Min: 1, Max: 240}
)

// smpte color bars, RGB.
var smpteBars = [][3]byte{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
}

type videoTestSrc struct {
	c     *pipeline.Component
	props *property.Set

	width, height int
	pattern       int
	numBuffers    int
	live          bool
	frameDuration time.Duration
	frame         []byte
	n             int
	clock         clock
}

// NewVideoTestSrc returns source of RGB test frames.
func NewVideoTestSrc(name string) *pipeline.Component {
	s := videoTestSrc{
		props: property.NewSet(patternSpec, widthSpec, heightSpec, framerateSpec, numBuffersSpec, isLiveSpec),
	}
	s.c = pipeline.NewComponent(name, "videotestsrc", pipeline.KindSource, s.props,
		pipeline.Behavior{Start: s.start, Source: s.source},
		srcTemplate(caps.MustParse("video/x-raw, format=RGB, width=[1, 4096], height=[1, 4096], framerate=[1, 240]")),
	)
	return s.c
}

func (s *videoTestSrc) start(context.Context) error {
	s.width, s.height = s.props.Int("width"), s.props.Int("height")
	s.pattern = s.props.Int("pattern")
	s.numBuffers = s.props.Int("num-buffers")
	s.live = s.props.Bool("is-live")
	framerate := s.props.Int("framerate")
	s.frameDuration = time.Second / time.Duration(framerate)
	s.n = 0
	s.clock.reset()
	s.frame = make([]byte, s.width*s.height*3)
	s.render()
	return s.c.Pad("src").SetCaps(caps.New(caps.NewStructure("video/x-raw",
		"format", "RGB",
		"width", s.width,
		"height", s.height,
		"framerate", framerate,
	)))
}

// render draws the pattern into the frame.
func (s *videoTestSrc) render() {
	var fill [3]byte
	switch s.pattern {
	case PatternSnow:
		rand.Read(s.frame)
		return
	case PatternSMPTE:
		for y := 0; y < s.height; y++ {
			for x := 0; x < s.width; x++ {
				bar := smpteBars[x*len(smpteBars)/s.width]
				copy(s.frame[(y*s.width+x)*3:], bar[:])
			}
		}
		return
	case PatternWhite:
		fill = [3]byte{255, 255, 255}
	case PatternRed:
		fill = [3]byte{255, 0, 0}
	case PatternGreen:
		fill = [3]byte{0, 255, 0}
	case PatternBlue:
		fill = [3]byte{0, 0, 255}
	}
	for i := 0; i < len(s.frame); i += 3 {
		copy(s.frame[i:], fill[:])
	}
}

func (s *videoTestSrc) source(ctx context.Context, c *pipeline.Component) error {
	if s.numBuffers >= 0 && s.n >= s.numBuffers {
		return io.EOF
	}
	pts := time.Duration(s.n) * s.frameDuration
	if s.live {
		if err := s.clock.wait(ctx, pts); err != nil {
			return err
		}
	}
	if s.pattern == PatternSnow {
		s.render()
	}
	data := make([]byte, len(s.frame))
	copy(data, s.frame)
	if err := c.Push(ctx, "src", pipeline.Buffer{
		Data:     data,
		PTS:      pts,
		Duration: s.frameDuration,
		Offset:   int64(s.n),
	}); err != nil {
		return err
	}
	s.n++
	return nil
}

// Audio test waves.
const (
	WaveSine = iota
	WaveSquare
	WaveSaw
	WaveTriangle
	WaveSilence
	WaveWhiteNoise
)

var (
	waveSpec = property.Spec{
		Name:    "wave",
		Blurb:   "Oscillator waveform",
		Type:    property.Enum,
		Default: WaveSine,
		Enum: []property.EnumValue{
			{Value: WaveSine, Nick: "sine"},
			{Value: WaveSquare, Nick: "square"},
			{Value: WaveSaw, Nick: "saw"},
			{Value: WaveTriangle, Nick: "triangle"},
			{Value: WaveSilence, Nick: "silence"},
			{Value: WaveWhiteNoise, Nick: "white-noise"},
		},
	}
	freqSpec             = property.Spec{Name: "freq", Blurb: "Frequency of test signal", Type: property.Float, Default: 440.0, Min: 0, Max: 20000}
	volumeSpec           = property.Spec{Name: "volume", Blurb: "Volume of test signal", Type: property.Float, Default: 0.8, Min: 0, Max: 1}
	samplesPerBufferSpec = property.Spec{Name: "samplesperbuffer", Blurb: "Number of samples in each outgoing buffer", Type: property.Int, Default: 1024, Min: 1, Max: 1 << 20}
	rateSpec             = property.Spec{Name: "rate", Blurb: "Sample rate", Type: property.Int, Default: 44100, Min: 1, Max: 192000}
	channelsSpec         = property.Spec{Name: "channels", Blurb: "Number of channels", Type: property.Int, Default: 2, Min: 1, Max: 8}
)

type audioTestSrc struct {
	c     *pipeline.Component
	props *property.Set

	format           audioFormat
	wave             int
	freq, volume     float64
	samplesPerBuffer int
	numBuffers       int
	live             bool
	n                int
	offset           int64
	clock            clock
}

// NewAudioTestSrc returns source of S16LE test signals.
func NewAudioTestSrc(name string) *pipeline.Component {
	s := audioTestSrc{
		props: property.NewSet(waveSpec, freqSpec, volumeSpec, samplesPerBufferSpec, rateSpec, channelsSpec, numBuffersSpec, isLiveSpec),
	}
	s.c = pipeline.NewComponent(name, "audiotestsrc", pipeline.KindSource, s.props,
		pipeline.Behavior{Start: s.start, Source: s.source},
		srcTemplate(caps.MustParse("audio/x-raw, format=S16LE, rate=[1, 192000], channels=[1, 8]")),
	)
	return s.c
}

func (s *audioTestSrc) start(context.Context) error {
	s.format = audioFormat{
		rate:     s.props.Int("rate"),
		channels: s.props.Int("channels"),
		bitDepth: signal.BitDepth16,
	}
	s.wave = s.props.Int("wave")
	s.freq = s.props.Float("freq")
	s.volume = s.props.Float("volume")
	s.samplesPerBuffer = s.props.Int("samplesperbuffer")
	s.numBuffers = s.props.Int("num-buffers")
	s.live = s.props.Bool("is-live")
	s.n, s.offset = 0, 0
	s.clock.reset()
	return s.c.Pad("src").SetCaps(s.format.caps())
}

func (s *audioTestSrc) source(ctx context.Context, c *pipeline.Component) error {
	if s.numBuffers >= 0 && s.n >= s.numBuffers {
		return io.EOF
	}
	pts := signal.DurationOf(s.format.rate, s.offset)
	if s.live {
		if err := s.clock.wait(ctx, pts); err != nil {
			return err
		}
	}
	floats := signal.EmptyFloat64(s.format.channels, s.samplesPerBuffer)
	for i := 0; i < s.samplesPerBuffer; i++ {
		v := s.volume * s.sample(s.offset+int64(i))
		for ch := range floats {
			floats[ch][i] = v
		}
	}
	if err := c.Push(ctx, "src", pipeline.Buffer{
		Data:     floats.AsInterInt(s.format.bitDepth).Bytes(),
		PTS:      pts,
		Duration: signal.DurationOf(s.format.rate, int64(s.samplesPerBuffer)),
		Offset:   s.offset,
	}); err != nil {
		return err
	}
	s.n++
	s.offset += int64(s.samplesPerBuffer)
	return nil
}

// sample returns wave value in [-1, 1] at sample position.
func (s *audioTestSrc) sample(pos int64) float64 {
	_, phase := math.Modf(s.freq * float64(pos) / float64(s.format.rate))
	switch s.wave {
	case WaveSine:
		return math.Sin(2 * math.Pi * phase)
	case WaveSquare:
		if phase < 0.5 {
			return 1
		}
		return -1
	case WaveSaw:
		return 2*phase - 1
	case WaveTriangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	case WaveWhiteNoise:
		return rand.Float64()*2 - 1
	}
	return 0
}
