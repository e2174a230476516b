package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/bus"
	"pipelined.dev/pipeline/caps"
	"pipelined.dev/pipeline/log"
	"pipelined.dev/pipeline/metric"
	"pipelined.dev/pipeline/mock"
	"pipelined.dev/pipeline/state"
)

const timeout = 2 * time.Second

var (
	audioCaps = caps.MustParse("audio/x-raw")
	videoCaps = caps.MustParse("video/x-raw")
)

func newPipeline(t *testing.T, elements ...pipeline.Element) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New("test",
		pipeline.WithLogger(log.Discard()),
		pipeline.WithElements(elements...),
	)
	require.NoError(t, err)
	return p
}

// popUntil pops messages until the one that matches is found.
func popUntil(t *testing.T, b *bus.Bus, mask bus.Kind, match func(bus.Message) bool) bus.Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		m, ok := b.PopFiltered(bus.Timeout(time.Until(deadline)), mask)
		require.True(t, ok, "no %v message", mask)
		if match == nil || match(m) {
			return m
		}
	}
}

func assertStates(t *testing.T, expected state.State, elements ...pipeline.Element) {
	t.Helper()
	for _, el := range elements {
		assert.Equal(t, expected, el.State(), el.Name())
	}
}

func TestLinkOnce(t *testing.T) {
	src := (&mock.Source{}).Element("src")
	sink1 := (&mock.Sink{}).Element("sink1")
	sink2 := (&mock.Sink{}).Element("sink2")

	link, err := pipeline.LinkPads(src.Pad("src"), sink1.Pad("sink"))
	require.NoError(t, err)
	assert.NotEmpty(t, link.ID)
	assert.True(t, src.Pad("src").IsLinked())
	assert.Equal(t, sink1.Pad("sink"), src.Pad("src").Peer())
	assert.Equal(t, link, sink1.Pad("sink").Link())

	_, err = pipeline.LinkPads(src.Pad("src"), sink1.Pad("sink"))
	assert.ErrorIs(t, err, pipeline.ErrPadBusy)
	_, err = pipeline.LinkPads(src.Pad("src"), sink2.Pad("sink"))
	assert.ErrorIs(t, err, pipeline.ErrPadBusy)
	assert.False(t, sink2.Pad("sink").IsLinked())

	src.Pad("src").Unlink()
	assert.False(t, sink1.Pad("sink").IsLinked())
	_, err = pipeline.LinkPads(src.Pad("src"), sink2.Pad("sink"))
	assert.NoError(t, err)
}

// linkConcurrently links both pairs of pads at the same time.
func linkConcurrently(first, second [2]*pipeline.Pad) []error {
	errs := make([]error, 2)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, pair := range [][2]*pipeline.Pad{first, second} {
		wg.Add(1)
		go func(i int, src, sink *pipeline.Pad) {
			defer wg.Done()
			<-start
			_, errs[i] = pipeline.LinkPads(src, sink)
		}(i, pair[0], pair[1])
	}
	close(start)
	wg.Wait()
	return errs
}

func assertOneLinked(t *testing.T, errs []error) {
	t.Helper()
	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, pipeline.ErrPadBusy)
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestLinkConcurrent(t *testing.T) {
	for i := 0; i < 100; i++ {
		src1 := (&mock.Source{}).Element("src1")
		src2 := (&mock.Source{}).Element("src2")
		sink1 := (&mock.Sink{}).Element("sink1")
		sink2 := (&mock.Sink{}).Element("sink2")

		// one src pad, two sinks.
		errs := linkConcurrently(
			[2]*pipeline.Pad{src1.Pad("src"), sink1.Pad("sink")},
			[2]*pipeline.Pad{src1.Pad("src"), sink2.Pad("sink")},
		)
		assertOneLinked(t, errs)
		assert.NotEqual(t, sink1.Pad("sink").IsLinked(), sink2.Pad("sink").IsLinked())
		src1.Pad("src").Unlink()

		// two src pads, one sink.
		errs = linkConcurrently(
			[2]*pipeline.Pad{src1.Pad("src"), sink1.Pad("sink")},
			[2]*pipeline.Pad{src2.Pad("src"), sink1.Pad("sink")},
		)
		assertOneLinked(t, errs)
		assert.NotEqual(t, src1.Pad("src").IsLinked(), src2.Pad("src").IsLinked())
		assert.True(t, sink1.Pad("sink").IsLinked())
	}
}

func TestLinkValidation(t *testing.T) {
	filter := (&mock.Filter{}).Element("filter")
	sink := (&mock.Sink{}).Element("sink")

	_, err := pipeline.LinkPads(sink.Pad("sink"), filter.Pad("src"))
	assert.ErrorIs(t, err, pipeline.ErrWrongDirection)
	_, err = pipeline.LinkPads(filter.Pad("src"), filter.Pad("sink"))
	assert.ErrorIs(t, err, pipeline.ErrSameElement)
	_, err = pipeline.LinkPads(filter.Pad("src"), nil)
	assert.ErrorIs(t, err, pipeline.ErrPadNotFound)

	var lerr *pipeline.LinkError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "filter:src", lerr.Src)
}

func TestCapabilityMismatch(t *testing.T) {
	src := (&mock.Source{Caps: videoCaps}).Element("src")
	sink := (&mock.Sink{Caps: audioCaps}).Element("sink")
	p := newPipeline(t, src, sink)

	err := p.Link(src, sink)
	assert.ErrorIs(t, err, pipeline.ErrCapabilityMismatch)
	assert.False(t, src.Pad("src").IsLinked())
	assert.False(t, sink.Pad("sink").IsLinked())
	assertStates(t, state.Null, src, sink, p)
}

func TestPlaying(t *testing.T) {
	defer goleak.VerifyNone(t)
	source := &mock.Source{Limit: 1 << 30, Size: 8, Interval: time.Millisecond}
	filter := &mock.Filter{}
	sink := &mock.Sink{}
	src, flt, snk := source.Element("src"), filter.Element("filter"), sink.Element("sink")
	p := newPipeline(t, src, flt, snk)
	require.NoError(t, p.Link(src, flt, snk))
	assertStates(t, state.Null, src, flt, snk, p)

	ret, err := p.SetState(state.Playing)
	require.NoError(t, err)
	assert.Equal(t, state.Success, ret)
	assertStates(t, state.Playing, src, flt, snk, p)

	m := popUntil(t, p.Bus(), bus.StateChanged, func(m bus.Message) bool {
		_, newState, _ := m.ParseStateChanged()
		return m.Src == bus.Source(p) && newState == state.Playing
	})
	oldState, _, _ := m.ParseStateChanged()
	assert.Equal(t, state.Paused, oldState)

	// pause and resume.
	ret, err = p.SetState(state.Paused)
	require.NoError(t, err)
	assert.Equal(t, state.Success, ret)
	assertStates(t, state.Paused, src, flt, snk, p)
	ret, _ = p.SetState(state.Playing)
	assert.Equal(t, state.Success, ret)

	assert.Eventually(t, func() bool {
		return sink.Count().Buffers > 2
	}, timeout, time.Millisecond)

	ret, err = p.SetState(state.Null)
	require.NoError(t, err)
	assert.Equal(t, state.Success, ret)
	assertStates(t, state.Null, src, flt, snk, p)
	assert.Equal(t, mock.Calls{Open: 1, Start: 1, Flush: 1, Close: 1}, sink.Calls())
	assert.Equal(t, mock.Calls{Open: 1, Start: 1, Flush: 1, Close: 1}, source.Calls())
	// links survive teardown.
	assert.True(t, src.Pad("src").IsLinked())
	require.NoError(t, p.Close())
}

func TestElementFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	startErr := errors.New("device busy")
	source := &mock.Source{Limit: 10}
	sink := &mock.Sink{Hooks: mock.Hooks{ErrorOnStart: startErr}}
	src, snk := source.Element("src"), sink.Element("sink")
	p := newPipeline(t, src, snk)
	require.NoError(t, p.Link(src, snk))

	ret, err := p.SetState(state.Playing)
	assert.Equal(t, state.Failure, ret)
	assert.ErrorIs(t, err, startErr)

	m := popUntil(t, p.Bus(), bus.Error, nil)
	assert.Equal(t, "sink", m.SourceName())
	merr, _ := m.ParseError()
	var terr *pipeline.TransitionError
	require.True(t, errors.As(merr, &terr))
	assert.Equal(t, state.ReadyToPaused, terr.Transition)
	assert.Equal(t, "sink", terr.Element)

	assertStates(t, state.Null, src, snk, p)
	assert.Equal(t, mock.Calls{Open: 1, Close: 1}, source.Calls())
	assert.Equal(t, mock.Calls{Open: 1, Start: 1, Close: 1}, sink.Calls())
	require.NoError(t, p.Close())
}

func TestOpenFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	source := &mock.Source{Hooks: mock.Hooks{ErrorOnOpen: errors.New("no such file")}}
	sink := &mock.Sink{}
	src, snk := source.Element("src"), sink.Element("sink")
	p := newPipeline(t, src, snk)
	require.NoError(t, p.Link(src, snk))

	ret, err := p.SetState(state.Paused)
	assert.Equal(t, state.Failure, ret)
	assert.Error(t, err)
	assertStates(t, state.Null, src, snk, p)
	// sink was opened before source and closed on teardown.
	assert.Equal(t, mock.Calls{Open: 1, Close: 1}, sink.Calls())
	require.NoError(t, p.Close())
}

func TestEndOfStream(t *testing.T) {
	defer goleak.VerifyNone(t)
	source := &mock.Source{Limit: 10, Size: 4}
	filter := &mock.Filter{}
	sink := &mock.Sink{}
	src, flt, snk := source.Element("src"), filter.Element("filter"), sink.Element("sink")
	p := newPipeline(t, src, flt, snk)
	require.NoError(t, p.Link(src, flt, snk))

	err := pipeline.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, mock.Counter{Buffers: 10, Bytes: 40}, sink.Count())
	assert.Equal(t, mock.Counter{Buffers: 10, Bytes: 40}, filter.Count())
	assertStates(t, state.Null, src, flt, snk, p)

	// pipeline can be played again.
	source.Reset()
	sink.Reset()
	filter.Reset()
	require.NoError(t, pipeline.Run(context.Background(), p))
	assert.Equal(t, 10, sink.Count().Buffers)
	require.NoError(t, p.Close())
}

func TestMultipleSinks(t *testing.T) {
	defer goleak.VerifyNone(t)
	demux := &mock.Demuxer{
		Limit: 5,
		Streams: []mock.Stream{
			{Pad: "audio_0", Caps: audioCaps},
			{Pad: "video_0", Caps: videoCaps},
		},
	}
	audio := &mock.Sink{}
	video := &mock.Sink{}
	dmx, asnk, vsnk := demux.Element("demux"), audio.Element("audiosink"), video.Element("videosink")
	p := newPipeline(t, dmx, asnk, vsnk)
	require.NoError(t, p.LinkDynamic(dmx, asnk.Pad("sink"), audioCaps))
	require.NoError(t, p.LinkDynamic(dmx, vsnk.Pad("sink"), videoCaps))

	require.NoError(t, pipeline.Run(context.Background(), p))
	assert.Equal(t, 5, audio.Count().Buffers)
	assert.Equal(t, 5, video.Count().Buffers)
	// sometimes pads are removed when stream is stopped.
	assert.Empty(t, dmx.Pads())
	require.NoError(t, p.Close())
}

func TestRuntimeError(t *testing.T) {
	defer goleak.VerifyNone(t)
	source := &mock.Source{Limit: 100, Interval: time.Millisecond}
	filter := &mock.Filter{ErrorAfter: 3}
	sink := &mock.Sink{}
	src, flt, snk := source.Element("src"), filter.Element("filter"), sink.Element("sink")
	p := newPipeline(t, src, flt, snk)
	require.NoError(t, p.Link(src, flt, snk))

	err := pipeline.Run(context.Background(), p)
	require.Error(t, err)
	var rerr *pipeline.RuntimeError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "filter", rerr.Element)
	assert.Equal(t, 3, filter.Count().Buffers)
	assert.LessOrEqual(t, sink.Count().Buffers, 3)
	assertStates(t, state.Null, src, flt, snk, p)
	require.NoError(t, p.Close())
}

func TestErrorBeforeEndOfStream(t *testing.T) {
	defer goleak.VerifyNone(t)
	source := &mock.Source{Limit: 1}
	sink := &mock.Sink{ErrorOnCall: errors.New("write failed")}
	src, snk := source.Element("src"), sink.Element("sink")
	p := newPipeline(t, src, snk)
	require.NoError(t, p.Link(src, snk))

	err := pipeline.Run(context.Background(), p)
	assert.Error(t, err)
	assertStates(t, state.Null, src, snk, p)
	require.NoError(t, p.Close())
}

func TestInterrupt(t *testing.T) {
	defer goleak.VerifyNone(t)
	source := &mock.Source{Limit: 1 << 30, Interval: time.Millisecond}
	sink := &mock.Sink{}
	src, snk := source.Element("src"), sink.Element("sink")
	p := newPipeline(t, src, snk)
	require.NoError(t, p.Link(src, snk))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, pipeline.Run(ctx, p))
	assertStates(t, state.Null, src, snk, p)
	require.NoError(t, p.Close())
}

func TestRunMessages(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	src := (&mock.Source{Limit: 1 << 30, Interval: time.Millisecond}).Element("src")
	snk := (&mock.Sink{}).Element("sink")
	p, err := pipeline.New("test", pipeline.WithLogger(logger), pipeline.WithElements(src, snk))
	require.NoError(t, err)
	require.NoError(t, p.Link(src, snk))

	p.Bus().Post(bus.NewInfo(src, bus.Structure{Name: "progress"}))
	p.Bus().Post(bus.NewCustom(src, bus.Structure{Name: "level"}))
	p.Bus().Post(bus.NewAsyncDone(src))
	p.Bus().Post(bus.Message{Kind: bus.Application << 1, Src: src})

	err = pipeline.Run(context.Background(), p)
	var rerr *pipeline.RuntimeError
	require.True(t, errors.As(err, &rerr))
	assert.ErrorIs(t, err, pipeline.ErrUnexpected)
	assert.Equal(t, "src", rerr.Element)
	assertStates(t, state.Null, src, snk, p)

	var logged []string
	for _, e := range hook.AllEntries() {
		logged = append(logged, e.Message)
	}
	assert.Contains(t, logged, "info received: progress")
	assert.Contains(t, logged, `custom message "level"`)
	assert.Contains(t, logged, "asynchronous state change done")
	require.NoError(t, p.Close())
}

func TestMetricsClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := metric.New()
	source := &mock.Source{Limit: 5, Size: 4}
	sink := &mock.Sink{}
	src, snk := source.Element("src"), sink.Element("sink")
	p, err := pipeline.New("metered",
		pipeline.WithLogger(log.Discard()),
		pipeline.WithMetrics(m),
		pipeline.WithElements(src, snk),
	)
	require.NoError(t, err)
	require.NoError(t, p.Link(src, snk))

	require.NoError(t, pipeline.Run(context.Background(), p))
	assert.Equal(t, 5, sink.Count().Buffers)
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	require.NoError(t, p.Close())
}

func TestDynamicLink(t *testing.T) {
	defer goleak.VerifyNone(t)
	demux := &mock.Demuxer{
		Limit: 10,
		Size:  2,
		Streams: []mock.Stream{
			{Pad: "video_0", Caps: videoCaps},
			{Pad: "audio_0", Caps: caps.MustParse("audio/x-raw, rate=(int)44100")},
		},
	}
	convert := &mock.Filter{Caps: audioCaps}
	sink := &mock.Sink{}
	dmx, cnv, snk := demux.Element("decoder"), convert.Element("convert"), sink.Element("sink")
	p := newPipeline(t, dmx, cnv, snk)
	require.NoError(t, p.Link(cnv, snk))
	require.NoError(t, p.LinkDynamic(dmx, cnv.Pad("sink"), audioCaps))

	require.NoError(t, pipeline.Run(context.Background(), p))
	assert.Equal(t, mock.Counter{Buffers: 10, Bytes: 20}, sink.Count())
	assertStates(t, state.Null, dmx, cnv, snk, p)
	require.NoError(t, p.Close())
}

func TestDynamicLinkResolution(t *testing.T) {
	demux := (&mock.Demuxer{
		Streams: []mock.Stream{
			{Pad: "video_0", Caps: videoCaps},
			{Pad: "audio_0", Caps: audioCaps},
		},
	}).Element("decoder")
	cnv := (&mock.Filter{Caps: audioCaps}).Element("convert")
	p := newPipeline(t, demux, cnv)
	require.NoError(t, p.LinkDynamic(demux, cnv.Pad("sink"), audioCaps))
	ctx := context.Background()

	video, err := demux.AddPad(ctx, "video_0", "video_0", videoCaps)
	require.NoError(t, err)
	assert.False(t, video.IsLinked())

	audio, err := demux.AddPad(ctx, "audio_0", "audio_0", audioCaps)
	require.NoError(t, err)
	require.True(t, audio.IsLinked())
	link := audio.Link()
	assert.Equal(t, cnv.Pad("sink"), link.Sink)

	// the same notification again.
	resolution := p.Linker().Resolve(pipeline.PadAdded{Element: demux, Pad: audio})
	assert.Equal(t, pipeline.AlreadyLinked, resolution)
	assert.Equal(t, link, cnv.Pad("sink").Link())
	assert.Equal(t, pipeline.AlreadyLinked, p.Linker().Resolve(pipeline.PadAdded{Element: demux, Pad: video}))

	_, err = demux.AddPad(ctx, "audio_0", "audio_0", audioCaps)
	assert.ErrorIs(t, err, pipeline.ErrPadExists)

	_, ok := p.Bus().PopFiltered(bus.NoWait, bus.Error|bus.Warning)
	assert.False(t, ok)
	require.NoError(t, p.Close())
}

func TestDynamicLinkIgnored(t *testing.T) {
	demux := (&mock.Demuxer{
		Streams: []mock.Stream{{Pad: "video_0", Caps: videoCaps}},
	}).Element("decoder")
	cnv := (&mock.Filter{Caps: audioCaps}).Element("convert")
	p := newPipeline(t, demux, cnv)
	require.NoError(t, p.LinkDynamic(demux, cnv.Pad("sink"), audioCaps))

	video, err := demux.AddPad(context.Background(), "video_0", "video_0", videoCaps)
	require.NoError(t, err)
	assert.False(t, video.IsLinked())
	assert.False(t, cnv.Pad("sink").IsLinked())
	assert.Equal(t, pipeline.Ignored, p.Linker().Resolve(pipeline.PadAdded{Element: demux, Pad: video}))

	_, ok := p.Bus().PopFiltered(bus.NoWait, bus.Error|bus.Warning)
	assert.False(t, ok)
	require.NoError(t, p.Close())
}

func TestDynamicLinkFailed(t *testing.T) {
	demux := (&mock.Demuxer{
		Streams: []mock.Stream{{Pad: "audio_0", Caps: audioCaps}},
	}).Element("decoder")
	cnv := (&mock.Filter{Caps: caps.MustParse("audio/x-raw, rate=(int)48000")}).Element("convert")
	p := newPipeline(t, demux, cnv)
	require.NoError(t, p.LinkDynamic(demux, cnv.Pad("sink"), audioCaps))

	audio, err := demux.AddPad(context.Background(), "audio_0", "audio_0", caps.MustParse("audio/x-raw, rate=(int)44100"))
	require.NoError(t, err)
	assert.False(t, audio.IsLinked())

	m := popUntil(t, p.Bus(), bus.Warning, nil)
	assert.Equal(t, "decoder", m.SourceName())
	werr, _ := m.ParseError()
	assert.ErrorIs(t, werr, pipeline.ErrCapabilityMismatch)
	require.NoError(t, p.Close())
}

func TestDynamicLinkPadName(t *testing.T) {
	demux := (&mock.Demuxer{
		Streams: []mock.Stream{
			{Pad: "audio_0", Caps: audioCaps},
			{Pad: "audio_1", Caps: audioCaps},
		},
	}).Element("decoder")
	cnv := (&mock.Filter{Caps: audioCaps}).Element("convert")
	p := newPipeline(t, demux, cnv)
	require.NoError(t, p.LinkDynamic(demux, cnv.Pad("sink"), audioCaps, pipeline.WithPadName("audio_1")))
	ctx := context.Background()

	first, err := demux.AddPad(ctx, "audio_0", "audio_0", audioCaps)
	require.NoError(t, err)
	second, err := demux.AddPad(ctx, "audio_1", "audio_1", audioCaps)
	require.NoError(t, err)
	assert.False(t, first.IsLinked())
	assert.True(t, second.IsLinked())
	require.NoError(t, p.Close())
}

func TestDynamicLinkReplay(t *testing.T) {
	defer goleak.VerifyNone(t)
	demux := &mock.Demuxer{
		Limit:   10,
		Size:    2,
		Streams: []mock.Stream{{Pad: "audio_0", Caps: audioCaps}},
	}
	sink := &mock.Sink{}
	dmx, snk := demux.Element("decoder"), sink.Element("sink")
	p := newPipeline(t, dmx, snk)
	require.NoError(t, p.LinkDynamic(dmx, snk.Pad("sink"), audioCaps))

	for i := 1; i <= 2; i++ {
		require.NoError(t, pipeline.Run(context.Background(), p))
		assert.Equal(t, 10, demux.Count().Buffers)
		assert.Equal(t, 10*i, sink.Count().Buffers)
		assert.Empty(t, dmx.Pads())
	}
	require.NoError(t, p.Close())
}

func TestTeardownDuringDynamicLink(t *testing.T) {
	defer goleak.VerifyNone(t)
	for i := 0; i < 20; i++ {
		demux := &mock.Demuxer{
			Limit: 1 << 30,
			Streams: []mock.Stream{
				{Pad: "video_0", Caps: videoCaps},
				{Pad: "audio_0", Caps: audioCaps},
			},
		}
		dmx := demux.Element("decoder")
		cnv := (&mock.Filter{Caps: audioCaps}).Element("convert")
		snk := (&mock.Sink{}).Element("sink")
		p := newPipeline(t, dmx, cnv, snk)
		require.NoError(t, p.Link(cnv, snk))
		require.NoError(t, p.LinkDynamic(dmx, cnv.Pad("sink"), audioCaps))

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, target := range []state.State{state.Playing, state.Null} {
			wg.Add(1)
			go func(target state.State) {
				defer wg.Done()
				<-start
				// either request can win, only termination matters.
				_, _ = p.SetState(target)
			}(target)
		}
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		close(start)
		select {
		case <-done:
		case <-time.After(timeout):
			t.Fatal("state changes didn't complete")
		}

		ret, err := p.SetState(state.Null)
		require.NoError(t, err)
		assert.Equal(t, state.Success, ret)
		assertStates(t, state.Null, dmx, cnv, snk, p)
		assert.Empty(t, dmx.Pads())
		assert.False(t, cnv.Pad("sink").IsLinked())
		require.NoError(t, p.Close())
	}
}

func TestAsyncTransition(t *testing.T) {
	defer goleak.VerifyNone(t)
	source := &mock.Source{Limit: 1 << 30, Interval: time.Millisecond}
	sink := &mock.Sink{Hooks: mock.Hooks{AsyncStart: true}}
	src, snk := source.Element("src"), sink.Element("sink")
	p := newPipeline(t, src, snk)
	require.NoError(t, p.Link(src, snk))

	ret, err := p.SetState(state.Playing)
	require.NoError(t, err)
	assert.Equal(t, state.Async, ret)
	assert.Equal(t, state.Playing, p.Pending())
	assert.Equal(t, state.Ready, snk.State())
	assert.Equal(t, state.Paused, snk.Pending())

	ret, err = p.SetState(state.Paused)
	assert.Equal(t, state.Failure, ret)
	assert.ErrorIs(t, err, pipeline.ErrTransitionInProgress)

	sink.Release(nil)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	current, err := p.WaitState(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Playing, current)
	assertStates(t, state.Playing, src, snk)
	popUntil(t, p.Bus(), bus.AsyncDone, nil)

	ret, err = p.SetState(state.Null)
	require.NoError(t, err)
	assert.Equal(t, state.Success, ret)
	assertStates(t, state.Null, src, snk, p)
	require.NoError(t, p.Close())
}

func TestAsyncFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	sink := &mock.Sink{Hooks: mock.Hooks{AsyncStart: true}}
	src, snk := (&mock.Source{}).Element("src"), sink.Element("sink")
	p := newPipeline(t, src, snk)
	require.NoError(t, p.Link(src, snk))

	ret, _ := p.SetState(state.Playing)
	require.Equal(t, state.Async, ret)
	sink.Release(errors.New("preroll failed"))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	current, err := p.WaitState(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Null, current)
	assertStates(t, state.Null, src, snk)

	m := popUntil(t, p.Bus(), bus.Error, nil)
	assert.Equal(t, "sink", m.SourceName())
	require.NoError(t, p.Close())
}

func TestTeardownCancelsAsync(t *testing.T) {
	defer goleak.VerifyNone(t)
	sink := &mock.Sink{Hooks: mock.Hooks{AsyncStart: true}}
	src, snk := (&mock.Source{}).Element("src"), sink.Element("sink")
	p := newPipeline(t, src, snk)
	require.NoError(t, p.Link(src, snk))

	ret, _ := p.SetState(state.Playing)
	require.Equal(t, state.Async, ret)

	ret, err := p.SetState(state.Null)
	require.NoError(t, err)
	assert.Equal(t, state.Success, ret)
	assertStates(t, state.Null, src, snk, p)
	assert.Equal(t, state.VoidPending, snk.Pending())
	assert.Equal(t, state.VoidPending, p.Pending())

	// late completion is ignored.
	sink.Release(nil)
	assert.Equal(t, state.Null, snk.State())
	require.NoError(t, p.Close())
}

func TestTeardownIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	src, snk := (&mock.Source{}).Element("src"), (&mock.Sink{}).Element("sink")
	p := newPipeline(t, src, snk)
	require.NoError(t, p.Link(src, snk))

	for i := 0; i < 2; i++ {
		ret, err := p.SetState(state.Null)
		assert.NoError(t, err)
		assert.Equal(t, state.Success, ret)
	}
	_, err := p.SetState(state.Ready)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		ret, err := p.SetState(state.Null)
		assert.NoError(t, err)
		assert.Equal(t, state.Success, ret)
	}
	assertStates(t, state.Null, src, snk, p)
	require.NoError(t, p.Close())

	_, err = p.SetState(state.Ready)
	assert.ErrorIs(t, err, pipeline.ErrClosed)
}

func TestTeardownErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	closeErr := errors.New("close failed")
	sink := &mock.Sink{Hooks: mock.Hooks{ErrorOnClose: closeErr}}
	src, snk := (&mock.Source{}).Element("src"), sink.Element("sink")
	p := newPipeline(t, src, snk)
	require.NoError(t, p.Link(src, snk))

	_, err := p.SetState(state.Ready)
	require.NoError(t, err)
	ret, err := p.SetState(state.Null)
	assert.Equal(t, state.Success, ret)
	assert.ErrorIs(t, err, closeErr)
	assertStates(t, state.Null, src, snk, p)
	popUntil(t, p.Bus(), bus.Warning, nil)
	require.NoError(t, p.Close())
}

func TestInvalidState(t *testing.T) {
	p := newPipeline(t)
	ret, err := p.SetState(state.VoidPending)
	assert.Equal(t, state.Failure, ret)
	assert.ErrorIs(t, err, state.ErrInvalidState)
	require.NoError(t, p.Close())
}

func TestBin(t *testing.T) {
	defer goleak.VerifyNone(t)
	source := &mock.Source{Limit: 3}
	sink := &mock.Sink{}
	src, flt, snk := source.Element("src"), (&mock.Filter{}).Element("filter"), sink.Element("sink")

	bin := pipeline.NewBin("output", "bin", nil)
	require.NoError(t, bin.Add(flt, snk))
	require.NoError(t, bin.Link(flt, snk))
	assert.Equal(t, pipeline.KindBin, bin.Kind())

	p := newPipeline(t, src, bin)
	require.NoError(t, pipeline.LinkElements(src, flt))
	assert.Equal(t, snk, p.ByName("sink"))
	assert.Len(t, p.Components(), 3)

	require.NoError(t, pipeline.Run(context.Background(), p))
	assert.Equal(t, 3, sink.Count().Buffers)
	assertStates(t, state.Null, src, flt, snk, bin, p)
	require.NoError(t, p.Close())
}

func TestBinMembership(t *testing.T) {
	src := (&mock.Source{}).Element("src")
	p := newPipeline(t, src)

	err := p.Add((&mock.Sink{}).Element("src"))
	assert.ErrorIs(t, err, pipeline.ErrElementExists)

	other := newPipeline(t)
	err = other.Add(src)
	assert.ErrorIs(t, err, pipeline.ErrElementExists)

	bin := pipeline.NewBin("bin", "bin", nil)
	require.NoError(t, p.Add(bin))
	assert.ErrorIs(t, bin.Add(bin), pipeline.ErrElementExists)

	_, err = p.SetState(state.Ready)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Remove(src), pipeline.ErrNotNull)
	_, err = p.SetState(state.Null)
	require.NoError(t, err)
	require.NoError(t, p.Remove(src))
	assert.Nil(t, src.Parent())
	assert.Nil(t, p.ByName("src"))
	assert.ErrorIs(t, p.Remove(src), pipeline.ErrElementNotFound)
	require.NoError(t, other.Add(src))
	require.NoError(t, p.Close())
	require.NoError(t, other.Close())
}

func TestStandaloneComponent(t *testing.T) {
	sink := &mock.Sink{}
	snk := sink.Element("sink")
	ret, err := snk.SetState(state.Ready)
	require.NoError(t, err)
	assert.Equal(t, state.Success, ret)
	assert.Equal(t, state.Ready, snk.State())
	assert.Equal(t, mock.Calls{Open: 1}, sink.Calls())
	_, err = snk.SetState(state.Null)
	require.NoError(t, err)

	newPipeline(t, snk)
	ret, err = snk.SetState(state.Ready)
	assert.Equal(t, state.Failure, ret)
	assert.ErrorIs(t, err, pipeline.ErrManaged)
}
