package element

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/caps"
	"pipelined.dev/pipeline/property"
	"pipelined.dev/pipeline/state"
)

var (
	asyncSpec = property.Spec{
		Name:    "async",
		Blurb:   "Go asynchronously to PAUSED",
		Type:    property.Bool,
		Default: false,
	}
	prerollDelaySpec = property.Spec{
		Name:    "preroll-delay",
		Blurb:   "Milliseconds to wait before completing asynchronous preroll",
		Type:    property.Int,
		Default: 0,
		Min:     0,
		Max:     math.MaxInt32,
	}
)

type fakeSink struct {
	props    *property.Set
	clock    clock
	received atomic.Int64
}

// NewFakeSink returns sink that discards buffers. With async property
// set it prerolls asynchronously.
func NewFakeSink(name string) *pipeline.Component {
	sync := syncSpec
	sync.Default = false
	s := fakeSink{
		props: property.NewSet(asyncSpec, prerollDelaySpec, sync, silentSpec),
	}
	return pipeline.NewComponent(name, "fakesink", pipeline.KindSink, s.props,
		pipeline.Behavior{
			Start:       s.start,
			Sink:        s.sink,
			ChangeState: s.changeState,
		},
		sinkTemplate(caps.Any()),
	)
}

func (s *fakeSink) start(context.Context) error {
	s.received.Store(0)
	s.clock.reset()
	return nil
}

func (s *fakeSink) sink(ctx context.Context, b pipeline.Buffer) error {
	s.received.Add(1)
	if s.props.Bool("sync") {
		return s.clock.wait(ctx, b.PTS)
	}
	return nil
}

// changeState completes READY to PAUSED in background when async is set.
func (s *fakeSink) changeState(ctx context.Context, c *pipeline.Component, t state.Transition) (state.Return, error) {
	if t == state.PausedToReady && !s.props.Bool("silent") {
		c.Logger().Infof("received %d buffers", s.received.Load())
	}
	if t != state.ReadyToPaused || !s.props.Bool("async") {
		return state.Success, nil
	}
	delay := time.Duration(s.props.Int("preroll-delay")) * time.Millisecond
	go func() {
		if err := sleep(ctx, delay); err != nil {
			return
		}
		c.AsyncDone(nil)
	}()
	return state.Async, nil
}

// clockSink paces buffers to their timestamps when sync is set.
type clockSink struct {
	props *property.Set
	clock clock
}

func newClockSink(name, kind string, family caps.Caps) *pipeline.Component {
	s := clockSink{
		props: property.NewSet(syncSpec),
	}
	return pipeline.NewComponent(name, kind, pipeline.KindSink, s.props,
		pipeline.Behavior{Start: s.start, Sink: s.sink},
		sinkTemplate(family),
	)
}

func (s *clockSink) start(context.Context) error {
	s.clock.reset()
	return nil
}

func (s *clockSink) sink(ctx context.Context, b pipeline.Buffer) error {
	if !s.props.Bool("sync") {
		return nil
	}
	return s.clock.wait(ctx, b.PTS)
}

// NewAutoAudioSink returns raw audio sink synchronized to the clock.
func NewAutoAudioSink(name string) *pipeline.Component {
	return newClockSink(name, "autoaudiosink", rawAudio)
}

// NewAutoVideoSink returns raw video sink synchronized to the clock.
func NewAutoVideoSink(name string) *pipeline.Component {
	return newClockSink(name, "autovideosink", rawVideo)
}
