package element

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/caps"
	"pipelined.dev/pipeline/property"
)

// passthrough returns filter that forwards buffers of the media family
// unchanged.
func passthrough(name, kind string, family caps.Caps) *pipeline.Component {
	return pipeline.NewComponent(name, kind, pipeline.KindFilter, nil,
		pipeline.Behavior{},
		sinkTemplate(family),
		srcTemplate(family),
	)
}

// NewAudioConvert returns raw audio filter.
func NewAudioConvert(name string) *pipeline.Component {
	return passthrough(name, "audioconvert", rawAudio)
}

// NewAudioResample returns raw audio filter.
func NewAudioResample(name string) *pipeline.Component {
	return passthrough(name, "audioresample", rawAudio)
}

// NewVideoConvert returns raw video filter.
func NewVideoConvert(name string) *pipeline.Component {
	return passthrough(name, "videoconvert", rawVideo)
}

var (
	errorAfterSpec = property.Spec{
		Name:    "error-after",
		Blurb:   "Error after N buffers (-1 = disabled)",
		Type:    property.Int,
		Default: -1,
		Min:     -1,
		Max:     math.MaxInt32,
	}
	sleepTimeSpec = property.Spec{
		Name:    "sleep-time",
		Blurb:   "Microseconds to sleep between processing",
		Type:    property.Int,
		Default: 0,
		Min:     0,
		Max:     math.MaxInt32,
	}
	silentSpec = property.Spec{
		Name:    "silent",
		Blurb:   "Don't log buffers",
		Type:    property.Bool,
		Default: true,
	}
)

type identity struct {
	c     *pipeline.Component
	props *property.Set

	mu sync.Mutex
	n  int
}

// NewIdentity returns filter that passes buffers unchanged. It can be
// scripted to slow down or fail the stream.
func NewIdentity(name string) *pipeline.Component {
	i := identity{
		props: property.NewSet(errorAfterSpec, sleepTimeSpec, silentSpec),
	}
	i.c = pipeline.NewComponent(name, "identity", pipeline.KindFilter, i.props,
		pipeline.Behavior{Start: i.start, Process: i.process},
		sinkTemplate(caps.Any()),
		srcTemplate(caps.Any()),
	)
	return i.c
}

func (i *identity) start(context.Context) error {
	i.mu.Lock()
	i.n = 0
	i.mu.Unlock()
	return nil
}

func (i *identity) process(ctx context.Context, b pipeline.Buffer) (pipeline.Buffer, error) {
	if d := time.Duration(i.props.Int("sleep-time")) * time.Microsecond; d > 0 {
		if err := sleep(ctx, d); err != nil {
			return b, err
		}
	}
	i.mu.Lock()
	i.n++
	n := i.n
	i.mu.Unlock()
	if after := i.props.Int("error-after"); after >= 0 && n > after {
		return b, fmt.Errorf("test error after %d buffers", after)
	}
	if !i.props.Bool("silent") {
		i.c.Logger().WithField("pts", b.PTS).Infof("chain: %d bytes, offset %d", b.Size(), b.Offset)
	}
	return b, nil
}
