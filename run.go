package pipeline

import (
	"context"
	"errors"
	"fmt"

	"pipelined.dev/pipeline/bus"
	"pipelined.dev/pipeline/state"
)

// interrupt is the name of application message posted when run context
// is done.
const interrupt = "interrupt"

// Run sets pipeline to PLAYING and handles bus messages until the stream
// ends, an element fails or context is done. Pipeline is always brought
// back to NULL before Run returns. Nil is returned on end-of-stream and
// interruption.
func Run(ctx context.Context, p *Pipeline) (err error) {
	log := p.Logger()
	if ret, serr := p.SetState(state.Playing); ret == state.Failure {
		return fmt.Errorf("unable to set the pipeline to the playing state: %w", serr)
	}
	stop := context.AfterFunc(ctx, func() {
		p.Bus().Post(bus.NewApplication(p, bus.Structure{Name: interrupt}))
	})
	defer stop()
	defer func() {
		if _, terr := p.SetState(state.Null); terr != nil && err == nil {
			err = terr
		}
	}()

	for {
		m, ok := p.Bus().PopFiltered(bus.Forever, bus.Any)
		if !ok {
			return ErrClosed
		}
		switch m.Kind {
		case bus.Error:
			merr, debug := m.ParseError()
			log.WithField("element", m.SourceName()).Errorf("error received: %v", merr)
			if debug != "" {
				log.Debugf("debugging information: %s", debug)
			}
			return errorOf(m)
		case bus.EOS:
			log.Info("end-of-stream reached")
			return nil
		case bus.Warning:
			werr, _ := m.ParseError()
			log.WithField("element", m.SourceName()).Warnf("warning received: %v", werr)
		case bus.StateChanged:
			// only pipeline state changes are reported.
			if src, ok := m.Src.(*Pipeline); ok && src == p {
				oldState, newState, _ := m.ParseStateChanged()
				log.Infof("pipeline state changed from %v to %v", oldState, newState)
			}
		case bus.Application:
			if m.Structure().Name == interrupt {
				log.Info("interrupted")
				return nil
			}
			log.Debugf("application message %q", m.Structure().Name)
		case bus.Info:
			log.WithField("element", m.SourceName()).Infof("info received: %s", m.Structure().Name)
		case bus.Custom:
			log.WithField("element", m.SourceName()).Debugf("custom message %q", m.Structure().Name)
		case bus.AsyncDone:
			log.WithField("element", m.SourceName()).Debug("asynchronous state change done")
		default:
			return &RuntimeError{Element: m.SourceName(), Err: ErrUnexpected}
		}
	}
}

// errorOf returns typed error carried by error message.
func errorOf(m bus.Message) error {
	err, debug := m.ParseError()
	var (
		rerr *RuntimeError
		terr *TransitionError
	)
	if errors.As(err, &rerr) || errors.As(err, &terr) {
		return err
	}
	return &RuntimeError{Element: m.SourceName(), Err: err, Debug: debug}
}
