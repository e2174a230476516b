package pipeline

import (
	"errors"

	"github.com/sirupsen/logrus"

	"pipelined.dev/pipeline/metric"
)

// Option provides a way to set functional parameters to pipeline.
type Option func(p *Pipeline) error

// WithLogger sets logger to pipeline.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		p.log = logger
		return nil
	}
}

// WithMetrics enables metrics for pipeline. Bus messages and buffers
// handled by elements are counted.
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// WithElements adds elements to the pipeline.
func WithElements(elements ...Element) Option {
	return func(p *Pipeline) error {
		return p.Add(elements...)
	}
}
