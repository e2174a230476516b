package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"pipelined.dev/pipeline/log"
	"pipelined.dev/pipeline/metric"
)

// Factory makes elements of a single kind.
type Factory struct {
	// Kind is the name elements are made by, e.g. "videotestsrc".
	Kind        string
	Class       Kind
	Description string
	// New returns element with provided name.
	New func(name string) (Element, error)
}

// InitOption configures runtime.
type InitOption func(r *Runtime) error

// InitFactories registers factories during Init.
func InitFactories(factories ...Factory) InitOption {
	return func(r *Runtime) error {
		for _, f := range factories {
			if err := r.register(f); err != nil {
				return err
			}
		}
		return nil
	}
}

// InitLogger sets logger passed to pipelines made by runtime.
func InitLogger(logger logrus.FieldLogger) InitOption {
	return func(r *Runtime) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		r.log = logger
		return nil
	}
}

// InitMetrics sets metrics passed to pipelines made by runtime.
func InitMetrics(m *metric.Metrics) InitOption {
	return func(r *Runtime) error {
		r.metrics = m
		return nil
	}
}

// Runtime is the element registry. It must be initialized before any
// element is made and deinitialized after all pipelines are done.
type Runtime struct {
	mu            sync.Mutex
	factories     map[string]Factory
	counters      map[string]int
	pipelines     map[*Pipeline]struct{}
	log           logrus.FieldLogger
	metrics       *metric.Metrics
	deinitialized bool
}

// Init returns initialized runtime.
func Init(options ...InitOption) (*Runtime, error) {
	r := Runtime{
		factories: make(map[string]Factory),
		counters:  make(map[string]int),
		pipelines: make(map[*Pipeline]struct{}),
		log:       log.GetLogger(),
	}
	for _, option := range options {
		if err := option(&r); err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
	}
	r.log.WithField("factories", len(r.factories)).Debug("runtime initialized")
	return &r, nil
}

// Register adds factory to the registry.
func (r *Runtime) Register(f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deinitialized {
		return ErrDeinitialized
	}
	return r.registerLocked(f)
}

func (r *Runtime) register(f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(f)
}

func (r *Runtime) registerLocked(f Factory) error {
	if f.Kind == "" || f.New == nil {
		return fmt.Errorf("register %q: incomplete factory", f.Kind)
	}
	if _, ok := r.factories[f.Kind]; ok {
		return fmt.Errorf("register %s: %w", f.Kind, ErrFactoryExists)
	}
	r.factories[f.Kind] = f
	return nil
}

// Factory returns registered factory.
func (r *Runtime) Factory(kind string) (Factory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.factories[kind]
	return f, ok
}

// Factories returns registered factories sorted by kind.
func (r *Runtime) Factories() []Factory {
	r.mu.Lock()
	defer r.mu.Unlock()
	factories := make([]Factory, 0, len(r.factories))
	for _, f := range r.factories {
		factories = append(factories, f)
	}
	sort.Slice(factories, func(i, j int) bool {
		return factories[i].Kind < factories[j].Kind
	})
	return factories
}

// Make returns new element of the kind in NULL state. If name is empty,
// it's generated from the kind and a per-kind counter, e.g. "fakesink0".
func (r *Runtime) Make(kind, name string) (Element, error) {
	r.mu.Lock()
	if r.deinitialized {
		r.mu.Unlock()
		return nil, &ConstructionError{Kind: kind, Name: name, Err: ErrDeinitialized}
	}
	f, ok := r.factories[kind]
	if !ok {
		r.mu.Unlock()
		return nil, &ConstructionError{Kind: kind, Name: name, Err: ErrUnknownElementKind}
	}
	if name == "" {
		name = kind + strconv.Itoa(r.counters[kind])
		r.counters[kind]++
	}
	r.mu.Unlock()

	el, err := f.New(name)
	if err != nil {
		return nil, &ConstructionError{Kind: kind, Name: name, Err: err}
	}
	return el, nil
}

// NewPipeline returns new pipeline with runtime logger and metrics.
// Provided options are applied after runtime defaults.
func (r *Runtime) NewPipeline(name string, options ...Option) (*Pipeline, error) {
	r.mu.Lock()
	if r.deinitialized {
		r.mu.Unlock()
		return nil, ErrDeinitialized
	}
	if name == "" {
		name = "pipeline" + strconv.Itoa(r.counters["pipeline"])
		r.counters["pipeline"]++
	}
	defaults := []Option{WithLogger(r.log), WithMetrics(r.metrics)}
	r.mu.Unlock()

	p, err := New(name, append(defaults, options...)...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deinitialized {
		p.Close()
		return nil, ErrDeinitialized
	}
	r.pipelines[p] = struct{}{}
	p.onClose = func() {
		r.release(p)
	}
	return p, nil
}

// release forgets closed pipeline.
func (r *Runtime) release(p *Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pipelines, p)
}

// Deinit closes all pipelines made by runtime. Runtime cannot be used
// after Deinit. Consequent calls do nothing.
func (r *Runtime) Deinit() error {
	r.mu.Lock()
	if r.deinitialized {
		r.mu.Unlock()
		return nil
	}
	r.deinitialized = true
	pipelines := make([]*Pipeline, 0, len(r.pipelines))
	for p := range r.pipelines {
		pipelines = append(pipelines, p)
	}
	r.pipelines = nil
	r.mu.Unlock()

	var errs execErrors
	for _, p := range pipelines {
		errs = errs.add(p.Close())
	}
	r.log.Debug("runtime deinitialized")
	return errs.ret()
}
