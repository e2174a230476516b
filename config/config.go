// Package config loads pipelines from TOML files.
//
//	name = "transcode"
//
//	[[element]]
//	kind = "uridecodebin"
//	name = "decoder"
//	properties = { uri = "file:///tmp/in.wav" }
//
//	[[element]]
//	kind = "audioconvert"
//	name = "convert"
//
//	[[element]]
//	kind = "wavfilesink"
//	name = "out"
//	properties = { location = "/tmp/out.wav" }
//
//	[[link]]
//	from = "convert"
//	to = "out.sink"
//
//	[[dynamic]]
//	from = "decoder"
//	to = "convert.sink"
//	caps = "audio/x-raw"
//	pad = "audio_%u"
//
// Launch description, if present, is built before elements and links, so
// they can reference its named elements.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/caps"
	"pipelined.dev/pipeline/launch"
	"pipelined.dev/pipeline/log"
)

// ErrInvalid is returned when configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

type (
	// Config describes a pipeline.
	Config struct {
		Name     string    `toml:"name"`
		Launch   string    `toml:"launch"`
		Elements []Element `toml:"element"`
		Links    []Link    `toml:"link"`
		Dynamic  []Dynamic `toml:"dynamic"`
		Logging  Logging   `toml:"logging"`
		Metrics  Metrics   `toml:"metrics"`
	}

	// Element is made by the runtime factory of the kind.
	Element struct {
		Kind       string                 `toml:"kind"`
		Name       string                 `toml:"name"`
		Properties map[string]interface{} `toml:"properties"`
	}

	// Link connects two elements. Endpoints are "element" or
	// "element.pad".
	Link struct {
		From string `toml:"from"`
		To   string `toml:"to"`
	}

	// Dynamic link is resolved when producer adds a matching pad.
	Dynamic struct {
		From string `toml:"from"`
		To   string `toml:"to"`
		Caps string `toml:"caps"`
		Pad  string `toml:"pad"`
	}

	// Logging configures pipeline logger.
	Logging struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	}

	// Metrics configures prometheus endpoint.
	Metrics struct {
		Addr string `toml:"addr"`
	}
)

// Load reads and parses configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that configuration is complete. References to
// elements are checked when pipeline is built.
func (c *Config) Validate() error {
	var problems []string
	if c.Launch == "" && len(c.Elements) == 0 {
		problems = append(problems, "no elements")
	}
	for i, e := range c.Elements {
		if e.Kind == "" {
			problems = append(problems, fmt.Sprintf("element %d: kind is required", i))
		}
		if _, ok := e.Properties["name"]; ok {
			problems = append(problems, fmt.Sprintf("element %d: name is not a property", i))
		}
	}
	for i, l := range c.Links {
		if l.From == "" || l.To == "" {
			problems = append(problems, fmt.Sprintf("link %d: from and to are required", i))
		}
	}
	for i, d := range c.Dynamic {
		if d.From == "" || d.To == "" {
			problems = append(problems, fmt.Sprintf("dynamic %d: from and to are required", i))
		}
		if d.Caps != "" {
			if _, err := caps.Parse(d.Caps); err != nil {
				problems = append(problems, fmt.Sprintf("dynamic %d: %v", i, err))
			}
		}
	}
	switch log.Format(c.Logging.Format) {
	case "", log.Auto, log.Text, log.JSON:
	default:
		problems = append(problems, fmt.Sprintf("logging: unknown format %q", c.Logging.Format))
	}
	if c.Logging.Level != "" {
		if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
			problems = append(problems, "logging: "+err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Logger returns logger configured by logging section.
func (c *Config) Logger(out io.Writer) (*logrus.Logger, error) {
	return log.New(c.Logging.Level, log.Format(c.Logging.Format), out)
}

// Build makes a new pipeline in NULL state. Pipeline is closed if any
// element cannot be made or linked.
func (c *Config) Build(rt *pipeline.Runtime, options ...pipeline.Option) (*pipeline.Pipeline, error) {
	p, err := rt.NewPipeline(c.Name, options...)
	if err != nil {
		return nil, err
	}
	if err := c.build(rt, p); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (c *Config) build(rt *pipeline.Runtime, p *pipeline.Pipeline) error {
	if c.Launch != "" {
		d, err := launch.Parse(c.Launch)
		if err != nil {
			return err
		}
		if err := d.Build(rt, &p.Bin); err != nil {
			return err
		}
	}
	for _, e := range c.Elements {
		el, err := rt.Make(e.Kind, e.Name)
		if err != nil {
			return err
		}
		for name, value := range e.Properties {
			if err := el.SetProperty(name, value); err != nil {
				return fmt.Errorf("%s: %w", el.Name(), err)
			}
		}
		if err := p.Add(el); err != nil {
			return err
		}
	}
	for _, l := range c.Links {
		if err := link(p, l); err != nil {
			return err
		}
	}
	for _, d := range c.Dynamic {
		if err := dynamic(p, d); err != nil {
			return err
		}
	}
	return nil
}

func link(p *pipeline.Pipeline, l Link) error {
	src, srcPad, err := endpoint(p, l.From)
	if err != nil {
		return err
	}
	sink, sinkPad, err := endpoint(p, l.To)
	if err != nil {
		return err
	}
	if srcPad == "" && sinkPad == "" {
		return pipeline.LinkElements(src, sink)
	}
	sp, err := pad(src, srcPad, pipeline.Src)
	if err != nil {
		return err
	}
	dp, err := pad(sink, sinkPad, pipeline.Sink)
	if err != nil {
		return err
	}
	_, err = pipeline.LinkPads(sp, dp)
	return err
}

func dynamic(p *pipeline.Pipeline, d Dynamic) error {
	producer, _, err := endpoint(p, d.From)
	if err != nil {
		return err
	}
	sink, sinkPad, err := endpoint(p, d.To)
	if err != nil {
		return err
	}
	dp, err := pad(sink, sinkPad, pipeline.Sink)
	if err != nil {
		return err
	}
	want := dp.Caps()
	if d.Caps != "" {
		// validated already
		want = caps.MustParse(d.Caps)
	}
	var options []pipeline.DynamicOption
	if d.Pad != "" {
		options = append(options, pipeline.WithPadName(d.Pad))
	}
	return p.LinkDynamic(producer, dp, want, options...)
}

// endpoint resolves "element" or "element.pad" reference.
func endpoint(p *pipeline.Pipeline, ref string) (pipeline.Element, string, error) {
	name, pad, _ := strings.Cut(ref, ".")
	el := p.ByName(name)
	if el == nil {
		return nil, "", fmt.Errorf("%w: %q", pipeline.ErrElementNotFound, name)
	}
	return el, pad, nil
}

// pad returns named pad or the first unlinked pad of direction.
func pad(el pipeline.Element, name string, d pipeline.Direction) (*pipeline.Pad, error) {
	if name != "" {
		if p := el.Pad(name); p != nil && p.Direction() == d {
			return p, nil
		}
		return nil, &pipeline.LinkError{Src: el.Name(), Sink: name, Err: pipeline.ErrPadNotFound}
	}
	for _, p := range el.Pads() {
		if p.Direction() == d && !p.IsLinked() {
			return p, nil
		}
	}
	return nil, &pipeline.LinkError{Src: el.Name(), Sink: d.String(), Err: pipeline.ErrNoCompatiblePads}
}
