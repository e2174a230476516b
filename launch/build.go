package launch

import (
	"fmt"

	"pipelined.dev/pipeline"
)

// Launch parses description and builds a new pipeline in NULL state.
func Launch(rt *pipeline.Runtime, description string, options ...pipeline.Option) (*pipeline.Pipeline, error) {
	d, err := Parse(description)
	if err != nil {
		return nil, err
	}
	p, err := rt.NewPipeline("", options...)
	if err != nil {
		return nil, err
	}
	if err := d.Build(rt, &p.Bin); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Build makes elements of the description, adds them to the bin and links
// them.
func (d *Description) Build(rt *pipeline.Runtime, b *pipeline.Bin) error {
	made := make(map[*node]pipeline.Element)
	for _, chain := range d.chains {
		for _, n := range chain {
			if n.kind == "" {
				continue
			}
			el, err := makeElement(rt, n)
			if err != nil {
				return err
			}
			if err := b.Add(el); err != nil {
				return err
			}
			made[n] = el
		}
	}
	for _, chain := range d.chains {
		for i := 0; i < len(chain)-1; i++ {
			src, err := resolve(b, made, chain[i])
			if err != nil {
				return err
			}
			sink, err := resolve(b, made, chain[i+1])
			if err != nil {
				return err
			}
			if err := link(b, src, sink); err != nil {
				return err
			}
		}
	}
	return nil
}

func makeElement(rt *pipeline.Runtime, n *node) (pipeline.Element, error) {
	el, err := rt.Make(n.kind, n.name())
	if err != nil {
		return nil, err
	}
	for _, a := range n.props {
		if a.name == "name" {
			continue
		}
		if err := el.SetProperty(a.name, a.value); err != nil {
			return nil, fmt.Errorf("%s: %w", el.Name(), err)
		}
	}
	return el, nil
}

// endpoint is an element with optional pad name.
type endpoint struct {
	pipeline.Element
	pad string
}

func resolve(b *pipeline.Bin, made map[*node]pipeline.Element, n *node) (endpoint, error) {
	if el, ok := made[n]; ok {
		return endpoint{Element: el}, nil
	}
	el := b.ByName(n.ref)
	if el == nil {
		return endpoint{}, fmt.Errorf("%w: %q at position %d", ErrNoSuchElement, n.ref, n.pos)
	}
	return endpoint{Element: el, pad: n.pad}, nil
}

type templater interface {
	Templates() []pipeline.PadTemplate
}

// link connects endpoints. If the source pad doesn't exist yet, the link
// is registered as dynamic.
func link(b *pipeline.Bin, src, sink endpoint) error {
	if src.pad == "" && sink.pad == "" && !dynamic(src.Element) {
		return pipeline.LinkElements(src.Element, sink.Element)
	}

	sinkPad, err := sinkPadOf(sink)
	if err != nil {
		return err
	}
	if src.pad == "" {
		if dynamic(src.Element) {
			return b.LinkDynamic(src.Element, sinkPad, sinkPad.Caps())
		}
		err = &pipeline.LinkError{Src: src.Name(), Sink: sinkPad.String(), Err: pipeline.ErrNoCompatiblePads}
		for _, p := range src.Pads() {
			if p.Direction() != pipeline.Src || p.IsLinked() {
				continue
			}
			if _, err = pipeline.LinkPads(p, sinkPad); err == nil {
				return nil
			}
		}
		return err
	}

	if p := src.Pad(src.pad); p != nil {
		_, err := pipeline.LinkPads(p, sinkPad)
		return err
	}
	if t, ok := src.Element.(templater); ok {
		for _, tmpl := range t.Templates() {
			if tmpl.Direction == pipeline.Src && tmpl.Presence == pipeline.Sometimes {
				return b.LinkDynamic(src.Element, sinkPad, sinkPad.Caps(), pipeline.WithPadName(src.pad))
			}
		}
	}
	return &pipeline.LinkError{Src: src.Name() + ":" + src.pad, Sink: sinkPad.String(), Err: pipeline.ErrPadNotFound}
}

// sinkPadOf returns requested or the first unlinked sink pad.
func sinkPadOf(e endpoint) (*pipeline.Pad, error) {
	if e.pad != "" {
		if p := e.Pad(e.pad); p != nil && p.Direction() == pipeline.Sink {
			return p, nil
		}
		return nil, &pipeline.LinkError{Sink: e.Name() + ":" + e.pad, Err: pipeline.ErrPadNotFound}
	}
	for _, p := range e.Pads() {
		if p.Direction() == pipeline.Sink && !p.IsLinked() {
			return p, nil
		}
	}
	return nil, &pipeline.LinkError{Sink: e.Name(), Err: pipeline.ErrNoCompatiblePads}
}

// dynamic returns true if element has no src pads yet, but can add them.
func dynamic(el pipeline.Element) bool {
	for _, p := range el.Pads() {
		if p.Direction() == pipeline.Src {
			return false
		}
	}
	t, ok := el.(templater)
	if !ok {
		return false
	}
	for _, tmpl := range t.Templates() {
		if tmpl.Direction == pipeline.Src && tmpl.Presence == pipeline.Sometimes {
			return true
		}
	}
	return false
}
