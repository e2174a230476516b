package element

import (
	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/caps"
)

// NewTee returns filter that repeats the stream to src_0 and src_1 pads.
// Branches share buffer data and must not modify it. Both pads have to be
// linked, tee stops with not linked error otherwise.
func NewTee(name string) *pipeline.Component {
	all := caps.Any()
	return pipeline.NewComponent(name, "tee", pipeline.KindFilter, nil,
		pipeline.Behavior{},
		sinkTemplate(all),
		pipeline.PadTemplate{Name: "src_0", Direction: pipeline.Src, Caps: all},
		pipeline.PadTemplate{Name: "src_1", Direction: pipeline.Src, Caps: all},
	)
}
