package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/property"
)

func newInspectCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [KIND]",
		Short: "List element kinds or show properties and pads of the kind",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := opts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				renderFactories(out, s.rt.Factories())
				return nil
			}
			el, err := s.rt.Make(args[0], "")
			if err != nil {
				return err
			}
			renderElement(out, el)
			return nil
		},
	}
}

func newTable(out io.Writer, title string, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(title)
	tw.AppendHeader(header)
	return tw
}

func renderFactories(out io.Writer, factories []pipeline.Factory) {
	tw := newTable(out, "Elements", table.Row{"Kind", "Class", "Description"})
	for _, f := range factories {
		tw.AppendRow(table.Row{f.Kind, f.Class, f.Description})
	}
	tw.AppendFooter(table.Row{"", "Total", len(factories)})
	tw.Render()
}

func renderElement(out io.Writer, el pipeline.Element) {
	props := newTable(out, fmt.Sprintf("%s properties", el.Factory()), table.Row{"Name", "Type", "Default", "Values", "Description"})
	for _, spec := range el.Properties() {
		props.AppendRow(table.Row{spec.Name, spec.Type, defaultOf(spec), spec.Range(), spec.Blurb})
	}
	props.Render()

	t, ok := el.(interface{ Templates() []pipeline.PadTemplate })
	if !ok {
		return
	}
	pads := newTable(out, fmt.Sprintf("%s pad templates", el.Factory()), table.Row{"Name", "Direction", "Presence", "Caps"})
	for _, tmpl := range t.Templates() {
		pads.AppendRow(table.Row{tmpl.Name, tmpl.Direction, tmpl.Presence, tmpl.Caps})
	}
	pads.Render()
}

func defaultOf(spec property.Spec) interface{} {
	if v, ok := spec.Default.(int); ok && spec.Type == property.Enum {
		return spec.Nick(v)
	}
	return spec.Default
}
