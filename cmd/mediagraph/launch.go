package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"pipelined.dev/pipeline/config"
	"pipelined.dev/pipeline/launch"
)

func newLaunchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "launch DESCRIPTION...",
		Short: "Build a pipeline from the description and run it",
		Example: `  mediagraph launch videotestsrc num-buffers=100 ! videoconvert ! autovideosink
  mediagraph launch uridecodebin uri=file:///tmp/a.wav ! audioconvert ! wavfilesink location=/tmp/b.wav`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := opts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, s.close())
			}()

			p, err := launch.Launch(s.rt, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.play(cmd.Context(), p)
		},
	}
}

func newRunCommand(opts *options) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build a pipeline from the TOML file and run it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := config.Load(file)
			if err != nil {
				return err
			}
			s, err := opts.open(cmd, cfg)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, s.close())
			}()

			p, err := cfg.Build(s.rt)
			if err != nil {
				return err
			}
			return s.play(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Pipeline file path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
