package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/config"
	"pipelined.dev/pipeline/element"
	"pipelined.dev/pipeline/log"
	"pipelined.dev/pipeline/metric"
)

const shutdownTimeout = 5 * time.Second

// options are persistent flags shared by commands.
type options struct {
	logLevel    string
	logFormat   string
	metricsAddr string
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "mediagraph",
		Short:         "Build and run media pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", string(log.Auto), "Log format: auto, text or json")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on the address")

	root.AddCommand(newLaunchCommand(opts))
	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newInspectCommand(opts))
	return root
}

// session is an initialized runtime with optional metrics endpoint.
type session struct {
	rt     *pipeline.Runtime
	log    logrus.FieldLogger
	server *http.Server
	served chan error
}

// open initializes the runtime. Settings of the configuration file are
// used unless flags are set explicitly.
func (o *options) open(cmd *cobra.Command, cfg *config.Config) (*session, error) {
	level, format, addr := o.logLevel, o.logFormat, o.metricsAddr
	if cfg != nil {
		flags := cmd.Flags()
		level = override(flags, "log-level", level, cfg.Logging.Level)
		format = override(flags, "log-format", format, cfg.Logging.Format)
		addr = override(flags, "metrics-addr", addr, cfg.Metrics.Addr)
	}

	logger, err := log.New(level, log.Format(format), cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	s := session{log: logger}
	initOptions := []pipeline.InitOption{
		pipeline.InitFactories(element.Factories()...),
		pipeline.InitLogger(logger),
	}
	if addr != "" {
		m := metric.New()
		if err := s.serve(addr, m); err != nil {
			return nil, err
		}
		initOptions = append(initOptions, pipeline.InitMetrics(m))
	}
	if s.rt, err = pipeline.Init(initOptions...); err != nil {
		s.shutdown()
		return nil, err
	}
	return &s, nil
}

// override returns file value if flag wasn't set and file value is not
// empty.
func override(flags *pflag.FlagSet, name, flagValue, fileValue string) string {
	if flags.Changed(name) || fileValue == "" {
		return flagValue
	}
	return fileValue
}

func (s *session) serve(addr string, m *metric.Metrics) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	s.served = make(chan error, 1)
	go func() {
		s.served <- s.server.Serve(ln)
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("serving metrics")
	return nil
}

func (s *session) shutdown() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("metrics shutdown")
	}
	if err := <-s.served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.WithError(err).Warn("metrics server")
	}
}

// close deinitializes runtime and stops metrics endpoint.
func (s *session) close() error {
	err := s.rt.Deinit()
	s.shutdown()
	return err
}

// play runs pipeline until the end of stream, error or interruption.
func (s *session) play(ctx context.Context, p *pipeline.Pipeline) error {
	l := s.log.WithField("pipeline", p.Name())
	l.Info("playing")
	start := time.Now()
	if err := pipeline.Run(ctx, p); err != nil {
		return err
	}
	if ctx.Err() != nil {
		l.Info("interrupted")
		return nil
	}
	l.WithField("duration", time.Since(start).Round(time.Millisecond)).Info("done")
	return nil
}
