package config_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/config"
	"pipelined.dev/pipeline/element"
	"pipelined.dev/pipeline/launch"
	"pipelined.dev/pipeline/log"
	"pipelined.dev/pipeline/property"
	"pipelined.dev/pipeline/state"
)

const sample = `
name = "sample"

[[element]]
kind = "uridecodebin"
name = "decoder"
properties = { uri = "test://?streams=video,audio&num-buffers=3" }

[[element]]
kind = "audioconvert"
name = "convert"

[[element]]
kind = "fakesink"
name = "out"
properties = { silent = true, preroll-delay = 5 }

[[link]]
from = "convert"
to = "out.sink"

[[dynamic]]
from = "decoder"
to = "convert.sink"
caps = "audio/x-raw"
pad = "audio_%u"

[logging]
level = "debug"
format = "json"

[metrics]
addr = ":9090"
`

func newRuntime(t *testing.T) *pipeline.Runtime {
	t.Helper()
	rt, err := pipeline.Init(
		pipeline.InitFactories(element.Factories()...),
		pipeline.InitLogger(log.Discard()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Deinit() })
	return rt
}

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "sample", cfg.Name)
	require.Len(t, cfg.Elements, 3)
	assert.Equal(t, "uridecodebin", cfg.Elements[0].Kind)
	assert.Equal(t, int64(5), cfg.Elements[2].Properties["preroll-delay"])
	assert.Equal(t, []config.Link{{From: "convert", To: "out.sink"}}, cfg.Links)
	assert.Equal(t, "audio_%u", cfg.Dynamic[0].Pad)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)

	var buf bytes.Buffer
	l, err := cfg.Logger(&buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	l.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestInvalid(t *testing.T) {
	tests := []string{
		``,
		`name = "x"`,
		"[[element]]\nname = \"a\"",
		"[[element]]\nkind = \"fakesink\"\nproperties = { name = \"a\" }",
		"[[element]]\nkind = \"fakesink\"\n[[link]]\nfrom = \"a\"",
		"[[element]]\nkind = \"fakesink\"\n[[dynamic]]\nfrom = \"a\"\nto = \"b\"\ncaps = \"=bad\"",
		"launch = \"fakesink\"\n[logging]\nformat = \"xml\"",
		"launch = \"fakesink\"\n[logging]\nlevel = \"loud\"",
	}
	for _, test := range tests {
		_, err := config.Parse([]byte(test))
		assert.ErrorIs(t, err, config.ErrInvalid, test)
	}

	_, err := config.Parse([]byte("launch = \"fakesink\"\nunknown = 1"))
	assert.Error(t, err)
	_, err = config.Parse([]byte("launch = "))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sample", cfg.Name)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuild(t *testing.T) {
	defer goleak.VerifyNone(t)
	rt := newRuntime(t)
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)
	p, err := cfg.Build(rt)
	require.NoError(t, err)
	assert.Equal(t, "sample", p.Name())
	assert.True(t, p.ByName("out").Pad("sink").IsLinked())

	require.NoError(t, pipeline.Run(context.Background(), p))
	assert.Equal(t, state.Null, p.State())
}

func TestBuildLaunch(t *testing.T) {
	defer goleak.VerifyNone(t)
	rt := newRuntime(t)
	cfg, err := config.Parse([]byte(`
launch = "videotestsrc name=src num-buffers=2 width=4 height=4 ! videoconvert name=convert"

[[element]]
kind = "fakesink"
name = "out"

[[link]]
from = "convert.src"
to = "out"
`))
	require.NoError(t, err)
	p, err := cfg.Build(rt)
	require.NoError(t, err)
	assert.Equal(t, "pipeline0", p.Name())
	require.NoError(t, pipeline.Run(context.Background(), p))
}

func TestBuildErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	rt := newRuntime(t)
	tests := []struct {
		config string
		err    error
	}{
		{config: "launch = \"fakesink !\"", err: launch.ErrSyntax},
		{config: "[[element]]\nkind = \"nosuch\"", err: pipeline.ErrUnknownElementKind},
		{config: "[[element]]\nkind = \"fakesink\"\nname = \"a\"\n[[link]]\nfrom = \"b\"\nto = \"a\"", err: pipeline.ErrElementNotFound},
		{config: "[[element]]\nkind = \"fakesink\"\nname = \"a\"\nproperties = { async = 3 }", err: property.ErrInvalidValue},
		{config: "[[element]]\nkind = \"audiotestsrc\"\nname = \"a\"\n[[element]]\nkind = \"fakesink\"\nname = \"b\"\n[[link]]\nfrom = \"a.nope\"\nto = \"b\"", err: pipeline.ErrPadNotFound},
		{config: "[[element]]\nkind = \"audiotestsrc\"\nname = \"a\"\n[[element]]\nkind = \"autovideosink\"\nname = \"b\"\n[[link]]\nfrom = \"a\"\nto = \"b\"", err: pipeline.ErrCapabilityMismatch},
	}
	for _, test := range tests {
		cfg, err := config.Parse([]byte(test.config))
		require.NoError(t, err, test.config)
		p, err := cfg.Build(rt)
		assert.ErrorIs(t, err, test.err, test.config)
		assert.Nil(t, p, test.config)
	}
}
