package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/launch"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(append([]string{"--log-format", "json"}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands(t *testing.T) {
	cmd := newRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"launch", "run", "inspect"}, names)
}

func TestInspect(t *testing.T) {
	out, err := execute(t, "inspect")
	require.NoError(t, err)
	for _, kind := range []string{"videotestsrc", "uridecodebin", "playbin", "wavfilesink"} {
		assert.Contains(t, out, kind)
	}

	out, err = execute(t, "inspect", "videotestsrc")
	require.NoError(t, err)
	assert.Contains(t, out, "pattern")
	assert.Contains(t, out, "smpte")
	assert.Contains(t, out, "video/x-raw")

	out, err = execute(t, "inspect", "uridecodebin")
	require.NoError(t, err)
	assert.Contains(t, out, "audio_%u")
	assert.Contains(t, out, "sometimes")

	_, err = execute(t, "inspect", "nosuch")
	assert.ErrorIs(t, err, pipeline.ErrUnknownElementKind)
}

func TestLaunch(t *testing.T) {
	defer goleak.VerifyNone(t)
	_, err := execute(t, "launch", "videotestsrc", "num-buffers=2", "width=4", "height=4", "!", "fakesink")
	require.NoError(t, err)

	_, err = execute(t, "launch", "videotestsrc", "!")
	assert.ErrorIs(t, err, launch.ErrSyntax)

	_, err = execute(t, "launch")
	assert.Error(t, err)

	_, err = execute(t, "--log-format", "xml", "launch", "fakesink")
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	path := filepath.Join(t.TempDir(), "pipeline.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
name = "test"
launch = "audiotestsrc num-buffers=3 ! audioconvert ! fakesink"

[metrics]
addr = "127.0.0.1:0"
`), 0o644))

	_, err := execute(t, "run", "-f", path)
	require.NoError(t, err)

	_, err = execute(t, "run")
	assert.Error(t, err)

	_, err = execute(t, "run", "-f", filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, errorExitCode, run([]string{"inspect", "nosuch"}))
	assert.Equal(t, successExitCode, run([]string{"--log-level", "error", "inspect"}))
}
