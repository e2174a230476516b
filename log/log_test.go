package log_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/pipeline/log"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l, err := log.New("warn", log.Auto, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())

	l.WithField("element", "fakesink0").Info("dropped")
	l.WithField("element", "fakesink0").Warn("late buffer")

	// buffer is not a terminal, so output is json.
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "late buffer", entry["msg"])
	assert.Equal(t, "fakesink0", entry["element"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	l, err := log.New("", log.Text, &buf)
	require.NoError(t, err)
	l.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNewErrors(t *testing.T) {
	_, err := log.New("loud", log.Auto, &bytes.Buffer{})
	assert.Error(t, err)
	_, err = log.New("info", log.Format("xml"), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	l := log.Discard()
	l.Error("nobody hears")
	assert.NotNil(t, l)
}
