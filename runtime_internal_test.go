package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/pipeline/log"
)

func tracked(r *Runtime) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pipelines)
}

func TestRuntimeReleasesClosed(t *testing.T) {
	r, err := Init(InitLogger(log.Discard()))
	require.NoError(t, err)

	first, err := r.NewPipeline("")
	require.NoError(t, err)
	second, err := r.NewPipeline("")
	require.NoError(t, err)
	assert.Equal(t, 2, tracked(r))

	require.NoError(t, first.Close())
	assert.Equal(t, 1, tracked(r))
	// closed twice.
	require.NoError(t, first.Close())
	assert.Equal(t, 1, tracked(r))

	require.NoError(t, r.Deinit())
	assert.Equal(t, 0, tracked(r))
	require.NoError(t, second.Close())
}
