package profiling_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/siteops/internal/config"
	"github.com/jonesrussell/siteops/internal/logger"
	"github.com/jonesrussell/siteops/internal/profiling"
)

func TestStart_DisabledIsInert(t *testing.T) {
	t.Parallel()

	p, err := profiling.Start(config.ProfilingConfig{}, "test", logger.NewNop())
	require.NoError(t, err)

	assert.Empty(t, p.PprofAddr())
	assert.NoError(t, p.Stop(context.Background()))
}

func TestStart_PprofServesIndex(t *testing.T) {
	t.Parallel()

	// Port 0 picks a free port.
	p, err := profiling.Start(config.ProfilingConfig{PprofEnabled: true, PprofPort: 0}, "test", logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Stop(context.Background()) })

	resp, err := http.Get("http://" + p.PprofAddr() + "/debug/pprof/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStop_NilProfiler(t *testing.T) {
	t.Parallel()

	var p *profiling.Profiler
	assert.NoError(t, p.Stop(context.Background()))
}
