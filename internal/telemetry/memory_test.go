package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemorySamplerReportsNonZero(t *testing.T) {
	t.Parallel()

	sampler := NewMemorySampler(zap.NewNop())
	require.Positive(t, sampler.Sample())
}

func TestMemorySamplerFallsBackWithoutProcfs(t *testing.T) {
	t.Parallel()

	sampler := &MemorySampler{logger: zap.NewNop()}
	require.Positive(t, sampler.Sample())
}
