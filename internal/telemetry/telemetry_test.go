package telemetry

import (
	"context"
	"testing"

	"github.com/AdamBeresnev/parlor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_DisabledIsNoop(t *testing.T) {
	tests := []config.OTELConfig{
		{Enabled: true},
		{Enabled: false, Endpoint: "http://localhost:4318"},
	}
	for _, cfg := range tests {
		shutdown, err := Setup(t.Context(), cfg)
		require.NoError(t, err)
		assert.NoError(t, shutdown(t.Context()))
	}
}

func TestSetup_Enabled(t *testing.T) {
	shutdown, err := Setup(t.Context(), config.OTELConfig{
		Enabled:     true,
		Endpoint:    "http://127.0.0.1:4318",
		ServiceName: "parlor-test",
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	t.Cleanup(func() { _ = shutdown(context.Background()) })
}
