package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupWithoutEndpointKeepsGlobalProvider(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupInstallsExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Setup(context.Background(), Config{
		OTLPEndpoint: "http://127.0.0.1:4318",
		ServiceName:  "catalogsync-test",
		Insecure:     true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, prev, otel.GetTracerProvider())

	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
