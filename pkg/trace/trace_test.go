package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTraceStdout(t *testing.T) {
	shutdown, err := InitTrace(context.Background(), "recon-test", Config{Enabled: true, Exporter: ExporterStdout})
	require.NoError(t, err)
	_, span := otel.Tracer("test").Start(context.Background(), "op")
	require.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTraceUnknownExporter(t *testing.T) {
	_, err := InitTrace(context.Background(), "recon-test", Config{Enabled: true, Exporter: "zipkin"})
	require.Error(t, err)
}
