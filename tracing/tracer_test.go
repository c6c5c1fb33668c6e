package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerProvider_ExportsOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	tp, err := InitTracerProvider("socialcore-test", &buf)
	require.NoError(t, err)

	_, span := Tracer.Start(context.Background(), "session.SignIn")
	span.End()

	Shutdown(context.Background(), tp)

	out := buf.String()
	assert.Contains(t, out, "session.SignIn")
	assert.Contains(t, out, "socialcore-test")
}

func TestInitTracerProvider_DefaultServiceName(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	var buf bytes.Buffer
	tp, err := InitTracerProvider("", &buf)
	require.NoError(t, err)

	_, span := Tracer.Start(context.Background(), "noop")
	span.End()
	Shutdown(context.Background(), tp)

	assert.Contains(t, buf.String(), defaultServiceName)
}

func TestShutdown_NilProvider(t *testing.T) {
	assert.NotPanics(t, func() { Shutdown(context.Background(), nil) })
}
