package tracing

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(Config{Enabled: false})
	require.NoError(t, err)
	require.False(t, p.Enabled())
	require.NotNil(t, p.Tracer())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_FileRequiresPath(t *testing.T) {
	_, err := NewProvider(Config{Enabled: true, Exporter: "file"})
	require.Error(t, err)
}

func TestNewProvider_UnsupportedExporter(t *testing.T) {
	_, err := NewProvider(Config{Enabled: true, Exporter: "carrier-pigeon"})
	require.Error(t, err)
}

func TestFileExporter_WritesSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "out.jsonl")

	p, err := NewProvider(Config{Enabled: true, Exporter: "file", FilePath: path})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "registry.refresh")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var record SpanRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	require.Equal(t, "registry.refresh", record.Name)
	require.NotEmpty(t, record.TraceID)
}
