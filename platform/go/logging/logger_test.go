package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerEmitsCloudLoggingFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "provisioner", Level: "debug", Output: &buf})
	require.NoError(t, err)

	logger.Warn("compensation failed", zap.String("slug", "acme"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "WARNING", entry["severity"])
	require.Equal(t, "provisioner", entry["component"])
	require.Equal(t, "acme", entry["slug"])
	require.Equal(t, "compensation failed", entry["message"])
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "loud"})
	require.Error(t, err)
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	require.Same(t, l, OrNop(l))
}

func TestRequestLoggerStoresLogger(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewLogger(Config{Output: &buf})
	require.NoError(t, err)

	var found bool
	h := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, found = FromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.True(t, found)
	require.Contains(t, buf.String(), `"status":202`)
	require.Contains(t, buf.String(), `"path":"/healthz"`)
}
