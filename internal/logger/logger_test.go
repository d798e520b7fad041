package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	thttp "github.com/wolfeidau/testdash/internal/http"
)

func TestSetup_Levels(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, Setup(false).GetLevel())
	require.Equal(t, zerolog.DebugLevel, Setup(true).GetLevel())
}

func TestHTTPRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := thttp.RequestIDMiddleware()(
		thttp.ClientIPMiddleware()(
			HTTPRequests(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				zerolog.Ctx(r.Context()).Debug().Msg("inside handler")
				w.WriteHeader(http.StatusBadGateway)
			})),
		),
	)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/orgs", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	r.Header.Set(thttp.HeaderRequestID, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	require.Equal(t, "http request", entry["message"])
	require.Equal(t, "error", entry["level"])
	require.Equal(t, "GET", entry["method"])
	require.Equal(t, "/api/v1/orgs", entry["path"])
	require.Equal(t, "203.0.113.7", entry["addr"])
	require.Equal(t, "req-1", entry["requestID"])
	require.EqualValues(t, http.StatusBadGateway, entry["status"])
}
