package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type staticID string

func (s staticID) NewID() (string, error) { return string(s), nil }

func TestRequestID(t *testing.T) {
	t.Parallel()

	var seen string
	h := RequestID(staticID("generated"))(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = chimw.GetReqID(r.Context())
	}))

	tests := []struct {
		name    string
		inbound string
		want    string
	}{
		{name: "generated", want: "generated"},
		{name: "propagated", inbound: "edge-42", want: "edge-42"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.inbound != "" {
			req.Header.Set(chimw.RequestIDHeader, tt.inbound)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, tt.want, seen, tt.name)
		require.Equal(t, tt.want, rec.Header().Get(chimw.RequestIDHeader), tt.name)
	}
}

func TestLoggerRecordsStatus(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	h := Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tea", nil))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	require.EqualValues(t, http.StatusTeapot, entries[0].ContextMap()["status"])
	require.Equal(t, "/tea", entries[0].ContextMap()["path"])
}

func TestRecoverer(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	h := Recoverer(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	require.Equal(t, 1, logs.Len())
}

func TestRecovererReraisesAbort(t *testing.T) {
	t.Parallel()

	h := Recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
