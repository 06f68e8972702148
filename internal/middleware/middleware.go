// Package middleware holds the request-scoped HTTP middlewares shared by the sentinel router.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// IDGenerator creates request IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RequestID reuses an inbound X-Request-Id or generates one, echoes it on the response and
// stores it where chi's GetReqID finds it.
func RequestID(ids IDGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(chimw.RequestIDHeader)
			if reqID == "" && ids != nil {
				reqID, _ = ids.NewID()
			}
			if reqID != "" {
				w.Header().Set(chimw.RequestIDHeader, reqID)
				r = r.WithContext(context.WithValue(r.Context(), chimw.RequestIDKey, reqID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Logger writes one debug entry per completed request.
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debug("request completed",
				zap.String("request_id", chimw.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Recoverer turns handler panics into a 500 JSON error. http.ErrAbortHandler is re-raised.
func Recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("request_id", chimw.GetReqID(r.Context())),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
