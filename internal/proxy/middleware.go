package proxy

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/httplog/v3"
)

// Recovery recovers from panics in HTTP handlers and answers with a JSON 500.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					// ReverseProxy aborts this way when the upstream body breaks
					panic(rec)
				}
				// Logging of panics is handled in Logging middleware
				writeJSONError(r.Context(), w, "internal error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Logging logs proxied requests with method, path, status, and duration.
// Bearer tokens and bodies are never logged.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return httplog.RequestLogger(logger, &httplog.Options{
		Schema: httplog.SchemaECS.Concise(true),

		LogRequestHeaders:  []string{"Content-Type", "X-Correlation-Id", "Traceparent"},
		LogResponseHeaders: []string{"X-Ratelimit-Remaining", "X-Ratelimit-Reset"},
		LogRequestBody:     nil,
		LogResponseBody:    nil,

		RecoverPanics: false, // use dedicated middleware, panics are logged regardless
	})
}
