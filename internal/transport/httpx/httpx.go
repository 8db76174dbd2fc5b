// Package httpx is the HTTP-style transport adapter from spec §4.2:
// JSON body in, route chosen by an in-path route name, JSON (or SSE
// for streaming routes) out. Grounded on the teacher's
// internal/api/router.go (chi router, global middleware stack,
// CORS) and internal/api/middleware (Logger, APIKeyAuth), generalized
// from "one chi route per REST endpoint, one Handlers method per
// route" to "one POST endpoint per registered Route name, all of them
// going through the same dispatch.Dispatcher".
package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ocentra/tabagentd/internal/appstate"
	"github.com/ocentra/tabagentd/internal/dispatch"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/routespec"
	"github.com/ocentra/tabagentd/pkg/stream"
	"github.com/ocentra/tabagentd/pkg/value"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 10 << 20 // 10 MiB, generous over the Model Cache's 5 MiB chunk ceiling

// NewRouter builds the HTTP adapter: one POST /api/v1/{route} endpoint
// per registered route, plus /health, /version, and /metrics.
func NewRouter(disp *dispatch.Dispatcher, as *appstate.AppState, auth *APIKeyAuth, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(requestIDMiddleware)
	r.Use(loggerMiddleware(log))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   parseCORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if auth != nil {
		r.Use(auth.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": as.StartedVer})
	})
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": as.StartedVer})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/{route}", dispatchHandler(disp, as))
	})

	return r
}

func dispatchHandler(disp *dispatch.Dispatcher, as *appstate.AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routeID := value.ValueType(chi.URLParam(r, "route"))
		requestID := requestIDFrom(r)

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			writeError(w, requestID, apperr.Wrap(apperr.Protocol, "read request body", err))
			return
		}
		if len(body) > maxBodyBytes {
			writeError(w, requestID, apperr.New(apperr.Protocol, "request body exceeds maximum size"))
			return
		}

		caller := callerFrom(r)
		callerKey := callerKeyFrom(r)

		env, derr := disp.DispatchDecoded(r.Context(), routeID, body, requestID, caller, callerKey, as)
		if derr != nil {
			writeError(w, requestID, derr)
			return
		}

		w.Header().Set("X-Request-Id", string(requestID))

		if streamer, ok := env.Payload().(stream.JSONStreamer); ok {
			streamSSE(w, r, streamer)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"request_id": requestID,
			"success":    true,
			"data":       env.Payload(),
		})
	}
}

// streamSSE drains a streaming route's frames as server-sent events,
// the credit-based flow control spec §4.1 requires the adapter to
// exert: each frame is only pulled once the prior one has been
// flushed to the client.
func streamSSE(w http.ResponseWriter, r *http.Request, s stream.JSONStreamer) {
	flusher, ok := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		frame, done, err := s.NextJSON(r.Context())
		if err != nil {
			writeSSEEvent(w, "error", []byte(`{"message":"`+err.Error()+`"}`))
			if ok {
				flusher.Flush()
			}
			return
		}
		if frame != nil {
			writeSSEEvent(w, "frame", frame)
			if ok {
				flusher.Flush()
			}
		}
		if done {
			writeSSEEvent(w, "done", []byte(`{}`))
			if ok {
				flusher.Flush()
			}
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, data []byte) {
	io.WriteString(w, "event: "+event+"\n")
	io.WriteString(w, "data: ")
	w.Write(data)
	io.WriteString(w, "\n\n")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders an *apperr.Error to the {request_id, success:false,
// error:{code,message,details}} wire shape from spec §6.
func writeError(w http.ResponseWriter, requestID ids.RequestId, err *apperr.Error) {
	status := httpStatus(err.Kind)
	writeJSON(w, status, map[string]any{
		"request_id": requestID,
		"success":    false,
		"error": map[string]any{
			"code":    err.Kind,
			"message": err.Message,
			"details": err.Details,
		},
	})
}

func httpStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation, apperr.Protocol:
		return http.StatusBadRequest
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.PreconditionFailed:
		return http.StatusPreconditionFailed
	case apperr.NotFound, apperr.RouteNotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Resource:
		return http.StatusInsufficientStorage
	case apperr.Backend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requestIDMiddleware tags every inbound request with a RequestId,
// inherited from X-Request-Id if present, else minted — spec §4.2's
// mandatory "adapters MUST tag every inbound request with a
// RequestId".
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", string(ids.NewRequestId()))
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDFrom(r *http.Request) ids.RequestId {
	return ids.RequestId(r.Header.Get("X-Request-Id"))
}

func callerFrom(r *http.Request) dispatch.Caller {
	if r.Header.Get("X-API-Key") != "" || strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return dispatch.Caller{Authenticated: true, AuthClass: routespec.AuthAPIKey}
	}
	return dispatch.Caller{Authenticated: false, AuthClass: routespec.AuthPublic}
}

func callerKeyFrom(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	return r.RemoteAddr
}

// loggerMiddleware mirrors the teacher's middleware.Logger: structured
// per-request logging with status-dependent level.
func loggerMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(rw, r)

			event := log.Info()
			if rw.Status() >= 400 {
				event = log.Warn()
			}
			if rw.Status() >= 500 {
				event = log.Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.Status()).
				Int("bytes", rw.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", r.Header.Get("X-Request-Id")).
				Msg("http request")
		})
	}
}

// parseCORSOrigins reads allowed CORS origins from the environment,
// default wildcard — matching the teacher's parseCORSOrigins.
func parseCORSOrigins() []string {
	env := os.Getenv("TABAGENT_CORS_ORIGINS")
	if env == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(env, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
