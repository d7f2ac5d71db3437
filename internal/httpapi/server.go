package httpapi

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cadmonkey/internal/engine"
	"cadmonkey/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Model() types.Model
	Ready() error
	Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error)
	ChatStream(ctx context.Context, req types.ChatRequest, out engine.Emitter) (engine.StreamSummary, error)
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints; event streams are not in the compressible set.
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}
	r.Post("/chat", h.chat)
	r.Post("/chat_stream", h.chatStream)
	r.Get("/health", h.health)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Ready(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready: " + err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// decodeChat parses the chat body. A missing message decodes to "" and is
// rejected by the service, not here.
func decodeChat(w http.ResponseWriter, r *http.Request) (types.ChatRequest, bool) {
	var req types.ChatRequest
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return req, false
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		// Oversized bodies also land here; report them the same way.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	return req, true
}

// chat godoc
// @Summary      Generate a reply
// @Description  Runs the model to completion and returns the cleaned reply.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        request  body      types.ChatRequest  true  "Chat request"
// @Success      200      {object}  types.ChatResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /chat [post]
func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	lvl := requestLogLevel(r)
	logStart(r, lvl)
	start := time.Now()

	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := h.svc.Chat(ctx, req)
	if err != nil {
		if r.Context().Err() != nil {
			logEnd(r, lvl, 499, start, "", err)
			return
		}
		logEnd(r, lvl, writeServiceError(w, err), start, "", err)
		return
	}
	writeJSON(w, resp)
	logEnd(r, lvl, http.StatusOK, start, "", nil)
}

// chatStream godoc
// @Summary      Stream a reply
// @Description  Streams content fragments as Server-Sent Events: {"token"} frames, then one {"done": true} or {"error"} frame.
// @Tags         chat
// @Accept       json
// @Produce      text/event-stream
// @Param        request  body      types.ChatRequest  true  "Chat request"
// @Success      200      {object}  types.TokenEvent
// @Failure      400      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Router       /chat_stream [post]
func (h *handlers) chatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}
	lvl := requestLogLevel(r)
	logStart(r, lvl)
	start := time.Now()

	var mirror io.Writer
	if lvl >= LevelDebug {
		mirror = &loggingLineWriter{prefix: "chat_stream"}
	}
	sse := newSSEWriter(w, mirror)

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	sum, err := h.svc.ChatStream(ctx, req, sse)
	if err != nil {
		if r.Context().Err() != nil {
			logEnd(r, lvl, 499, start, "", err)
			return
		}
		logEnd(r, lvl, writeServiceError(w, err), start, "", err)
		return
	}
	logEnd(r, lvl, http.StatusOK, start, sum.SessionID, sum.Err)
}

// health godoc
// @Summary  Health check
// @Tags     ops
// @Produce  json
// @Success  200  {object}  types.HealthResponse
// @Router   /health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.HealthResponse{Status: "healthy", Model: h.svc.Model().Name})
}
