// Package server assembles the HTTP routes.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lgesuellip/barber-booker/internal/whatsapp"
)

type Options struct {
	Webhook *whatsapp.WebhookHandler
	// Signature validates X-Twilio-Signature on the webhook when set.
	Signature *whatsapp.SignatureValidator
	// MCP is mounted at /mcp when set.
	MCP    http.Handler
	Logger *zap.Logger
}

func NewRouter(o Options) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(o.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	var webhook http.Handler = http.HandlerFunc(o.Webhook.HandleIncoming)
	if o.Signature != nil {
		webhook = o.Signature.Middleware(webhook)
	}
	r.Method(http.MethodPost, "/webhook", webhook)

	if o.MCP != nil {
		r.Handle("/mcp", o.MCP)
	}
	return r
}

// RequestLogger logs one line per request with zap.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
