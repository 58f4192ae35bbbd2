package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/safetyhub/internal/hub"
	"github.com/safetyhub/internal/middleware"
	"github.com/safetyhub/internal/storage"
	"github.com/safetyhub/internal/ws"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	// Ctx bounds WebSocket clients.
	Ctx            context.Context
	Hub            *hub.Hub
	Store          storage.Store
	VAPIDPublicKey string
	WS             ws.Options
	AllowedOrigins string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func NewRouter(d Deps) http.Handler {
	statusH := NewStatusHandler(d.Hub)
	reportsH := NewReportsHandler(d.Store)
	pushH := NewPushHandler(d.Store, d.VAPIDPublicKey)
	wsH := NewWSHandler(d.Ctx, d.Hub, d.WS, d.AllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compress := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compress.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(d.AllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", statusH.Health)
	r.Get("/ws", wsH.ServeWS)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimitAPI)
		r.Get("/status", statusH.Status)
		r.Get("/zones", statusH.Zones)
		r.Get("/places/{placeID}/rating", reportsH.PlaceRating)
		r.Get("/reports", reportsH.Reports)
		r.Get("/sos/history", reportsH.SOSHistory)
		r.Get("/push/vapid-public", pushH.VAPIDPublic)
		r.Post("/push/subscribe", pushH.Subscribe)
		r.Delete("/push/subscribe", pushH.Unsubscribe)
	})
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
