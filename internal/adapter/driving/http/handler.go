package http

import (
	"net/http"
	"slices"
	"time"

	"github.com/Wyydra/learnloop/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/learnloop/internal/core/port"
	"github.com/Wyydra/learnloop/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	ChatService *service.ChatService
	CallService *service.CallService
	Hub         *ws.Hub
	Auth        port.Authenticator

	upgrader websocket.Upgrader
}

// NewHandler accepts socket upgrades from allowedOrigins, or from any origin
// when the list is empty.
func NewHandler(chatService *service.ChatService, callService *service.CallService, hub *ws.Hub, auth port.Authenticator, allowedOrigins []string) *Handler {
	return &Handler{
		ChatService: chatService,
		CallService: callService,
		Hub:         hub,
		Auth:        auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Get("/ws", h.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireUser)
		r.Get("/rooms", h.ListRooms)
		r.Get("/rooms/{roomID}/messages", h.ListMessages)
		r.Get("/exchanges/{exchangeID}/calls", h.ListCalls)
		r.Get("/calls/{callID}", h.GetCall)
	})

	return r
}
