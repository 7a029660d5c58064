package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/roomchat/internal/auth"
	"github.com/roomchat/internal/config"
	"github.com/roomchat/internal/middleware"
	"github.com/roomchat/internal/service"
	"github.com/roomchat/internal/ws"
)

// RouterDeps is everything the API routes are built from.
type RouterDeps struct {
	Config  *config.Config
	Service *service.Service
	Hub     *ws.Hub
	Tokens  *auth.Tokens
	Push    PushSubscriber
	// AccessLog enables chi's request logger; off in tests.
	AccessLog bool
}

func corsOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// NewRouter builds the API router.
func NewRouter(d RouterDeps) http.Handler {
	cfg := d.Config
	roomH := NewRoomHandler(d.Service)
	msgH := NewMessageHandler(d.Service)
	notifH := NewNotificationHandler(d.Service)
	presH := NewPresenceHandler(d.Service)
	userH := NewUserHandler(d.Service)
	configH := NewConfigHandler(cfg)
	pushH := NewPushHandler(d.Push)
	wsH := NewWSHandler(d.Hub, cfg.CORSAllowedOrigins, cfg.WSSendBufferSize)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	if d.AccessLog {
		r.Use(chimw.Logger)
	}
	r.Use(middleware.RecoverJSON)
	// Compress breaks http.Hijacker, so WebSocket upgrades skip it.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Get("/api/config/client", configH.GetClientConfig)

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(d.Tokens, cfg.SessionCookie, d.Service.Users))
		r.Use(middleware.RateLimitAPI())

		r.Get("/api/users/me", userH.Me)
		r.Put("/api/users/me", userH.UpdateMe)
		r.Get("/api/users/search", userH.Search)
		r.Get("/api/users/{id}", userH.Get)

		r.Get("/api/rooms", roomH.ListAll)
		r.Post("/api/rooms", roomH.Create)
		r.Get("/api/rooms/joined", roomH.ListJoined)
		r.Get("/api/rooms/search", roomH.Search)
		r.Route("/api/rooms/{id}", func(r chi.Router) {
			r.Get("/", roomH.Get)
			r.Put("/", roomH.Update)
			r.Get("/membership", roomH.Membership)
			r.Post("/join", roomH.Join)
			r.Post("/leave", roomH.Leave)
			r.Get("/requests", roomH.ListRequests)
			r.Post("/requests/{userId}/accept", roomH.AcceptRequest)
			r.Post("/requests/{userId}/reject", roomH.RejectRequest)
			r.Get("/messages", msgH.ListRoom)
			r.Post("/messages", msgH.SendRoom)
			r.Post("/read", msgH.MarkRoomRead)
			r.Put("/typing", presH.SetTyping)
			r.Get("/typing", presH.ListTyping)
			r.Get("/online", presH.ListOnline)
		})

		r.Post("/api/direct", msgH.OpenDirect)
		r.Get("/api/direct/{id}/messages", msgH.ListDirect)
		r.Post("/api/direct/{id}/messages", msgH.SendDirect)
		r.Post("/api/direct/{id}/read", msgH.MarkDirectRead)
		r.Put("/api/messages/{id}", msgH.Edit)

		r.Get("/api/notifications", notifH.List)
		r.Delete("/api/notifications", notifH.DeleteAll)
		r.Get("/api/notifications/unread-count", notifH.UnreadCount)
		r.Post("/api/notifications/read-all", notifH.MarkAllRead)
		r.Post("/api/notifications/{id}/read", notifH.MarkRead)
		r.Post("/api/notifications/{id}/unread", notifH.MarkUnread)
		r.Delete("/api/notifications/{id}", notifH.Delete)

		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
	})

	// /ws stays outside the API rate limit.
	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(d.Tokens, cfg.SessionCookie, d.Service.Users))
		r.Get("/ws", wsH.ServeWS)
	})
	return r
}
