package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/BioHazard786/warpmeet/internal/roomid"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Browsers and the CLI connect from anywhere; rooms are the only
	// access boundary.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewRouter returns the relay's HTTP handler: /health and the /ws
// endpoint.
func NewRouter(hub *Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(hub))
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(hub))
	r.Get("/ws", ServeWs(hub))
	return r
}

func healthHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"rooms":   hub.Rooms(),
			"clients": hub.Clients(),
		})
	}
}

// ServeWs upgrades a request to a websocket and joins it to the room
// named by the "room" query parameter.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("room")
		if !roomid.Valid(roomID) {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn().Err(err).Msg("upgrade failed")
			return
		}

		client := newClient(hub, conn, uuid.NewString(), roomID)
		if !hub.register(client) {
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func requestLogger(hub *Hub) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			hub.logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}
