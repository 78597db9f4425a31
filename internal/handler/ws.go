package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stackdeck/stackdeck/internal/realtime"
	"github.com/stackdeck/stackdeck/internal/service"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.HasSuffix(origin, "://"+r.Host)
	},
}

// WSHandler upgrades live-update connections and hands them to the hub.
type WSHandler struct {
	hub *realtime.Hub
	svc *service.StackService
}

// NewWSHandler creates a new WSHandler
func NewWSHandler(hub *realtime.Hub, svc *service.StackService) *WSHandler {
	return &WSHandler{hub: hub, svc: svc}
}

// Serve handles GET /ws. The connection stays registered until the client
// disconnects; a full staleness resynchronization is pushed on connect.
func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	id := h.hub.Register(conn)
	defer h.hub.Unregister(id)

	h.sendResync(id)

	// Subscribers never send application data; the read loop only detects
	// disconnects and answers pings.
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Time{})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHandler) sendResync(id string) {
	stacks, err := h.svc.List()
	if err != nil {
		return
	}
	entries := make([]service.StalenessEntry, 0, len(stacks))
	for i := range stacks {
		entries = append(entries, service.StalenessEntry{ID: stacks[i].ID, IsOutdated: stacks[i].IsOutdated})
	}
	h.hub.SendTo(id, realtime.Event{Type: "staleness", Payload: entries})
}
