package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"captainDispatch/internal/events"
	"captainDispatch/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the JWT on the upgrade request, not by the
	// browser's origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// captainStream upgrades to a WebSocket and pushes the captain's slice of the
// event channel: their own notifications plus every order update, which is
// how a claimed order gets retracted from all other captains' screens.
func (h *Handler) captainStream(w http.ResponseWriter, r *http.Request) {
	c, ok := h.currentCaptain(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream: upgrade for captain %d: %v", c.ID, err)
		return
	}
	defer conn.Close()

	// Buffered so a slow socket drops events rather than stalling publishers.
	out := make(chan events.Change, 64)
	forward := func(ch events.Change) {
		select {
		case out <- ch:
		default:
			log.Printf("stream: captain %d lagging, event dropped", c.ID)
		}
	}

	notifSub := h.bus.Subscribe(events.TableNotifications, func(ch events.Change) bool {
		var n models.Notification
		if err := ch.Decode(&n); err != nil {
			return false
		}
		return n.UserID == c.UserID
	}, forward)
	orderSub := h.bus.Subscribe(events.TableOrders, nil, forward)
	defer func() {
		h.bus.Unsubscribe(notifSub)
		h.bus.Unsubscribe(orderSub)
	}()

	// Reader loop only detects close; captains act through the REST routes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case ch := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ch); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
