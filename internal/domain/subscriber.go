package domain

import (
	"log"
	"net/http"
	"time"

	"collaborative-table-editor/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth already gates the endpoint; browsers connect from the
	// configured frontend origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SnapshotFrame is the first frame on a new subscription: the current
// domain metadata, so late joiners converge without replaying history.
type SnapshotFrame struct {
	Type    string     `json:"type"`
	Domains []Metadata `json:"domains"`
}

// Subscribe upgrades the request to a websocket and streams callbacks to
// the peer until it disconnects. A closed connection is treated as the
// user leaving every domain with reason "closed".
func (h *Handler) Subscribe(c *gin.Context) {
	a := auth.FromGin(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[SUBSCRIBE] upgrade failed: %v", err)
		return
	}

	sub, snapshot, err := h.context.Subscribe(c.Request.Context(), a.Token)
	if err != nil {
		conn.Close()
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(SnapshotFrame{Type: "CONTEXT_SNAPSHOT", Domains: snapshot}); err != nil {
		h.context.UnsubscribeIf(a.Token, sub)
		conn.Close()
		return
	}

	// Writer pump: drains the subscription queue onto the wire. The queue
	// closing (unsubscribe or slow-consumer retirement) ends the pump.
	go func() {
		for cb := range sub.Events() {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(cb); err != nil {
				break
			}
		}
		conn.Close()
	}()

	// Read pump: the peer sends nothing meaningful; reading only detects
	// the connection going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// The peer may already have reconnected with the same token; only tear
	// down our own subscription, never a replacement's.
	h.context.UnsubscribeIf(a.Token, sub)
	h.context.DropUser(a.UserID, ReasonClosed)
}
