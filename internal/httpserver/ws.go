package httpserver

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI is a local client; origin enforcement happens upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// eventFeed streams orchestration events to a WebSocket client as JSON.
// An optional ?session_id= filters to one session.
func (s *Server) eventFeed(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sessionFilter := c.QueryParam("session_id")

	ch, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	// Reader goroutine exists only to detect the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if sessionFilter != "" && ev.SessionID != sessionFilter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("ws: event write failed: %v", err)
				return nil
			}
		case <-done:
			return nil
		}
	}
}
