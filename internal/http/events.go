package http

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/timepulse/jirasync/internal/progress"
)

type EventsController struct {
	hub *progress.Hub
}

func NewEventsController(hub *progress.Hub) *EventsController {
	return &EventsController{hub: hub}
}

// Subscribe handles GET /api/sync/events: upgrades to a websocket and streams
// run snapshots until the client disconnects.
func (e *EventsController) Subscribe(c *gin.Context) {
	if err := e.hub.Subscribe(c.Writer, c.Request); err != nil {
		log.Printf("[EVENTS] websocket upgrade failed: %v", err)
	}
}
