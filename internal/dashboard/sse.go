package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/intake/internal/interview"
)

// heartbeatInterval is how often an idle stream sends a heartbeat.
var heartbeatInterval = 15 * time.Second

// handleEvents streams a session's progress as server-sent events until the
// client disconnects or the session is archived.
func handleEvents(m *interview.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		updates, cancel, err := m.Subscribe(ctx, c.Param("id"))
		if err != nil {
			renderError(c, err)
			return
		}
		defer cancel()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"session_id": c.Param("id")})
		c.Writer.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case p, ok := <-updates:
				if !ok {
					writeSSE(c.Writer, "closed", map[string]string{"session_id": c.Param("id")})
					c.Writer.Flush()
					return
				}
				writeSSE(c.Writer, "progress", p)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
