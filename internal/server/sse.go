package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// errorPattern classifies lines whose stream flag alone does not mark them as
// errors; many dev servers print failures on stdout.
var errorPattern = regexp.MustCompile(`(?i)error|exception|failed|unhandled`)

// logEntry is one SSE data frame. System frames carry only SystemMessage.
type logEntry struct {
	Log           string `json:"log"`
	Error         bool   `json:"error"`
	SystemMessage string `json:"system_message"`
}

// handleLogs streams the broadcaster's output as server-sent events until the
// client disconnects. Each subscriber gets CONNECTED first and DISCONNECTED
// last; lines submitted before subscription are not replayed.
func (rt *Router) handleLogs(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	send := func(e logEntry) {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flusher.Flush()
	}

	sub := rt.bc.Register()
	defer rt.bc.Unregister(sub)

	send(logEntry{SystemMessage: "CONNECTED"})

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			send(logEntry{SystemMessage: "DISCONNECTED"})
			return
		case msg, ok := <-sub.Lines():
			if !ok {
				send(logEntry{SystemMessage: "DISCONNECTED"})
				return
			}
			send(logEntry{
				Log:   msg.Text,
				Error: msg.IsErr || errorPattern.MatchString(msg.Text),
			})
		}
	}
}
