package utils

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// SendSSEChunk writes payload as one unnamed Server-Sent Event.
func SendSSEChunk(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Warn("failed to marshal sse payload")
		return
	}

	if _, err := w.Write([]byte("data: ")); err != nil {
		log.WithError(err).Debug("failed to write sse prefix")
		return
	}
	if _, err := w.Write(data); err != nil {
		log.WithError(err).Debug("failed to write sse payload")
		return
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		log.WithError(err).Debug("failed to write sse terminator")
		return
	}
	flusher.Flush()
}

// SetupSSEHeaders sets the Server-Sent Events response headers.
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// SendSSEEvent writes a named Server-Sent Event.
func SendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.WithError(err).Warn("failed to marshal sse event data")
		return
	}

	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	flusher.Flush()
}
