package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// WatchService streams registry lifecycle events for a service as
// Server-Sent Events. The subscription is released when the client
// disconnects.
func (a *API) WatchService(w http.ResponseWriter, r *http.Request) {
	service := mux.Vars(r)["name"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := a.registry.WatchService(service)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Comment line so clients see the stream is established before the
	// first event arrives.
	fmt.Fprint(w, ": watching\n\n")
	flusher.Flush()

	log := a.logger.WithField("service", service)
	log.Debug("Watch stream opened")

	for {
		select {
		case <-r.Context().Done():
			log.Debug("Watch stream closed by client")
			return
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				log.WithError(err).Error("Failed to encode watch event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}
