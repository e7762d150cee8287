package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
)

const (
	sseBufferSize        = 32
	sseKeepaliveInterval = 15 * time.Second
)

type sseFrame struct {
	event string
	data  []byte
}

// broadcaster fans server-sent events out to every connected stream client.
// Each subscriber owns one buffered channel; a subscriber whose buffer is
// full when a frame arrives is dropped rather than allowed to stall the rest.
type broadcaster struct {
	logger logger.Logger

	mu      sync.Mutex
	clients map[string]chan sseFrame
}

func newBroadcaster(log logger.Logger) *broadcaster {
	return &broadcaster{
		logger:  log.WithComponent("SSE"),
		clients: make(map[string]chan sseFrame),
	}
}

func (b *broadcaster) subscribe() (string, chan sseFrame) {
	id := uuid.NewString()
	ch := make(chan sseFrame, sseBufferSize)

	b.mu.Lock()
	b.clients[id] = ch
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Info("Stream client connected", "client_id", id, "clients", count)
	return id, ch
}

func (b *broadcaster) unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.clients[id]; ok {
		delete(b.clients, id)
		close(ch)
	}
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Info("Stream client disconnected", "client_id", id, "clients", count)
}

// publish serializes the payload once and offers it to every client.
func (b *broadcaster) publish(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("Failed to encode stream frame", "event", event, "error", err)
		return
	}
	frame := sseFrame{event: event, data: data}

	b.mu.Lock()
	var slow []string
	for id, ch := range b.clients {
		select {
		case ch <- frame:
		default:
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		close(b.clients[id])
		delete(b.clients, id)
	}
	b.mu.Unlock()

	for _, id := range slow {
		b.logger.Warn("Dropped slow stream client", "client_id", id)
	}
}

func (b *broadcaster) clientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
	b.mu.Unlock()
}

// handleStream is the GET /nostr/stream handler. It writes frames as they
// arrive and a keepalive comment on the interval so idle proxies keep the
// connection open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError,
			errorEnvelope{Success: false, Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	id, ch := s.broadcaster.subscribe()
	defer s.broadcaster.unsubscribe(id)

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.event, frame.data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
