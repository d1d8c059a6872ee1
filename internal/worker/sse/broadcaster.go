// Package sse streams decision events to subscribed dashboards.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// writeTimeout bounds a single client write so a stale connection never
// blocks the broadcast fan-out.
const writeTimeout = 2 * time.Second

// Client is one subscribed event-stream connection.
type Client struct {
	ID      string
	writer  http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

// Broadcaster fans decision events out to every connected client.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     zerolog.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
		log:     log.With().Str("component", "sse").Logger(),
	}
}

// add registers a connection, assigning it a fresh client ID.
func (b *Broadcaster) add(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	client := &Client{
		ID:      uuid.NewString(),
		writer:  w,
		flusher: flusher,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[client.ID] = client
	total := len(b.clients)
	b.mu.Unlock()

	b.log.Debug().Str("client_id", client.ID).Int("total", total).Msg("client connected")
	return client, nil
}

// remove drops a connection and unblocks any in-flight write to it.
func (b *Broadcaster) remove(id string) {
	b.mu.Lock()
	client, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	total := len(b.clients)
	b.mu.Unlock()

	if exists {
		select {
		case <-client.done:
		default:
			close(client.done)
		}
		b.log.Debug().Str("client_id", id).Int("total", total).Msg("client disconnected")
	}
}

// Broadcast sends one event to every connected client. Dead clients are
// detected by write failure or timeout and removed.
func (b *Broadcaster) Broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Msg("marshal event payload")
		return
	}
	message := fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	deadCh := make(chan string, len(clients))
	var wg sync.WaitGroup
	for _, client := range clients {
		select {
		case <-client.done:
			continue
		default:
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				b.write(c, message, deadCh)
			}(client)
		}
	}
	wg.Wait()
	close(deadCh)

	for id := range deadCh {
		b.remove(id)
	}
}

func (b *Broadcaster) write(client *Client, message string, deadCh chan<- string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := client.writer.Write([]byte(message)); err != nil {
			deadCh <- client.ID
			return
		}
		client.flusher.Flush()
	}()

	select {
	case <-done:
	case <-time.After(writeTimeout):
		b.log.Warn().Str("client_id", client.ID).Msg("write timed out; dropping client")
		deadCh <- client.ID
	case <-client.done:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Handle serves one event-stream connection until the client goes away.
func (b *Broadcaster) Handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.add(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.remove(client.ID)

	fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":%q}\n\n", client.ID)
	client.flusher.Flush()

	<-r.Context().Done()
}
