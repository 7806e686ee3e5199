// Transcript Viewer shows completed transcriptions as they arrive on Kafka.
// It consumes the stt.transcription.completed topic and pushes each event to
// connected browsers over a WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

// TranscriptionEvent mirrors the service's TranscriptionCompleted payload.
type TranscriptionEvent struct {
	EventType       string  `json:"eventType"`
	RequestID       string  `json:"requestId"`
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"durationSeconds"`
	Transcription   string  `json:"transcription"`
	Translation     string  `json:"translation,omitempty"`
	Translated      bool    `json:"translated"`
	Timestamp       int64   `json:"timestamp"`
}

// Hub fans events out to WebSocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("Client connected. Total: %d", n)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("Client disconnected. Total: %d", n)
}

// broadcast holds the lock while writing; gorilla connections allow one
// concurrent writer.
func (h *Hub) broadcast(ev TranscriptionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("Write error: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local dev tool
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		hub.add(conn)

		// Drain reads so close frames are noticed.
		go func() {
			defer hub.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func consume(ctx context.Context, hub *Hub, brokers, topic string, since time.Duration) {
	// Partition reader without a consumer group works through port-forwards.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Printf("SetOffsetAt failed, reading from the current offset: %v", err)
	}
	log.Printf("Consuming %s partition 0 (last %s)", topic, since)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}

		var ev TranscriptionEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Printf("JSON unmarshal error: %v", err)
			continue
		}
		log.Printf("Received %s [%s] %.1fs: %s", ev.RequestID, ev.Language, ev.DurationSeconds, truncate(ev.Transcription, 40))
		hub.broadcast(ev)
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "stt.transcription.completed", "Transcription topic")
	since := flag.Duration("since", time.Hour, "Replay events newer than this")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	go consume(ctx, hub, *brokers, *topic, *since)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(indexHTML))
	})
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: ":" + *port, Handler: mux}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Printf("Transcript Viewer on http://localhost:%s (brokers %s, topic %s)", *port, *brokers, *topic)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

const indexHTML = `<!DOCTYPE html>
<html lang="fr">
<head>
<meta charset="utf-8">
<title>STT transcriptions</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; background: #fafafa; }
.card { background: #fff; border: 1px solid #ddd; border-radius: 6px; padding: 0.75rem 1rem; margin-bottom: 0.75rem; }
.meta { color: #666; font-size: 0.8rem; }
.fr { color: #1a5fb4; margin-top: 0.25rem; }
.fr.missing { color: #a51d2d; font-style: italic; }
</style>
</head>
<body>
<h1>Transcriptions</h1>
<p id="status" class="meta">connecting...</p>
<div id="events"></div>
<script>
const list = document.getElementById("events");
const status = document.getElementById("status");
function connect() {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onopen = () => { status.textContent = "connected"; };
  ws.onclose = () => { status.textContent = "disconnected, retrying"; setTimeout(connect, 2000); };
  ws.onmessage = (msg) => {
    const ev = JSON.parse(msg.data);
    const card = document.createElement("div");
    card.className = "card";
    const meta = document.createElement("div");
    meta.className = "meta";
    meta.textContent = new Date(ev.timestamp).toLocaleTimeString() + " | " + ev.language + " | " + ev.durationSeconds.toFixed(1) + "s | " + ev.requestId;
    const text = document.createElement("div");
    text.textContent = ev.transcription || "(silence)";
    const fr = document.createElement("div");
    fr.className = ev.translated ? "fr" : "fr missing";
    fr.textContent = ev.translated ? ev.translation : "no translation";
    card.append(meta, text, fr);
    list.prepend(card);
  };
}
connect();
</script>
</body>
</html>
`
