package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"nollettan-menu/models"
)

const (
	livePingInterval = 25 * time.Second
	liveReadTimeout  = 70 * time.Second
	liveWriteTimeout = 10 * time.Second
	liveSendBuffer   = 8
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type liveMessage struct {
	Type string              `json:"type"`
	At   string              `json:"at"`
	Menu models.MenuSnapshot `json:"menu"`
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *liveClient) close() {
	c.once.Do(func() { close(c.send) })
}

// hub fans menu changes out to every connected browser.
type hub struct {
	mu      sync.Mutex
	clients map[*liveClient]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*liveClient]struct{})}
}

func (h *hub) add(c *liveClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *liveClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast queues m for every client; a client whose buffer is full is dropped.
func (h *hub) broadcast(m models.MenuSnapshot) {
	raw, err := encodeLive("menu", m)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func encodeLive(typ string, m models.MenuSnapshot) ([]byte, error) {
	return json.Marshal(liveMessage{Type: typ, At: time.Now().UTC().Format(time.RFC3339), Menu: m})
}

// handleLive streams the menu: a "hello" with the current snapshot, then a
// "menu" message on every change.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := &liveClient{conn: conn, send: make(chan []byte, liveSendBuffer)}
	hello, err := encodeLive("hello", s.deps.Engine.Snapshot())
	if err != nil {
		return
	}
	client.send <- hello
	s.hub.add(client)
	defer s.hub.remove(client)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
	})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case raw, ok := <-client.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(liveWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteTimeout)); err != nil {
				return
			}
		}
	}
}
