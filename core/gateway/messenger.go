package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/abr-vis/abr-server/core/infra/logging"
	"github.com/abr-vis/abr-server/core/notify"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient adapts one WebSocket connection to the notifier. Outbound
// messages go through a buffered channel so a slow client cannot stall the
// announcing goroutine; when the buffer fills, messages are dropped.
type wsClient struct {
	ch chan any
}

func (c *wsClient) SendJSON(v any) error {
	select {
	case c.ch <- v:
		return nil
	default:
		return errSlowClient
	}
}

var errSlowClient = &slowClientError{}

type slowClientError struct{}

func (*slowClientError) Error() string { return "client send buffer full" }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info("gateway", "ws connected", "remote", r.RemoteAddr)

	client := &wsClient{ch: make(chan any, 100)}
	id := s.notifier.Subscribe(client)
	defer s.notifier.Unsubscribe(id)

	done := make(chan struct{})
	go s.writePump(ws, client, done)
	s.readPump(ws, id)
	close(done)
	logging.Info("gateway", "ws disconnected", "remote", r.RemoteAddr)
}

func (s *Server) writePump(ws *websocket.Conn, client *wsClient, done <-chan struct{}) {
	for {
		select {
		case msg := <-client.ch:
			if err := ws.WriteJSON(msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readPump validates each inbound frame and hands it to the notifier.
// Malformed or invalid messages are logged and dropped; they never close the
// connection.
func (s *Server) readPump(ws *websocket.Conn, senderID uuid.UUID) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Error("gateway", "inbound ws message is not JSON", "error", err)
			continue
		}
		if s.receive != nil {
			if err := s.receive.Validate(msg); err != nil {
				logging.Error("gateway", "inbound ws message failed validation", "error", err)
				continue
			}
		}
		s.notifier.Receive(msg, senderID)
	}
}

// registerActions wires the inbound message targets the gateway itself
// serves.
func (s *Server) registerActions() {
	if s.notifier == nil {
		return
	}
	s.notifier.AddAction(notify.TargetThumbnail, s.saveThumbnail)
	if s.assets != nil {
		s.assets.RegisterWith(s.notifier, s.lookupLocalVisAsset)
	}
}

// saveThumbnail stores a base64-encoded render preview pushed by a client.
func (s *Server) saveThumbnail(msg map[string]any, senderID uuid.UUID) {
	content, _ := msg["content"].(string)
	if content == "" {
		logging.Error("gateway", "thumbnail message has no content")
		return
	}
	// Clients may send a data URL; keep only the payload.
	if i := strings.Index(content, ","); i >= 0 && strings.HasPrefix(content, "data:") {
		content = content[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		logging.Error("gateway", "thumbnail content is not base64", "error", err)
		return
	}
	dir := s.cfg.ThumbnailDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Error("gateway", "thumbnail dir", "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, LatestThumbnailName), data, 0o644); err != nil {
		logging.Error("gateway", "thumbnail write failed", "error", err)
	}
}

func (s *Server) lookupLocalVisAsset(id string) (map[string]any, bool) {
	value, ok := s.store.Get([]string{"localVisAssets", id})
	if !ok {
		return nil, false
	}
	payload, ok := value.(map[string]any)
	return payload, ok
}
