package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/appyard/appyard/internal/infrastructure/events"
	"github.com/appyard/appyard/internal/infrastructure/logging"
	"github.com/appyard/appyard/internal/infrastructure/monitoring"
	"github.com/appyard/appyard/internal/shared/id"
	"github.com/appyard/appyard/internal/shared/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // The server binds loopback; the peer is the local UI.
	},
}

// Snapshotter supplies the current app list for the greeting event.
type Snapshotter interface {
	Snapshot() []types.App
}

// Handler upgrades stream requests and pumps hub events to each client.
type Handler struct {
	hub     *events.Hub
	apps    Snapshotter
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewHandler creates a stream handler. metrics may be nil.
func NewHandler(hub *events.Hub, apps Snapshotter, metrics *monitoring.Metrics, log *logging.Logger) *Handler {
	return &Handler{
		hub:     hub,
		apps:    apps,
		metrics: metrics,
		log:     log.Component("stream"),
	}
}

// HandleConnection upgrades the request and serves the event stream until
// the client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{conn: conn, handler: h, id: uuid.NewString()}
	cl.run(c.Query("since"))
}

// inbound is a client-to-server control frame.
type inbound struct {
	Type string `json:"type"`
}

// client is one stream subscriber. All JSON writes go through write so the
// event pump and the read loop never interleave frames.
type client struct {
	conn    *websocket.Conn
	handler *Handler
	id      string

	mu sync.Mutex
}

func (cl *client) write(v any) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cl.conn.WriteJSON(v)
}

func (cl *client) writeEvent(ev events.Event) error {
	if err := cl.write(ev); err != nil {
		return err
	}
	if m := cl.handler.metrics; m != nil {
		m.RecordWSMessage("out", ev.Type)
	}
	return nil
}

func (cl *client) run(since string) {
	h := cl.handler
	defer cl.conn.Close()

	if m := h.metrics; m != nil {
		m.IncWSConnections()
		defer m.DecWSConnections()
	}
	h.log.Info("stream client connected",
		zap.String("conn_id", cl.id),
		zap.String("since", since))

	// Subscribe before replaying so nothing published in between is lost.
	live, cancel := h.hub.Subscribe()
	defer cancel()

	var last id.EventID
	if since != "" && id.IsValid(since) {
		for _, ev := range h.hub.SnapshotSince(id.EventID(since)) {
			if err := cl.writeEvent(ev); err != nil {
				return
			}
			last = ev.ID
		}
	}

	// Fresh snapshot so every client starts from the current app list even
	// when the replay ring no longer holds one.
	if err := cl.writeEvent(snapshotEvent(h.apps.Snapshot())); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		cl.readLoop()
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return
			}
			if last != "" && ev.ID <= last {
				// Already delivered during replay.
				continue
			}
			if err := cl.writeEvent(ev); err != nil {
				h.log.Debug("stream write failed, dropping client",
					zap.String("conn_id", cl.id), zap.Error(err))
				return
			}
		case <-ping.C:
			if err := cl.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			h.log.Info("stream client disconnected", zap.String("conn_id", cl.id))
			return
		}
	}
}

func (cl *client) readLoop() {
	cl.conn.SetReadLimit(readLimit)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := cl.conn.ReadJSON(&msg); err != nil {
			return
		}
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		if m := cl.handler.metrics; m != nil {
			m.RecordWSMessage("in", msg.Type)
		}

		switch msg.Type {
		case "ping":
			if err := cl.write(map[string]any{"type": "pong"}); err != nil {
				return
			}
		default:
			if err := cl.write(map[string]any{"type": "error", "message": "unknown message type"}); err != nil {
				return
			}
		}
	}
}

// snapshotEvent builds a fresh apps event outside the hub so a connecting
// client does not spam every other subscriber.
func snapshotEvent(apps []types.App) events.Event {
	if apps == nil {
		apps = []types.App{}
	}
	data := json.RawMessage("[]")
	if b, err := sonic.Marshal(apps); err == nil {
		data = b
	}
	return events.Event{
		ID:   id.NewEventID(),
		Type: types.EventApps,
		At:   time.Now().UTC(),
		Data: data,
	}
}
