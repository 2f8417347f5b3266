// internal/server/ws.go
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/user/sessionhub/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy belongs to the auth collaborator in front of us.
		return true
	},
}

// sinkBuffer is how many live events a connection may fall behind before
// it is dropped and must reattach from its watermark.
const sinkBuffer = 256

// safeConn serializes writes to a websocket connection. gorilla/websocket
// does not support concurrent writers; the wrapper makes it impossible
// to forget the lock.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (sc *safeConn) WriteJSON(v any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteJSON(v)
}

// serverMessage is one frame from daemon to client.
type serverMessage struct {
	Type    string         `json:"type"` // "backlog" | "event" | "error"
	Events  []*types.Event `json:"events,omitempty"`
	Event   *types.Event   `json:"event,omitempty"`
	Message string         `json:"message,omitempty"`
}

// clientMessage is one frame from client to daemon.
type clientMessage struct {
	Type string `json:"type"` // "input" | "resize" | "detach"
	Data []byte `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

var (
	errSinkClosed = errors.New("attached connection closed")
	errSinkBehind = errors.New("attached connection too far behind")
)

// wsSink queues live events for one attached connection. Deliver never
// blocks the coordinator: a connection that cannot keep up is detached
// and resumes later from its watermark.
type wsSink struct {
	ch     chan *types.Event
	closed chan struct{}
	once   sync.Once
}

func newWSSink() *wsSink {
	return &wsSink{
		ch:     make(chan *types.Event, sinkBuffer),
		closed: make(chan struct{}),
	}
}

func (s *wsSink) Deliver(ev *types.Event) error {
	select {
	case <-s.closed:
		return errSinkClosed
	default:
	}
	select {
	case s.ch <- ev:
		return nil
	default:
		return errSinkBehind
	}
}

func (s *wsSink) Close() {
	s.once.Do(func() { close(s.closed) })
}

// handleAttach runs the attach protocol for one connection: upgrade,
// deliver the backlog since the client's watermark as one batch, then
// forward live events until either side disconnects. Client frames
// carry input and resize requests for the session's driver.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	sessionID := types.SessionID(r.PathValue("id"))
	lastSeq := int64(0)
	if v := r.URL.Query().Get("last_seq"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid last_seq"}`, http.StatusBadRequest)
			return
		}
		lastSeq = parsed
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	sc := &safeConn{conn: conn}
	connID := types.NewConnID()
	sink := newWSSink()

	backlog, err := s.hub.Attach(r.Context(), sessionID, connID, lastSeq, sink)
	if err != nil {
		slog.Error("attach failed", "session_id", sessionID, "error", err)
		_ = sc.WriteJSON(serverMessage{Type: "error", Message: "attach failed"})
		conn.Close()
		return
	}
	slog.Info("connection attached", "session_id", sessionID, "conn_id", connID, "last_seq", lastSeq, "backlog", len(backlog))

	defer func() {
		s.hub.Detach(sessionID, connID)
		sink.Close()
		conn.Close()
		slog.Info("connection detached", "session_id", sessionID, "conn_id", connID)
	}()

	// The backlog goes out first; the sink buffers any event appended in
	// the meantime, preserving the no-gap ordering across the switch.
	if backlog == nil {
		backlog = []*types.Event{}
	}
	if err := sc.WriteJSON(serverMessage{Type: "backlog", Events: backlog}); err != nil {
		return
	}

	readerDone := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case ev := <-sink.ch:
				if err := sc.WriteJSON(serverMessage{Type: "event", Event: ev}); err != nil {
					return
				}
			case <-readerDone:
				return
			}
		}
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg.Type == "detach" {
			break
		}
		s.handleClientMessage(r, sessionID, sc, &msg)
	}
	close(readerDone)
	<-writerDone
}

func (s *Server) handleClientMessage(r *http.Request, sessionID types.SessionID, sc *safeConn, msg *clientMessage) {
	sess, err := s.registry.Get(r.Context(), sessionID)
	if err != nil {
		_ = sc.WriteJSON(serverMessage{Type: "error", Message: "unknown session"})
		return
	}
	driver, err := s.adapters.For(sess.Kind)
	if err != nil {
		_ = sc.WriteJSON(serverMessage{Type: "error", Message: "session has no local driver"})
		return
	}

	switch msg.Type {
	case "input":
		if err := driver.Input(sessionID, msg.Data); err != nil {
			_ = sc.WriteJSON(serverMessage{Type: "error", Message: "input failed"})
		}
	case "resize":
		if err := driver.Resize(sessionID, msg.Cols, msg.Rows); err != nil {
			_ = sc.WriteJSON(serverMessage{Type: "error", Message: "resize failed"})
		}
	default:
		_ = sc.WriteJSON(serverMessage{Type: "error", Message: "unknown message type"})
	}
}
