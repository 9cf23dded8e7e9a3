package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/lotas/tabharvest/internal/applog"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned when no extension is attached.
var ErrNotConnected = errors.New("no extension connected")

// IncomingMsg is a message from the extension. Responses carry the ID of
// the command they answer; events carry a Type instead.
type IncomingMsg struct {
	Type  string `json:"type,omitempty"`
	ID    string `json:"id,omitempty"`
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`

	WindowID   int             `json:"windowId,omitempty"`
	DownloadID string          `json:"downloadId,omitempty"`
	State      string          `json:"state,omitempty"`
	Tab        json.RawMessage `json:"tab,omitempty"`
	Tabs       json.RawMessage `json:"tabs,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Options    json.RawMessage `json:"options,omitempty"`
}

// OutgoingMsg is a command to the extension.
type OutgoingMsg struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`

	WindowID       int    `json:"windowId,omitempty"`
	TabID          int    `json:"tabId,omitempty"`
	URL            string `json:"url,omitempty"`
	Filename       string `json:"filename,omitempty"`
	ConflictAction string `json:"conflictAction,omitempty"`
	Incognito      bool   `json:"incognito,omitempty"`
	DownloadID     string `json:"downloadId,omitempty"`
	Text           string `json:"text,omitempty"`
	Color          string `json:"color,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
	Title          string `json:"title,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Server manages the WebSocket connection to the extension.
type Server struct {
	port    int
	msgs    chan IncomingMsg
	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port: port,
		msgs: make(chan IncomingMsg, 64),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Messages returns the channel of incoming messages from the extension.
func (s *Server) Messages() <-chan IncomingMsg {
	return s.msgs
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send writes a command to the connected extension.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	applog.Debug("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Handler returns an http.Handler that accepts WebSocket upgrades. A new
// connection replaces the previous one.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}
		// Script results of pages with many images can be large.
		conn.SetReadLimit(16 << 20)

		ctx := r.Context()
		s.attach(ctx, conn)
		applog.Info("ws.connected", "remote", r.RemoteAddr)
		defer s.detach(conn)

		s.readLoop(ctx, conn)
	})
}

func (s *Server) attach(ctx context.Context, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		applog.Info("ws.replaced")
		s.conn.CloseNow()
	}
	s.conn = conn
	s.connCtx = ctx
}

func (s *Server) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.connCtx = nil
	}
	s.mu.Unlock()
	conn.CloseNow()
	applog.Info("ws.disconnected")
}

// readLoop forwards frames until the connection drops. Download events must
// not be lost, so a full queue blocks the reader instead of dropping.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg IncomingMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			applog.Error("ws.parse", err)
			continue
		}
		applog.Debug("ws.recv", "type", msg.Type, "id", msg.ID)
		select {
		case s.msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// ListenAndServe starts the WebSocket server on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
