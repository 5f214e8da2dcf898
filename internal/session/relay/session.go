package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/OpenNSW/reportbuilder/internal/session"
)

// ErrClosed is returned by calls issued after the page went away.
var ErrClosed = &session.RemoteError{Code: session.CodeSession, Message: "relay connection closed"}

// Session is a session.Session whose calls are answered by the page at the
// other end of a websocket. Calls are not abandoned when their context is
// canceled; they wait for the page's answer, the call timeout, or the
// connection to close. A timed out call closes the connection, so every later
// call fails with ErrClosed.
type Session struct {
	conn        *websocket.Conn
	callTimeout time.Duration
	writes      chan Message
	nextID      atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Message
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// Upgrader accepts page connections.
type Upgrader struct {
	upgrader    websocket.Upgrader
	callTimeout time.Duration
}

// NewUpgrader creates an upgrader accepting the given origins ("*" for any).
// Requests without an Origin header are always accepted.
func NewUpgrader(allowedOrigins []string, callTimeout time.Duration) *Upgrader {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Upgrader{
		callTimeout: callTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// Accept upgrades the request and starts serving the connection. On failure
// the upgrader has already replied to the client.
func (u *Upgrader) Accept(w http.ResponseWriter, r *http.Request) (*Session, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSession(conn, u.callTimeout), nil
}

func newSession(conn *websocket.Conn, callTimeout time.Duration) *Session {
	s := &Session{
		conn:        conn,
		callTimeout: callTimeout,
		writes:      make(chan Message, 16),
		pending:     make(map[uint64]chan Message),
		done:        make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	go s.writeLoop()
	go s.readLoop()
	return s
}

// Hello tells the page which session ID it was registered under.
func (s *Session) Hello(sessionID string) error {
	return s.send(Message{Type: TypeHello, SessionID: sessionID})
}

// Done is closed when the connection is gone.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close drops the connection and fails every outstanding call.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.conn.Close()
	})
}

func (s *Session) Loaded(ctx context.Context) bool {
	var status StatusResult
	if err := s.call(ctx, OpStatus, nil, &status); err != nil {
		slog.WarnContext(ctx, "relay status check failed", "error", err)
		return false
	}
	return status.Loaded
}

func (s *Session) ListPages(ctx context.Context) ([]session.PageInfo, error) {
	var pages []session.PageInfo
	if err := s.call(ctx, OpListPages, nil, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

func (s *Session) RenamePage(ctx context.Context, name, newTitle string) error {
	return s.call(ctx, OpRenamePage, RenamePageParams{Name: name, Title: newTitle}, nil)
}

func (s *Session) CreatePage(ctx context.Context, title string) (session.PageInfo, error) {
	var page session.PageInfo
	if err := s.call(ctx, OpCreatePage, CreatePageParams{Title: title}, &page); err != nil {
		return session.PageInfo{}, err
	}
	return page, nil
}

func (s *Session) SetCurrentPage(ctx context.Context, name string) error {
	return s.call(ctx, OpSetCurrentPage, SetCurrentPageParams{Name: name}, nil)
}

func (s *Session) CreateVisual(ctx context.Context, visualType string, layout session.Layout) (session.VisualHandle, error) {
	var handle session.VisualHandle
	if err := s.call(ctx, OpCreateVisual, CreateVisualParams{VisualType: visualType, Layout: layout}, &handle); err != nil {
		return session.VisualHandle{}, err
	}
	return handle, nil
}

func (s *Session) BindField(ctx context.Context, visual session.VisualHandle, role string, dataField json.RawMessage) error {
	return s.call(ctx, OpBindField, BindFieldParams{Visual: visual, Role: role, DataField: dataField}, nil)
}

func (s *Session) Save(ctx context.Context) error {
	return s.call(ctx, OpSave, nil, nil)
}

func (s *Session) SaveAs(ctx context.Context, name string) error {
	return s.call(ctx, OpSaveAs, SaveAsParams{Name: name}, nil)
}

func (s *Session) Export(ctx context.Context, format string) (io.ReadCloser, string, error) {
	var result ExportResult
	if err := s.call(ctx, OpExport, ExportParams{Format: format}, &result); err != nil {
		return nil, "", err
	}
	if result.ContentType == "" {
		result.ContentType = "application/octet-stream"
	}
	return io.NopCloser(bytes.NewReader(result.Data)), result.ContentType, nil
}

func (s *Session) call(ctx context.Context, op string, params, out any) error {
	msg := Message{Type: TypeCall, ID: s.nextID.Add(1), Op: op}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", op, err)
		}
		msg.Params = encoded
	}

	reply := make(chan Message, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return callError(op, ErrClosed)
	}
	s.pending[msg.ID] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.send(msg); err != nil {
		return callError(op, ErrClosed)
	}

	timer := time.NewTimer(s.callTimeout)
	defer timer.Stop()

	select {
	case result := <-reply:
		if result.Error != nil {
			return callError(op, result.Error)
		}
		if out != nil {
			if err := json.Unmarshal(result.Result, out); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", op, err)
			}
		}
		return nil
	case <-s.done:
		return callError(op, ErrClosed)
	case <-timer.C:
		// The page may still apply the call later, on whatever page is current
		// by then. The connection is dropped so that no further call can race it.
		slog.WarnContext(ctx, "relay call timed out, closing connection", "op", op, "id", msg.ID, "timeout", s.callTimeout)
		s.Close()
		return session.NewError(session.CodeSession, op, "no answer within %s", s.callTimeout)
	}
}

func callError(op string, remote *session.RemoteError) error {
	err := *remote
	if err.Op == "" {
		err.Op = op
	}
	return &err
}

func (s *Session) send(msg Message) error {
	select {
	case s.writes <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.writes:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				slog.Warn("relay write failed", "op", msg.Op, "error", err)
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) readLoop() {
	defer s.Close()

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("relay connection lost", "error", err)
			}
			return
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		if msg.Type != TypeResult {
			continue
		}

		s.mu.Lock()
		reply, ok := s.pending[msg.ID]
		s.mu.Unlock()
		if !ok {
			slog.Debug("relay result for unknown call", "id", msg.ID)
			continue
		}
		select {
		case reply <- msg:
		default:
		}
	}
}
