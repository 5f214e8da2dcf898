package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"github.com/OpenNSW/reportbuilder/internal/session"
)

// Serve is the page side of the protocol: it answers calls arriving on conn
// against s until the connection closes or ctx ends. onHello, when set,
// receives the session ID the server registered the page under.
func Serve(ctx context.Context, conn *websocket.Conn, s session.Session, onHello func(sessionID string)) error {
	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.Close()
	})
	defer stop()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("relay read failed: %w", err)
		}

		switch msg.Type {
		case TypeHello:
			if onHello != nil {
				onHello(msg.SessionID)
			}
		case TypeCall:
			reply := Message{Type: TypeResult, ID: msg.ID}
			result, err := dispatch(ctx, s, msg)
			if err != nil {
				reply.Error = asRemoteError(msg.Op, err)
			} else if result != nil {
				encoded, err := json.Marshal(result)
				if err != nil {
					reply.Error = session.NewError(session.CodeSession, msg.Op, "failed to encode result: %v", err)
				} else {
					reply.Result = encoded
				}
			}
			if err := conn.WriteJSON(reply); err != nil {
				return fmt.Errorf("relay write failed: %w", err)
			}
		}
	}
}

func dispatch(ctx context.Context, s session.Session, msg Message) (any, error) {
	decode := func(v any) error {
		if len(msg.Params) == 0 {
			return session.NewError(session.CodeSession, msg.Op, "params are required")
		}
		if err := json.Unmarshal(msg.Params, v); err != nil {
			return session.NewError(session.CodeSession, msg.Op, "invalid params: %v", err)
		}
		return nil
	}

	switch msg.Op {
	case OpStatus:
		loaded := true
		if loader, ok := s.(session.Loader); ok {
			loaded = loader.Loaded(ctx)
		}
		return StatusResult{Loaded: loaded}, nil
	case OpListPages:
		return s.ListPages(ctx)
	case OpRenamePage:
		var p RenamePageParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return nil, s.RenamePage(ctx, p.Name, p.Title)
	case OpCreatePage:
		var p CreatePageParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return s.CreatePage(ctx, p.Title)
	case OpSetCurrentPage:
		var p SetCurrentPageParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return nil, s.SetCurrentPage(ctx, p.Name)
	case OpCreateVisual:
		var p CreateVisualParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return s.CreateVisual(ctx, p.VisualType, p.Layout)
	case OpBindField:
		var p BindFieldParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return nil, s.BindField(ctx, p.Visual, p.Role, p.DataField)
	case OpSave:
		return nil, s.Save(ctx)
	case OpSaveAs:
		var p SaveAsParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return nil, s.SaveAs(ctx, p.Name)
	case OpExport:
		var p ExportParams
		if err := decode(&p); err != nil {
			return nil, err
		}
		return export(ctx, s, p.Format)
	default:
		return nil, session.NewError(session.CodeSession, msg.Op, "unknown operation")
	}
}

func export(ctx context.Context, s session.Session, format string) (*ExportResult, error) {
	exporter, ok := s.(session.Exporter)
	if !ok {
		return nil, session.NewError(session.CodeExportUnsupported, OpExport, "page cannot export")
	}
	reader, contentType, err := exporter.Export(ctx, format)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(reader, maxMessageSize)); err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return &ExportResult{ContentType: contentType, Data: buf.Bytes()}, nil
}

func asRemoteError(op string, err error) *session.RemoteError {
	var remote *session.RemoteError
	if errors.As(err, &remote) {
		return remote
	}
	return session.NewError(session.CodeSession, op, "%s", err.Error())
}
