package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenNSW/reportbuilder/internal/session"
	"github.com/OpenNSW/reportbuilder/internal/session/memory"
)

// connect returns the server-side relay session and the page's connection.
func connect(t *testing.T, timeout time.Duration) (*Session, *websocket.Conn) {
	t.Helper()
	upgrader := NewUpgrader([]string{"http://allowed.example"}, timeout)
	accepted := make(chan *Session, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := upgrader.Accept(w, r)
		if err != nil {
			return
		}
		accepted <- s
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	select {
	case s := <-accepted:
		t.Cleanup(s.Close)
		return s, conn
	case <-time.After(5 * time.Second):
		t.Fatal("relay connection was not accepted")
		return nil, nil
	}
}

func servePage(t *testing.T, conn *websocket.Conn, page session.Session) <-chan string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hello := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Serve(ctx, conn, page, func(id string) { hello <- id })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hello
}

func TestSession_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, conn := connect(t, 5*time.Second)
	page := memory.New(memory.WithPages("Page 1"))
	hello := servePage(t, conn, page)

	require.NoError(t, s.Hello("session-1"))
	assert.Equal(t, "session-1", <-hello)

	assert.True(t, s.Loaded(ctx))
	pages, err := s.ListPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []session.PageInfo{{Name: "ReportSection1", Title: "Page 1"}}, pages)

	require.NoError(t, s.RenamePage(ctx, "ReportSection1", "Overview"))
	created, err := s.CreatePage(ctx, "Detail")
	require.NoError(t, err)
	require.NoError(t, s.SetCurrentPage(ctx, created.Name))

	handle, err := s.CreateVisual(ctx, "card", session.Layout{Width: 200, Height: 100})
	require.NoError(t, err)
	require.NoError(t, s.BindField(ctx, handle, "Values", json.RawMessage(`{"measure":"Total"}`)))
	require.NoError(t, s.Save(ctx))
	require.NoError(t, s.SaveAs(ctx, "Copy"))

	got := page.Pages()
	assert.Equal(t, "Overview", got[0].Title)
	require.Len(t, got[1].Visuals, 1)
	assert.Equal(t, "Values", got[1].Visuals[0].Bindings[0].Role)
	assert.Equal(t, 2, page.Saves())

	reader, contentType, err := s.Export(ctx, "json")
	require.NoError(t, err)
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.Contains(t, string(body), `"name":"Copy"`)
}

func TestSession_RemoteErrors(t *testing.T) {
	ctx := context.Background()
	s, conn := connect(t, 5*time.Second)
	servePage(t, conn, memory.New(memory.WithPages("Page 1"), memory.WithVisualTypes("card")))

	err := s.SetCurrentPage(ctx, "ReportSection9")
	var remote *session.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, session.CodePageNotFound, remote.Code)

	_, err = s.CreateVisual(ctx, "pieChart", session.Layout{})
	assert.Equal(t, session.CodeUnsupportedVisualType, session.CodeOf(err))

	_, _, err = s.Export(ctx, "PDF")
	assert.Equal(t, session.CodeExportUnsupported, session.CodeOf(err))
}

func TestSession_UnloadedPage(t *testing.T) {
	s, conn := connect(t, 5*time.Second)
	servePage(t, conn, memory.New(memory.Unloaded()))

	assert.False(t, s.Loaded(context.Background()))
	_, err := s.ListPages(context.Background())
	assert.ErrorIs(t, err, session.ErrNoReport)
}

func TestSession_CallTimeout(t *testing.T) {
	s, conn := connect(t, 100*time.Millisecond)
	go func() {
		// A page that reads calls and never answers.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err := s.Save(context.Background())
	var remote *session.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, session.CodeSession, remote.Code)
	assert.Equal(t, OpSave, remote.Op)
	assert.Contains(t, remote.Message, "no answer")

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session stayed open after a call timed out")
	}
	_, err = s.CreateVisual(context.Background(), "card", session.Layout{})
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrClosed.Message, remote.Message)
}

func TestSession_PageDisconnects(t *testing.T) {
	s, conn := connect(t, 5*time.Second)
	require.NoError(t, conn.Close())

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not notice the page leaving")
	}

	err := s.Save(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, OpSave, err.(*session.RemoteError).Op)
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	upgrader := NewUpgrader([]string{"http://allowed.example"}, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, err := upgrader.Accept(w, r); err == nil {
			s.Close()
		}
	}))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://allowed.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestDispatch_BadCalls(t *testing.T) {
	result, err := dispatch(context.Background(), memory.New(), Message{Type: TypeCall, ID: 1, Op: "explode"})
	assert.Nil(t, result)
	assert.Equal(t, session.CodeSession, session.CodeOf(err))

	_, err = dispatch(context.Background(), memory.New(), Message{Type: TypeCall, ID: 2, Op: OpRenamePage})
	assert.ErrorContains(t, err, "params are required")
}
