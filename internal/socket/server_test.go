// ABOUTME: End-to-end tests for the WebSocket transport against a real router
// ABOUTME: Covers observer snapshots, score unicast, disconnect release, origin checks and shutdown

package socket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/intake-gateway/internal/protocol"
	"github.com/2389/intake-gateway/internal/router"
	"github.com/2389/intake-gateway/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, opts Options) (*router.Router, *Server, string) {
	t.Helper()
	r := router.New(router.Config{Logger: testLogger()})
	s := NewServer(r, opts, testLogger())
	hs := httptest.NewServer(s)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		hs.Close()
	})
	return r, s, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, data []byte) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.Outbound {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeOutbound(data)
	require.NoError(t, err)
	return msg
}

func readSnapshot(t *testing.T, ws *websocket.Conn) []session.Session {
	t.Helper()
	msg := readFrame(t, ws)
	snap, ok := msg.(protocol.AllSessions)
	require.True(t, ok, "expected all-sessions, got %T", msg)
	return snap.Sessions
}

func registerAdmin(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws := dial(t, url)
	send(t, ws, protocol.EncodeRegisterAdmin())
	return ws
}

func TestServer_ObserverReceivesSnapshots(t *testing.T) {
	r, _, url := startServer(t, Options{})

	admin := registerAdmin(t, url)
	assert.Empty(t, readSnapshot(t, admin))

	r.Start("A", "alice", "10.0.0.1")

	sessions := readSnapshot(t, admin)
	require.Len(t, sessions, 1)
	assert.Equal(t, "A", sessions[0].ID)
	assert.Equal(t, session.StatusStarted, sessions[0].Status)
}

func TestServer_ScoreRoutedToBoundClient(t *testing.T) {
	r, _, url := startServer(t, Options{})
	r.Start("A", "alice", "10.0.0.1")

	client := dial(t, url)
	reg, err := protocol.EncodeRegisterUser("A")
	require.NoError(t, err)
	send(t, client, reg)
	require.Eventually(t, func() bool { return r.Stats().Clients == 1 }, 2*time.Second, 10*time.Millisecond)

	admin := registerAdmin(t, url)
	require.Len(t, readSnapshot(t, admin), 1)

	score, err := protocol.EncodeSendScore("A", []byte("9"))
	require.NoError(t, err)
	send(t, admin, score)

	msg := readFrame(t, client)
	notice, ok := msg.(protocol.ScoreNotice)
	require.True(t, ok, "expected score, got %T", msg)
	assert.JSONEq(t, "9", string(notice.Score))

	sessions := readSnapshot(t, admin)
	require.Len(t, sessions, 1)
	assert.Equal(t, session.StatusScored, sessions[0].Status)
	assert.JSONEq(t, "9", string(sessions[0].Score))
}

func TestServer_MalformedFramesIgnored(t *testing.T) {
	_, _, url := startServer(t, Options{})

	ws := dial(t, url)
	send(t, ws, []byte("not json"))
	send(t, ws, []byte(`{"type":"bogus"}`))
	send(t, ws, []byte(`{"type":"register-user"}`))
	send(t, ws, protocol.EncodeRegisterAdmin())

	assert.Empty(t, readSnapshot(t, ws))
}

func TestServer_DisconnectReleasesBindings(t *testing.T) {
	r, s, url := startServer(t, Options{})

	client := dial(t, url)
	reg, err := protocol.EncodeRegisterUser("A")
	require.NoError(t, err)
	send(t, client, reg)

	admin := registerAdmin(t, url)
	readSnapshot(t, admin)
	require.Eventually(t, func() bool {
		st := r.Stats()
		return st.Clients == 1 && st.Observers == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	require.NoError(t, admin.Close())

	require.Eventually(t, func() bool {
		st := r.Stats()
		return st.Clients == 0 && st.Observers == 0 && s.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Scoring a session whose client left still succeeds.
	found, delivery := r.SubmitScore("A", []byte(`"great"`))
	assert.False(t, found)
	assert.Equal(t, router.Skipped, delivery)
}

func TestServer_OriginCheck(t *testing.T) {
	_, _, url := startServer(t, Options{
		CheckOrigin: func(origin string) bool { return origin == "https://ok.example" },
	})

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://ok.example")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	ws.Close()

	// Non-browser clients send no Origin.
	dial(t, url)
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	r, s, url := startServer(t, Options{})

	admin := registerAdmin(t, url)
	readSnapshot(t, admin)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Equal(t, 0, s.Count())
	assert.Equal(t, 0, r.Stats().Observers)

	require.NoError(t, admin.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := admin.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// New upgrades after shutdown are closed immediately.
	late := dial(t, url)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}

func TestConn_NotifyIsNonBlocking(t *testing.T) {
	_, _, url := startServer(t, Options{})
	ws := dial(t, url)

	// No write pump is started, so the queue only drains by Close.
	c := newConn(ws, Options{SendBuffer: 1}, testLogger())
	assert.NotEmpty(t, c.ID())

	assert.Equal(t, router.Delivered, c.Notify([]byte("one")))
	assert.Equal(t, router.Skipped, c.Notify([]byte("two")))

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.Equal(t, router.Skipped, c.Notify([]byte("three")))

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
}

func TestConn_EnqueueErrors(t *testing.T) {
	_, _, url := startServer(t, Options{})
	c := newConn(dial(t, url), Options{SendBuffer: 1}, testLogger())

	require.NoError(t, c.enqueue([]byte("one")))
	assert.ErrorIs(t, c.enqueue([]byte("two")), ErrQueueFull)

	c.Close()
	assert.ErrorIs(t, c.enqueue([]byte("three")), ErrClosed)
}
