package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gamehub/internal/model"
	"gamehub/internal/orchestrator"
	"gamehub/internal/store"
	"gamehub/internal/worker/workertest"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	return ts
}

type fixture struct {
	st    *store.Memory
	orch  *orchestrator.Orchestrator
	srv   *Server
	ts    *httptest.Server
	users []model.UserID
}

func newFixture(t *testing.T, users int) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{st: store.NewMemory()}
	opts := orchestrator.DefaultOptions()
	opts.Supervisor.RestartBackoff = time.Millisecond
	f.orch = orchestrator.New(f.st, workertest.NewLauncher(), opts, zap.NewNop())
	t.Cleanup(f.orch.Supervisor().StopAll)

	require.NoError(t, f.st.Tx(context.Background(), func(tx store.Tx) error {
		for i := 0; i < users; i++ {
			u, err := tx.CreateUser(fmt.Sprintf("player%d", i))
			if err != nil {
				return err
			}
			f.users = append(f.users, u.ID)
		}
		return nil
	}))

	f.srv = New(f.orch, zap.NewNop())
	f.ts = newTestServer(t, f.srv.Handler())
	t.Cleanup(f.ts.Close)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, user model.UserID, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)
	if user != 0 {
		req.Header.Set(UserHeader, user.String())
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// wireEvent is model.Event with Data left undecoded.
type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (f *fixture) dial(t *testing.T, user model.UserID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws?user=" + user.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Skipf("skipping test; websocket dial unavailable: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var e wireEvent
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

// readUntil skips events until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) wireEvent {
	t.Helper()
	for {
		e := readEvent(t, conn)
		if e.Type == want {
			return e
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func expectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no websocket message, got %s", payload)
	}
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())
}
