package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"classlens/internal/app"
	"classlens/internal/config"
	"classlens/pkg/types"
)

const readDeadline = 3 * time.Second

// testServer is a fully wired application bound to an ephemeral port
type testServer struct {
	app     *app.Application
	baseURL string
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "classlens.db")
	cfg.Auth.Secret = "integration-secret"
	cfg.NATS.URL = ""

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	application, err := app.NewApplication(ctx, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	})

	return &testServer{app: application, baseURL: "http://" + application.GetAddr()}
}

func (s *testServer) token(t *testing.T, id, name, role string) string {
	t.Helper()
	tok, err := s.app.Authenticator().IssueToken(types.Identity{AccountID: id, DisplayName: name, Role: role})
	require.NoError(t, err)
	return tok
}

// request sends an authenticated JSON request and decodes the response into out when non-nil
func (s *testServer) request(t *testing.T, method, path, token string, body, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.baseURL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// wsClient is a presence channel client speaking the JSON envelope
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *testServer) dial(t *testing.T, token string) *wsClient {
	t.Helper()

	u := url.URL{Scheme: "ws", Host: s.app.GetAddr(), Path: "/ws", RawQuery: "token=" + url.QueryEscape(token)}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(msgType string, payload interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(types.Envelope{Type: msgType, Payload: raw}))
}

// expect skips frames of other types until one of msgType arrives
func (c *wsClient) expect(msgType string, out interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readDeadline)))
	for {
		var env types.Envelope
		require.NoError(c.t, c.conn.ReadJSON(&env), "waiting for %s", msgType)
		if env.Type != msgType {
			continue
		}
		if out != nil {
			require.NoError(c.t, json.Unmarshal(env.Payload, out))
		}
		return
	}
}
