package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"cardtable/internal/app"
	"cardtable/internal/config"
	"cardtable/internal/logging"
	"cardtable/internal/resilience"
	"cardtable/pkg/types"
)

const gatewaySecret = "integration-gateway"

// startAccounts runs a full accounts process on a free port backed by a
// fresh SQLite file.
func startAccounts(t *testing.T, mutate func(*config.Config)) *app.Application {
	t.Helper()

	cfg := config.DefaultConfig(config.ServiceAccounts)
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.DSN = filepath.Join(t.TempDir(), "accounts.db")
	cfg.Gateway.Secret = gatewaySecret
	cfg.Auth.JWTSecret = "integration-jwt"
	cfg.Auth.BcryptCost = 4
	cfg.Registry.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	ctx := context.Background()
	application, err := app.NewAccounts(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	})
	return application
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newClient(t *testing.T, application *app.Application) *client {
	return &client{t: t, base: "http://" + application.Addr(), http: &http.Client{Timeout: 5 * time.Second}}
}

func (c *client) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	c.t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &payload)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(resilience.GatewayTokenHeader, gatewaySecret)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

// register signs a user up and in, returning the user id and access token.
func (c *client) register(name string) (string, string) {
	c.t.Helper()

	code, body := c.do(http.MethodPost, "/api/users/auth/signup", "", map[string]string{
		"username": name, "email": name + "@example.com", "password": "pw",
	})
	require.Equal(c.t, http.StatusCreated, code, body)

	code, body = c.do(http.MethodPost, "/api/users/auth/signin", "", map[string]string{
		"email": name + "@example.com", "password": "pw",
	})
	require.Equal(c.t, http.StatusOK, code, body)
	return fmt.Sprintf("%.0f", body["user_id"].(float64)), body["access_token"].(string)
}

type player struct {
	t  *testing.T
	ws *websocket.Conn
}

func (c *client) connect(token string) *player {
	c.t.Helper()

	url := "ws" + c.base[len("http"):] + "/ws?token=" + token
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(c.t, err)
	_ = resp.Body.Close()
	c.t.Cleanup(func() { _ = ws.Close() })

	p := &player{t: c.t, ws: ws}
	hello := p.expect(types.EventConnectionSuccess)
	require.Equal(c.t, "Connected", hello.Data["message"])
	return p
}

func (p *player) send(name string, data map[string]interface{}) {
	p.t.Helper()
	require.NoError(p.t, p.ws.WriteJSON(types.Event{Name: name, Data: data}))
}

// expect reads frames until one named name arrives.
func (p *player) expect(name string) types.Event {
	p.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(p.t, p.ws.SetReadDeadline(deadline))
		var event types.Event
		require.NoError(p.t, p.ws.ReadJSON(&event), "waiting for %s", name)
		if event.Name == name {
			return event
		}
	}
}
