package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer registers every connection and echoes text frames back as JSON
func echoServer(t *testing.T, hub *Hub, clients chan<- *Client) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := hub.RegisterClient(conn, 42)
		client.OnText = func(c *Client, data []byte) {
			c.SendJSON(map[string]string{"echo": string(data)})
		}
		client.OnBinary = func(c *Client, data []byte) {
			c.SendBinary(append([]byte("bin:"), data...))
		}
		clients <- client

		go client.WritePump()
		client.ReadPump()
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientRoundTrip(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	clients := make(chan *Client, 1)
	url := echoServer(t, hub, clients)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	client := <-clients
	assert.Equal(t, uint(42), client.SimulationID)
	assert.NotEmpty(t, client.SessionID)
	assert.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	var echoed map[string]string
	require.NoError(t, conn.ReadJSON(&echoed))
	assert.Equal(t, "hello", echoed["echo"])

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2}))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte("bin:\x01\x02"), data)
}

func TestClientClosedAfterDisconnect(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	clients := make(chan *Client, 1)
	url := echoServer(t, hub, clients)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	client := <-clients

	require.NoError(t, conn.Close())

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client was not unregistered")
	}
	assert.Equal(t, 0, hub.Count())
	assert.ErrorIs(t, client.SendJSON(map[string]string{"type": "late"}), ErrClientClosed)
}
