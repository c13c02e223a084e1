package test

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

// ChatClient is a WebSocket chat client for tests. A background reader
// decodes every frame, which also keeps answering the server's pings.
type ChatClient struct {
	ID        chat.ConnectionID
	conn      *websocket.Conn
	responses chan chat.Response
	closed    chan struct{}
}

// Dial connects to an edge at addr (host:port) and waits for the connect ack.
func Dial(t *testing.T, addr string, header http.Header) *ChatClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/", header)
	require.NoError(t, err, "Failed to dial edge")
	t.Cleanup(func() { _ = conn.Close() })

	c := &ChatClient{
		conn:      conn,
		responses: make(chan chat.Response, 64),
		closed:    make(chan struct{}),
	}
	go c.read()

	ack := c.Expect(t)
	connectAck, ok := ack.Result.(chat.ConnectAck)
	require.True(t, ok, "first frame must be the connect ack, got %+v", ack)
	c.ID = connectAck.ID
	return c
}

func (c *ChatClient) read() {
	defer close(c.closed)
	for {
		var resp chat.Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			return
		}
		c.responses <- resp
	}
}

// Join asks whether recipient is present.
func (c *ChatClient) Join(t *testing.T, requestID uint64, recipient chat.ConnectionID) {
	t.Helper()
	c.write(t, `{"version":"2.0","method":"join","params":{"recipient":`+recipient.String()+`},"id":`+
		strconv.FormatUint(requestID, 10)+`}`)
}

// Send sends message to recipient.
func (c *ChatClient) Send(t *testing.T, message string, recipient chat.ConnectionID) {
	t.Helper()
	c.write(t, `{"version":"2.0","method":"send_message","params":{"message":`+strconv.Quote(message)+
		`,"recipient":`+recipient.String()+`}}`)
}

func (c *ChatClient) write(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// Expect returns the next response, failing the test after a few seconds.
func (c *ChatClient) Expect(t *testing.T) chat.Response {
	t.Helper()
	select {
	case resp := <-c.responses:
		return resp
	case <-c.closed:
		t.Fatal("connection closed while waiting for a response")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a response")
	}
	return chat.Response{}
}

// ExpectNothing fails the test if a response arrives within d.
func (c *ChatClient) ExpectNothing(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case resp := <-c.responses:
		t.Fatalf("expected no response, got %+v", resp)
	case <-time.After(d):
	}
}

// Closed is closed once the server has ended the connection.
func (c *ChatClient) Closed() <-chan struct{} { return c.closed }

// Close ends the connection from the client side.
func (c *ChatClient) Close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	_ = c.conn.Close()
}
