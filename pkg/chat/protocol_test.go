package chat_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

func TestDecodeRequest(t *testing.T) {
	t.Run("Success - join with request id", func(t *testing.T) {
		req, err := chat.DecodeRequest([]byte(`{"version":"2.0","method":"join","params":{"recipient":42},"id":7}`))
		require.NoError(t, err)
		assert.Equal(t, chat.MethodJoin, req.Method)
		require.NotNil(t, req.ID)
		assert.Equal(t, uint64(7), *req.ID)

		params, err := req.JoinParams()
		require.NoError(t, err)
		assert.Equal(t, chat.ConnectionID(42), params.Recipient)
	})

	t.Run("Success - send_message without request id", func(t *testing.T) {
		req, err := chat.DecodeRequest([]byte(`{"version":"2.0","method":"send_message","params":{"message":"hi","recipient":42}}`))
		require.NoError(t, err)
		assert.Nil(t, req.ID)

		params, err := req.SendMessageParams()
		require.NoError(t, err)
		assert.Equal(t, "hi", params.Message)
		assert.Equal(t, chat.ConnectionID(42), params.Recipient)
	})

	t.Run("Success - unknown method still decodes", func(t *testing.T) {
		req, err := chat.DecodeRequest([]byte(`{"version":"2.0","method":"leave"}`))
		require.NoError(t, err)
		assert.Equal(t, "leave", req.Method)
	})

	malformed := map[string]string{
		"not json":          `hello`,
		"missing method":    `{"version":"2.0"}`,
		"missing version":   `{"method":"join"}`,
		"wrong field types": `{"version":2,"method":"join"}`,
	}
	for name, frame := range malformed {
		t.Run("Failure - "+name, func(t *testing.T) {
			_, err := chat.DecodeRequest([]byte(frame))
			assert.ErrorIs(t, err, chat.ErrMalformedRequest)
		})
	}
}

func TestRequestParams_Malformed(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		join  bool
	}{
		{"join without params", `{"version":"2.0","method":"join"}`, true},
		{"join without recipient", `{"version":"2.0","method":"join","params":{}}`, true},
		{"join with negative recipient", `{"version":"2.0","method":"join","params":{"recipient":-1}}`, true},
		{"send without message", `{"version":"2.0","method":"send_message","params":{"recipient":1}}`, false},
		{"send with null params", `{"version":"2.0","method":"send_message","params":null}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := chat.DecodeRequest([]byte(tc.frame))
			require.NoError(t, err)
			if tc.join {
				_, err = req.JoinParams()
			} else {
				_, err = req.SendMessageParams()
			}
			assert.ErrorIs(t, err, chat.ErrMalformedRequest)
		})
	}
}

func TestResponse_WireFormat(t *testing.T) {
	reqID := uint64(3)
	cases := []struct {
		name     string
		response chat.Response
		expected string
	}{
		{
			name:     "connect ack",
			response: chat.NewConnectAck(42),
			expected: `{"version":"2.0","id":null,"result":{"id":42},"error":null}`,
		},
		{
			name:     "join ack echoes request id",
			response: chat.NewJoinAck(&reqID, 42),
			expected: `{"version":"2.0","id":3,"result":{"joined_user":42},"error":null}`,
		},
		{
			name:     "join error",
			response: chat.NewJoinError(nil, "Recipient doesn't exist"),
			expected: `{"version":"2.0","id":null,"result":null,"error":{"error_message":"Recipient doesn't exist"}}`,
		},
		{
			name:     "chat delivery",
			response: chat.NewChatDelivery(chat.OutboundMessage{Sender: 7, Message: "hi", Recipient: 42}),
			expected: `{"version":"2.0","id":null,"result":{"message":"hi","recipient":42,"sender":7},"error":null}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.response)
			require.NoError(t, err)
			assert.JSONEq(t, tc.expected, string(data))

			var decoded chat.Response
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tc.response, decoded)
		})
	}
}

func TestInboundTopic(t *testing.T) {
	assert.Equal(t, "inbound.e1.deliver", chat.InboundTopic("e1"))
	assert.Equal(t, "42", chat.ConnectionID(42).String())
}
