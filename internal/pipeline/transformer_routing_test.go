package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-edge-chat/internal/pipeline"
	"github.com/tinywideclouds/go-edge-chat/pkg/chat"
)

func TestOutboundTransformer(t *testing.T) {
	testCases := []struct {
		name            string
		payload         []byte
		expectedMessage *chat.OutboundMessage
		expectError     bool
	}{
		{
			name:            "Success - Valid Payload",
			payload:         []byte(`{"sender":7,"message":"hi","recipient":42}`),
			expectedMessage: &chat.OutboundMessage{Sender: 7, Message: "hi", Recipient: 42},
		},
		{
			name:        "Failure - Malformed JSON Payload",
			payload:     []byte("{ not-valid-json }"),
			expectError: true,
		},
		{
			name:        "Failure - Wrong Field Types",
			payload:     []byte(`{"sender":"seven","message":"hi","recipient":42}`),
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Act
			msg, err := pipeline.OutboundTransformer(tc.payload)

			// Assert
			if tc.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, pipeline.ErrUndecodable)
				assert.Nil(t, msg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedMessage, msg)
		})
	}
}
