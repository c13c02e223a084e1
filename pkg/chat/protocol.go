package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the version tag carried by every request and response.
const ProtocolVersion = "2.0"

const (
	MethodJoin        = "join"
	MethodSendMessage = "send_message"
)

// ErrMalformedRequest is returned for frames that are not a structurally valid
// request envelope, or whose params do not match a recognised method.
var ErrMalformedRequest = errors.New("malformed request")

// Request is one client-to-server frame.
type Request struct {
	Version string          `json:"version"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *uint64         `json:"id,omitempty"`
}

// JoinParams are the params of a "join" request.
type JoinParams struct {
	Recipient ConnectionID
}

// SendMessageParams are the params of a "send_message" request.
type SendMessageParams struct {
	Message   string
	Recipient ConnectionID
}

// DecodeRequest parses a text frame. Unknown methods decode successfully; it is
// up to the caller to ignore them.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.Version == "" || req.Method == "" {
		return nil, fmt.Errorf("%w: version and method are required", ErrMalformedRequest)
	}
	return &req, nil
}

// JoinParams decodes the params of a join request.
func (r *Request) JoinParams() (JoinParams, error) {
	var raw struct {
		Recipient *ConnectionID `json:"recipient"`
	}
	if err := r.decodeParams(&raw); err != nil {
		return JoinParams{}, err
	}
	if raw.Recipient == nil {
		return JoinParams{}, fmt.Errorf("%w: join requires a recipient", ErrMalformedRequest)
	}
	return JoinParams{Recipient: *raw.Recipient}, nil
}

// SendMessageParams decodes the params of a send_message request.
func (r *Request) SendMessageParams() (SendMessageParams, error) {
	var raw struct {
		Message   *string       `json:"message"`
		Recipient *ConnectionID `json:"recipient"`
	}
	if err := r.decodeParams(&raw); err != nil {
		return SendMessageParams{}, err
	}
	if raw.Message == nil || raw.Recipient == nil {
		return SendMessageParams{}, fmt.Errorf("%w: send_message requires message and recipient", ErrMalformedRequest)
	}
	return SendMessageParams{Message: *raw.Message, Recipient: *raw.Recipient}, nil
}

func (r *Request) decodeParams(v any) error {
	if len(r.Params) == 0 || bytes.Equal(r.Params, []byte("null")) {
		return fmt.Errorf("%w: %s requires params", ErrMalformedRequest, r.Method)
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return fmt.Errorf("%w: %s params: %v", ErrMalformedRequest, r.Method, err)
	}
	return nil
}

// Result is the closed set of success payloads a Response can carry.
type Result interface {
	isResult()
}

// ConnectAck tells a client which id it was assigned.
type ConnectAck struct {
	ID ConnectionID `json:"id"`
}

// JoinAck confirms that the requested recipient is present.
type JoinAck struct {
	JoinedUser ConnectionID `json:"joined_user"`
}

// ChatDelivery is a chat message delivered to its recipient.
type ChatDelivery struct {
	Message   string       `json:"message"`
	Recipient ConnectionID `json:"recipient"`
	Sender    ConnectionID `json:"sender"`
}

func (ConnectAck) isResult()   {}
func (JoinAck) isResult()      {}
func (ChatDelivery) isResult() {}

// JoinError is the only error payload of the protocol.
type JoinError struct {
	ErrorMessage string `json:"error_message"`
}

// Response is one server-to-client frame. Exactly one of Result and Error is set.
type Response struct {
	Version string     `json:"version"`
	ID      *uint64    `json:"id"`
	Result  Result     `json:"result"`
	Error   *JoinError `json:"error"`
}

func NewConnectAck(id ConnectionID) Response {
	return Response{Version: ProtocolVersion, Result: ConnectAck{ID: id}}
}

func NewJoinAck(requestID *uint64, joined ConnectionID) Response {
	return Response{Version: ProtocolVersion, ID: requestID, Result: JoinAck{JoinedUser: joined}}
}

func NewJoinError(requestID *uint64, message string) Response {
	return Response{Version: ProtocolVersion, ID: requestID, Error: &JoinError{ErrorMessage: message}}
}

func NewChatDelivery(msg OutboundMessage) Response {
	return Response{
		Version: ProtocolVersion,
		Result: ChatDelivery{
			Message:   msg.Message,
			Recipient: msg.Recipient,
			Sender:    msg.Sender,
		},
	}
}

// UnmarshalJSON restores the concrete Result variant from its field set.
func (r *Response) UnmarshalJSON(data []byte) error {
	var aux struct {
		Version string          `json:"version"`
		ID      *uint64         `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *JoinError      `json:"error"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Version, r.ID, r.Error, r.Result = aux.Version, aux.ID, aux.Error, nil

	if len(aux.Result) == 0 || bytes.Equal(aux.Result, []byte("null")) {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(aux.Result, &fields); err != nil {
		return fmt.Errorf("response result: %w", err)
	}

	var (
		result Result
		err    error
	)
	switch {
	case fields["joined_user"] != nil:
		var v JoinAck
		err = json.Unmarshal(aux.Result, &v)
		result = v
	case fields["message"] != nil:
		var v ChatDelivery
		err = json.Unmarshal(aux.Result, &v)
		result = v
	case fields["id"] != nil:
		var v ConnectAck
		err = json.Unmarshal(aux.Result, &v)
		result = v
	default:
		return fmt.Errorf("response result: unknown variant %s", string(aux.Result))
	}
	if err != nil {
		return fmt.Errorf("response result: %w", err)
	}
	r.Result = result
	return nil
}
