package stratum

import (
	"encoding/json"
	"fmt"
)

// Message represents a Stratum JSON-RPC message. Result and Error always
// serialize, even when nil, so a response reads as
// {"id":4,"result":null,"error":[21,"duplicate-share",null]} rather than
// dropping whichever key is unset.
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result"`
	Error  *Error `json:"error"`
}

// Error represents a Stratum error response. It marshals as the 3-element
// [code, message, data] array the wire protocol expects, not a JSON object.
type Error struct {
	Code    int
	Message string
	Data    any
}

// MarshalJSON emits Error as [code, message, data].
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{e.Code, e.Message, e.Data})
}

// UnmarshalJSON parses the [code, message, data] array shape back into Error.
func (e *Error) UnmarshalJSON(data []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse stratum error array: %w", err)
	}
	if err := json.Unmarshal(raw[0], &e.Code); err != nil {
		return fmt.Errorf("failed to parse stratum error code: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Message); err != nil {
		return fmt.Errorf("failed to parse stratum error message: %w", err)
	}
	return json.Unmarshal(raw[2], &e.Data)
}

// Stratum error codes, fixed to the exact values and names required: there
// is no code 23.
const (
	ErrorJobNotFound    = 20
	ErrorDuplicateShare = 21
	ErrorLowDifficulty  = 22
	ErrorUnauthorized   = 24
	ErrorInternal       = 25
	ErrorInvalidRequest = -32600
	ErrorMethodNotFound = -32601
	ErrorInvalidParams  = -32602
	ErrorParseError     = -32700
)

// errorMessages maps the fixed error codes to their canonical message text,
// used verbatim in the JSON-RPC error response.
var errorMessages = map[int]string{
	ErrorJobNotFound:    "job-not-found",
	ErrorDuplicateShare: "duplicate-share",
	ErrorLowDifficulty:  "low-difficulty-share",
	ErrorUnauthorized:   "unauthorized",
	ErrorInternal:       "internal-error",
}

// SubscribeRequest represents a mining.subscribe request
type SubscribeRequest struct {
	UserAgent string
}

// AuthorizeRequest represents a mining.authorize request: identity is
// "address.workerName"; password is optional and unused by the core.
type AuthorizeRequest struct {
	Identity string
	Password string
}

// SubmitRequest represents a mining.submit request: identity is
// "address.workerName".
type SubmitRequest struct {
	Identity string
	JobID    string
	NonceHex string
}

// SetExtranonceParams represents set_extranonce notification parameters.
type SetExtranonceParams struct {
	ExtraNonceHex string
}

// SetDifficultyParams represents mining.set_difficulty parameters
type SetDifficultyParams struct {
	Difficulty float64 `json:"difficulty"`
}

// NotifyParams represents mining.notify parameters, fixed by design to two
// entries: the jobId and prePoWHashHex ‖ timestampLEHex.
type NotifyParams struct {
	JobID   string
	Payload string
}

// ParseMessage parses a JSON-RPC message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// MarshalMessage marshals a message to JSON bytes
func MarshalMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// NewRequest creates a new request message
func NewRequest(id any, method string, params []any) *Message {
	return &Message{
		ID:     id,
		Method: method,
		Params: params,
	}
}

// NewResponse creates a new response message: {"id":N,"result":true,"error":null}
func NewResponse(id any, result any) *Message {
	return &Message{
		ID:     id,
		Result: result,
	}
}

// NewErrorResponse creates a new error response message using one of the
// fixed error codes; message is looked up from errorMessages so callers
// never hand-roll the wire text.
func NewErrorResponse(id any, code int) *Message {
	msg, ok := errorMessages[code]
	if !ok {
		msg = "internal-error"
	}
	return &Message{
		ID:     id,
		Result: nil,
		Error: &Error{
			Code:    code,
			Message: msg,
		},
	}
}

// NewNotification creates a new notification message
func NewNotification(method string, params []any) *Message {
	return &Message{
		ID:     nil,
		Method: method,
		Params: params,
	}
}

// IsRequest returns true if the message is a request
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// IsResponse returns true if the message is a response
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil && (m.Result != nil || m.Error != nil)
}

// IsNotification returns true if the message is a notification
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// ParseSubscribeRequest parses mining.subscribe parameters: [agent, ...]
func ParseSubscribeRequest(params []any) (*SubscribeRequest, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("insufficient parameters")
	}

	req := &SubscribeRequest{}
	if userAgent, ok := params[0].(string); ok {
		req.UserAgent = userAgent
	}
	return req, nil
}

// ParseAuthorizeRequest parses mining.authorize parameters:
// ["address.workerName", password?]
func ParseAuthorizeRequest(params []any) (*AuthorizeRequest, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("insufficient parameters")
	}

	identity, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("identity must be string")
	}

	req := &AuthorizeRequest{Identity: identity}
	if len(params) > 1 {
		if password, ok := params[1].(string); ok {
			req.Password = password
		}
	}
	return req, nil
}

// ParseSubmitRequest parses mining.submit parameters:
// ["address.workerName", jobId, nonceHex]
func ParseSubmitRequest(params []any) (*SubmitRequest, error) {
	if len(params) < 3 {
		return nil, fmt.Errorf("insufficient parameters")
	}

	identity, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("identity must be string")
	}

	jobID, ok := params[1].(string)
	if !ok {
		return nil, fmt.Errorf("job id must be string")
	}

	nonceHex, ok := params[2].(string)
	if !ok {
		return nil, fmt.Errorf("nonce must be string")
	}

	return &SubmitRequest{Identity: identity, JobID: jobID, NonceHex: nonceHex}, nil
}
