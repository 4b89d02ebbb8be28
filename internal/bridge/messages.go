package bridge

import (
	"encoding/json"
	"errors"
)

// Relay message types
const (
	MessageTypeIdentify         = "identify"
	MessageTypeIdentifyResponse = "identify_response"
	MessageTypeDiffRequest      = "diff_request"
	MessageTypeDiffResponse     = "diff_response"
	MessageTypeShowDiff         = "show_diff"
	MessageTypeDiffResult       = "diff_result"
	MessageTypeExecuteCommand   = "execute_command"
	MessageTypePing             = "ping"
	MessageTypePong             = "pong"
	MessageTypeError            = "error"
)

// RPC methods
const (
	MethodInitialize              = "initialize"
	MethodNotificationInitialized = "notifications/initialized"
	MethodToolsList               = "tools/list"
	MethodToolsCall               = "tools/call"
	MethodPromptsList             = "prompts/list"
	MethodResourcesList           = "resources/list"
)

// skipMethods are accepted without a reply
var skipMethods = map[string]bool{
	"notifications/cancelled": true,
	"ide_connected":           true,
}

// Error codes
const (
	ErrorCodeUnknownType         = "UNKNOWN_TYPE"
	ErrorCodeUnknownClient       = "UNKNOWN_CLIENT"
	ErrorCodeRoleConflict        = "ROLE_CONFLICT"
	ErrorCodeInvalidDiffRequest  = "INVALID_DIFF_REQUEST"
	ErrorCodeEditorNotConnected  = "VIM_NOT_CONNECTED"
	ErrorCodeDiffProcessingError = "DIFF_PROCESSING_ERROR"
)

// JSON-RPC error codes
const (
	RPCMethodNotFound = -32601
)

// inbound is one decoded message. Only the routing keys are decoded up
// front; handlers read their own fields so a mistyped field never hides the
// rest of the message.
type inbound struct {
	ID     json.RawMessage
	Method string
	Type   string
	Params json.RawMessage

	fields map[string]json.RawMessage
}

func parseInbound(raw []byte) (*inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("message is null")
	}

	msg := &inbound{
		ID:     fields["id"],
		Params: fields["params"],
		fields: fields,
	}
	msg.Method, _ = msg.String("method")
	msg.Type, _ = msg.String("type")
	return msg, nil
}

// String returns the field as a string. ok is false when the field is
// absent or not a JSON string.
func (m *inbound) String(key string) (string, bool) {
	raw, present := m.fields[key]
	if !present {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// OptionalString is String for fields where absence matters
func (m *inbound) OptionalString(key string) *string {
	s, ok := m.String(key)
	if !ok {
		return nil
	}
	return &s
}

// Text renders the field for messages: strings unquoted, anything else as
// written on the wire.
func (m *inbound) Text(key string) string {
	if s, ok := m.String(key); ok {
		return s
	}
	return string(m.fields[key])
}

// idString renders a wire id as a map key: strings unquoted, numbers as
// written. Absent or null ids yield "".
func idString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ErrorMessage is the relay error envelope
type ErrorMessage struct {
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id,omitempty"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
}

// IdentifyResponse acknowledges an identify
type IdentifyResponse struct {
	Type         string          `json:"type"`
	ID           json.RawMessage `json:"id,omitempty"`
	Status       string          `json:"status"`
	ConnectionID string          `json:"connection_id,omitempty"`
}

// ShowDiff asks the editor to present a staged diff
type ShowDiff struct {
	Type         string          `json:"type"`
	ID           json.RawMessage `json:"id,omitempty"`
	FilePath     string          `json:"file_path"`
	TempOriginal string          `json:"temp_original"`
	TempModified string          `json:"temp_modified"`
}

// DiffResult relays the editor's decision to the assistant
type DiffResult struct {
	Type   string          `json:"type"`
	ID     json.RawMessage `json:"id,omitempty"`
	Result string          `json:"result"`
}

// ExecuteCommand asks the editor to run an ex command
type ExecuteCommand struct {
	Type    string          `json:"type"`
	Command string          `json:"command"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Pong answers a relay ping
type Pong struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
}

// RPCResponse is a JSON-RPC 2.0 success reply
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

// RPCErrorResponse is a JSON-RPC 2.0 error reply
type RPCErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   RPCError        `json:"error"`
}

// RPCError is the error member of a JSON-RPC reply
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func rpcResult(id json.RawMessage, result any) RPCResponse {
	return RPCResponse{JSONRPC: "2.0", ID: nullable(id), Result: result}
}

func rpcError(id json.RawMessage, code int, message string) RPCErrorResponse {
	return RPCErrorResponse{JSONRPC: "2.0", ID: nullable(id), Error: RPCError{Code: code, Message: message}}
}

// nullable keeps a JSON-RPC reply well formed when the request had no id
func nullable(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
