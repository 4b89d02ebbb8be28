package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/codefionn/diffbridge/internal/config"
	"github.com/codefionn/diffbridge/internal/diffexchange"
	"github.com/codefionn/diffbridge/internal/registry"
)

// dispatch handles one event on the loop. It reports whether the session
// must stop.
func (s *Session) dispatch(ev event) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Recovered from panic in handler: %v\n%s", r, debug.Stack())
			stop = false
		}
	}()

	switch ev.kind {
	case eventMessage:
		s.handleMessage(ev.source, ev.raw)
	case eventClose:
		return s.handleClose(ev.source)
	case eventStatus:
		ev.status <- s.snapshot(s.diffs.ListOpen())
	}
	return false
}

func (s *Session) handleMessage(source registry.Socket, raw []byte) {
	msg, err := parseInbound(raw)
	if err != nil {
		s.log.Warn("Dropping unparsable message from %s: %v", source.ID(), err)
		return
	}

	if msg.Method != "" {
		s.handleRPC(source, msg)
		return
	}

	switch msg.Type {
	case MessageTypeIdentify:
		s.handleIdentify(source, msg)
	case MessageTypeDiffRequest:
		s.handleDiffRequest(source, msg)
	case MessageTypeDiffResponse:
		s.handleDiffResponse(source, msg)
	case MessageTypePing:
		s.send(source, Pong{Type: MessageTypePong, ID: msg.ID})
	case MessageTypePong:
		s.handlePong(source)
	default:
		s.sendError(source, msg.ID, fmt.Sprintf("Unknown message type: %s", msg.Type), ErrorCodeUnknownType)
	}
}

func (s *Session) handleRPC(source registry.Socket, msg *inbound) {
	s.log.Debug("RPC %s from %s", msg.Method, source.ID())

	switch msg.Method {
	case MethodInitialize:
		s.send(source, rpcResult(msg.ID, initializeResult(s.opts.ServerInfo)))
	case MethodNotificationInitialized:
	case MethodToolsList:
		s.send(source, rpcResult(msg.ID, toolCatalog()))
	case MethodPromptsList:
		s.send(source, rpcResult(msg.ID, promptCatalog()))
	case MethodResourcesList:
		s.send(source, rpcResult(msg.ID, resourceCatalog()))
	case MethodToolsCall:
		s.handleToolsCall(source, msg)
	default:
		if skipMethods[msg.Method] {
			return
		}
		s.handleUnknownMethod(source, msg)
	}
}

func (s *Session) handleUnknownMethod(source registry.Socket, msg *inbound) {
	if s.opts.UnknownMethod == config.UnknownMethodIgnore {
		s.log.Info("Ignoring unknown method %s", msg.Method)
		return
	}
	// Notifications never get a reply
	if len(msg.ID) == 0 {
		s.log.Debug("Unknown notification %s", msg.Method)
		return
	}
	s.send(source, rpcError(msg.ID, RPCMethodNotFound, fmt.Sprintf("Method not found: %s", msg.Method)))
}

// handleToolsCall forwards an edit command to the editor and replies success
// without waiting for the editor. Bad params are logged, never reported.
func (s *Session) handleToolsCall(source registry.Socket, msg *inbound) {
	var params toolCallParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.log.Warn("Invalid tools/call params: %v", err)
		}
	}
	if params.Name != "" && params.Name != OpenFileTool {
		s.log.Warn("tools/call for unknown tool %s", params.Name)
	}

	command := "edit"
	if filePath := strings.TrimSpace(params.Arguments.FilePath); filePath != "" {
		command += " " + filePath
		if editor := s.bound(registry.RoleEditor); editor != nil {
			s.send(editor, ExecuteCommand{Type: MessageTypeExecuteCommand, Command: command, ID: msg.ID})
		} else {
			s.log.Warn("No editor bound, dropping command %q", command)
		}
	} else {
		s.log.Warn("tools/call without filePath, nothing forwarded")
	}

	s.send(source, rpcResult(msg.ID, ToolCallResult{
		Content: []TextContent{{Type: "text", Text: fmt.Sprintf("Executed %s in editor", command)}},
	}))
}

// parseRole maps a wire client_type to a role, accepting the legacy names
func parseRole(clientType string) (registry.Role, bool) {
	switch clientType {
	case "editor", "vim":
		return registry.RoleEditor, true
	case "assistant", "claude":
		return registry.RoleAssistant, true
	}
	return registry.RoleUnassigned, false
}

func (s *Session) handleIdentify(source registry.Socket, msg *inbound) {
	clientType, _ := msg.String("client_type")
	role, ok := parseRole(clientType)
	if !ok {
		s.sendError(source, msg.ID, fmt.Sprintf("Unknown client type: %s", msg.Text("client_type")), ErrorCodeUnknownClient)
		return
	}

	// Eviction drops the registry record but not the binding, so the
	// binding is the authority on the role a socket already holds
	if held, ok := s.roleOf(source); ok && held != role {
		s.sendError(source, msg.ID, registry.ErrRoleConflict.Error(), ErrorCodeRoleConflict)
		return
	}

	connID, err := s.reg.Register(source, role)
	if err != nil {
		if errors.Is(err, registry.ErrRoleConflict) {
			s.sendError(source, msg.ID, err.Error(), ErrorCodeRoleConflict)
			return
		}
		s.sendError(source, msg.ID, err.Error(), ErrorCodeUnknownClient)
		return
	}

	if previous := s.bound(role); previous != nil && previous.ID() != source.ID() {
		s.log.Info("Replacing %s binding %s with %s", role, previous.ID(), source.ID())
	}
	s.bind(role, source)
	s.log.Info("%s client identified (%s)", role, connID)

	s.send(source, IdentifyResponse{
		Type:         MessageTypeIdentifyResponse,
		ID:           msg.ID,
		Status:       "success",
		ConnectionID: connID,
	})
}

func (s *Session) handleDiffRequest(source registry.Socket, msg *inbound) {
	editor := s.bound(registry.RoleEditor)
	if editor == nil || !editor.IsOpen() {
		s.sendError(source, msg.ID, "Vim client not connected", ErrorCodeEditorNotConnected)
		return
	}

	filePath, _ := msg.String("file_path")
	staged, err := s.diffs.Open(diffexchange.Request{
		ID:              idString(msg.ID),
		FilePath:        filePath,
		OriginalContent: msg.OptionalString("original_content"),
		ModifiedContent: msg.OptionalString("modified_content"),
	})
	if err != nil {
		s.log.Error("Error processing diff request: %v", err)
		if errors.Is(err, diffexchange.ErrMissingFields) {
			s.sendError(source, msg.ID, "Missing required fields in diff request", ErrorCodeInvalidDiffRequest)
			return
		}
		s.sendError(source, msg.ID, "Failed to process diff request", ErrorCodeDiffProcessingError)
		return
	}

	err = s.send(editor, ShowDiff{
		Type:         MessageTypeShowDiff,
		ID:           msg.ID,
		FilePath:     filePath,
		TempOriginal: staged.Original,
		TempModified: staged.Modified,
	})
	if err != nil {
		s.diffs.Close(idString(msg.ID))
		s.sendError(source, msg.ID, "Failed to process diff request", ErrorCodeDiffProcessingError)
	}
}

// handleDiffResponse relays the decision and releases the exchange, also when
// no assistant is bound to receive it.
func (s *Session) handleDiffResponse(source registry.Socket, msg *inbound) {
	result := "rejected"
	if action, _ := msg.String("action"); action == "accept" {
		result = "accepted"
	}

	if assistant := s.bound(registry.RoleAssistant); assistant != nil {
		s.send(assistant, DiffResult{Type: MessageTypeDiffResult, ID: msg.ID, Result: result})
	} else {
		s.log.Info("Claude client not connected, cannot send diff result")
	}

	s.diffs.Close(idString(msg.ID))
}

func (s *Session) handlePong(source registry.Socket) {
	id, ok := s.reg.Lookup(source)
	if !ok {
		s.log.Debug("Pong from unidentified socket %s", source.ID())
		return
	}
	s.reg.RecordPong(id)
}

// handleClose unregisters source and unbinds it. It reports true when source
// was the bound editor, which ends the session.
func (s *Session) handleClose(source registry.Socket) bool {
	if id, ok := s.reg.Lookup(source); ok {
		s.reg.Unregister(id)
	}

	for _, role := range s.unbind(source) {
		if role == registry.RoleEditor {
			s.log.Info("Vim client disconnected, shutting down server")
			return true
		}
		s.log.Info("%s client disconnected", role)
	}
	return false
}

// send encodes v and queues it on sock. Failures are logged and returned.
func (s *Session) send(sock registry.Socket, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Error("Failed to encode message: %v", err)
		return err
	}
	if err := sock.Send(payload); err != nil {
		s.log.Warn("Failed to send to %s: %v", sock.ID(), err)
		return err
	}
	return nil
}

func (s *Session) sendError(sock registry.Socket, id json.RawMessage, message, code string) {
	s.send(sock, ErrorMessage{Type: MessageTypeError, ID: id, Message: message, Code: code})
}
