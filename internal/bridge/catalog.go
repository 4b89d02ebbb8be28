package bridge

// ProtocolVersion is the MCP revision announced in initialize
const ProtocolVersion = "2025-06-18"

// OpenFileTool is the single tool offered to the assistant
const OpenFileTool = "open_file"

// ServerInfo identifies the bridge in the initialize handshake
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type listChanged struct {
	ListChanged bool `json:"listChanged"`
}

type resourceCapability struct {
	Subscribe   bool `json:"subscribe"`
	ListChanged bool `json:"listChanged"`
}

// Capabilities is the static capability descriptor
type Capabilities struct {
	Logging   struct{}           `json:"logging"`
	Prompts   listChanged        `json:"prompts"`
	Resources resourceCapability `json:"resources"`
	Tools     listChanged        `json:"tools"`
}

// InitializeResult answers initialize
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// Tool is one catalog entry of tools/list
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// TextContent is a text block of a tools/call result
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult answers tools/call
type ToolCallResult struct {
	Content []TextContent `json:"content"`
}

type toolCallParams struct {
	Name      string `json:"name"`
	Arguments struct {
		FilePath string `json:"filePath"`
	} `json:"arguments"`
}

func initializeResult(info ServerInfo) InitializeResult {
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{
			Prompts:   listChanged{ListChanged: true},
			Resources: resourceCapability{Subscribe: true, ListChanged: true},
			Tools:     listChanged{ListChanged: true},
		},
		ServerInfo: info,
	}
}

func toolCatalog() map[string]any {
	return map[string]any{
		"tools": []Tool{{
			Name:        OpenFileTool,
			Description: "Open a file in the connected editor",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"filePath": map[string]any{
						"type":        "string",
						"description": "Path to the file to open",
					},
				},
				"required": []string{"filePath"},
			},
		}},
	}
}

func promptCatalog() map[string]any {
	return map[string]any{"prompts": []any{}}
}

func resourceCatalog() map[string]any {
	return map[string]any{"resources": []any{}}
}
