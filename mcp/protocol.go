package mcp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MCPVersion is the protocol revision sent during initialize.
const MCPVersion = "2024-11-05"

// MCPMessage JSON-RPC 2.0 消息（请求、响应、通知共用）
type MCPMessage struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id,omitempty"`
	Method  string         `json:"method,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Result  any            `json:"result,omitempty"`
	Error   *MCPError      `json:"error,omitempty"`
}

// IsResponse reports whether the message answers a request.
func (m *MCPMessage) IsResponse() bool {
	return m.ID != nil && m.Method == ""
}

// IsNotification reports whether the message is a notification.
func (m *MCPMessage) IsNotification() bool {
	return m.ID == nil && m.Method != ""
}

// MCPError JSON-RPC 错误对象
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// JSON-RPC 标准错误码
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// ServerInfo identifies an MCP server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
}

// ToolDefinition 服务端声明的工具
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Validate 验证工具定义
func (t *ToolDefinition) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	return nil
}

// Content is one item of a tools/call result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult tools/call 返回体
type CallToolResult struct {
	Content           []Content      `json:"content,omitempty"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// Data flattens a tools/call result into a map: structuredContent first,
// then the first text item parsed as a JSON object, then {"text": ...}.
func (r *CallToolResult) Data() map[string]any {
	if len(r.StructuredContent) > 0 {
		return r.StructuredContent
	}
	for _, c := range r.Content {
		if c.Type != "text" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(c.Text), &obj); err == nil && obj != nil {
			return obj
		}
		return map[string]any{"text": c.Text}
	}
	return map[string]any{}
}

// Text returns the concatenated text content.
func (r *CallToolResult) Text() string {
	var s string
	for _, c := range r.Content {
		if c.Type == "text" {
			if s != "" {
				s += "\n"
			}
			s += c.Text
		}
	}
	return s
}

// MarshalJSON always stamps the JSON-RPC version.
func (m *MCPMessage) MarshalJSON() ([]byte, error) {
	type alias MCPMessage
	return json.Marshal(&struct {
		JSONRPC string `json:"jsonrpc"`
		*alias
	}{
		JSONRPC: "2.0",
		alias:   (*alias)(m),
	})
}

// NewMCPRequest 创建 MCP 请求
func NewMCPRequest(id any, method string, params map[string]any) *MCPMessage {
	return &MCPMessage{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// NewMCPNotification 创建 MCP 通知（无 id）
func NewMCPNotification(method string, params map[string]any) *MCPMessage {
	return &MCPMessage{JSONRPC: "2.0", Method: method, Params: params}
}

// NewMCPResponse 创建 MCP 响应
func NewMCPResponse(id any, result any) *MCPMessage {
	return &MCPMessage{JSONRPC: "2.0", ID: id, Result: result}
}

// NewMCPError 创建 MCP 错误响应
func NewMCPError(id any, code int, message string, data any) *MCPMessage {
	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &MCPError{Code: code, Message: message, Data: data},
	}
}

// decodeResult re-encodes a generic result into out.
func decodeResult(result any, out any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// idKey normalises a decoded JSON-RPC id to the int64 the client issued.
func idKey(id any) (int64, bool) {
	switch v := id.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
