// methods.go — the method handler contracts: one function per MCP
// request method, each translating its own failures into an RPCError.
package server

import (
	"encoding/base64"
	"encoding/json"

	"github.com/brennhill/mcp-runtime/internal/cache"
	"github.com/brennhill/mcp-runtime/internal/mcp"
)

// dispatchMethod routes a parsed request to its handler and returns the
// raw JSON result, or an RPCError, plus any advisory warnings to attach
// to the response.
func (s *Server) dispatchMethod(req mcp.JSONRPCRequest) (json.RawMessage, *mcp.RPCError, []string) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(), nil, nil
	case "list_resources":
		return s.handleListResources(), nil, nil
	case "list_resource_templates":
		return s.handleListResourceTemplates(), nil, nil
	case "read_resource":
		return s.handleReadResource(req.Params)
	case "list_tools":
		return s.handleListTools(), nil, nil
	case "call_tool":
		return s.handleCallTool(req.Params)
	default:
		return nil, mcp.NewRPCError(mcp.KindMethodNotFound, "method not found: "+req.Method), nil
	}
}

func (s *Server) handleInitialize() json.RawMessage {
	result := mcp.MCPInitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      mcp.MCPServerInfo{Name: s.cfg.ServerName, Version: s.cfg.ServerVersion},
		Capabilities:    mcp.MCPCapabilities{},
		Instructions:    s.cfg.Instructions,
	}
	return mcp.SafeMarshal(result, `{}`)
}

func (s *Server) handleListResources() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mcp.MCPResource, len(s.resources))
	for i, r := range s.resources {
		out[i] = r.ToMCPResource()
	}
	return mcp.SafeMarshal(mcp.MCPResourcesListResult{Resources: out}, `{"resources":[]}`)
}

func (s *Server) handleListResourceTemplates() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mcp.MCPResourceTemplate, len(s.templates))
	for i, t := range s.templates {
		out[i] = t.ToMCPResourceTemplate()
	}
	return mcp.SafeMarshal(mcp.MCPResourceTemplatesListResult{ResourceTemplates: out}, `{"resourceTemplates":[]}`)
}

func (s *Server) handleListTools() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mcp.MCPTool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.def.ToMCPTool())
	}
	return mcp.SafeMarshal(mcp.MCPToolsListResult{Tools: out}, `{"tools":[]}`)
}

type readResourceParams struct {
	URI string `json:"uri"`
}

func (s *Server) handleReadResource(params json.RawMessage) (json.RawMessage, *mcp.RPCError, []string) {
	var p readResourceParams
	if err := json.Unmarshal(params, &p); err != nil || p.URI == "" {
		return nil, mcp.NewRPCError(mcp.KindInvalidParams, "read_resource requires a string 'uri' parameter"), nil
	}

	items, ok := s.cache.Get(p.URI)
	if !ok {
		if s.resourceHandler == nil {
			return nil, mcp.NewRPCError(mcp.KindInternal, "no resource handler installed"), nil
		}
		fresh, err := s.resourceHandler(p.URI)
		if err != nil {
			return nil, mcp.NewRPCError(mcp.KindResourceNotFound, err.Error()), nil
		}
		s.cache.Put(p.URI, fresh, 0)
		items = fresh
	}

	contents := make([]mcp.MCPResourceContent, len(items))
	for i, it := range items {
		contents[i] = resourceContentFromItem(p.URI, it)
	}
	return mcp.SafeMarshal(mcp.MCPResourcesReadResult{Contents: contents}, `{"contents":[]}`), nil, nil
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleCallTool(params json.RawMessage) (json.RawMessage, *mcp.RPCError, []string) {
	var p callToolParams
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, mcp.NewRPCError(mcp.KindInvalidParams, "call_tool requires a string 'name' parameter"), nil
	}
	arguments := p.Arguments
	if len(arguments) == 0 {
		arguments = json.RawMessage(`{}`)
	}

	s.mu.RLock()
	entry, found := s.tools[p.Name]
	s.mu.RUnlock()
	if !found {
		return nil, mcp.NewRPCError(mcp.KindToolFailed, "unknown tool: "+p.Name), nil
	}

	items, isError, err := entry.handler(p.Name, arguments)
	if err != nil {
		return nil, mcp.NewRPCError(mcp.KindToolFailed, err.Error()), nil
	}

	result := mcp.MCPToolResult{Content: contentBlocksFromItems(items), IsError: isError}
	warnings := mcp.ValidateParamsAgainstSchema(arguments, entry.def.BuildInputSchema())
	return mcp.SafeMarshal(result, `{"content":[],"isError":true}`), nil, warnings
}

func resourceContentFromItem(uri string, it cache.ContentItem) mcp.MCPResourceContent {
	c := mcp.MCPResourceContent{URI: uri, MimeType: it.MimeType}
	if it.Type == cache.ContentBinary {
		c.Blob = base64.StdEncoding.EncodeToString(it.Data)
	} else {
		c.Text = string(it.Data)
	}
	return c
}

func contentBlocksFromItems(items []cache.ContentItem) []mcp.MCPContentBlock {
	out := make([]mcp.MCPContentBlock, len(items))
	for i, it := range items {
		block := mcp.MCPContentBlock{MimeType: it.MimeType}
		switch it.Type {
		case cache.ContentBinary:
			block.Type = "binary"
			block.Data = base64.StdEncoding.EncodeToString(it.Data)
		case cache.ContentJSON:
			block.Type = "json"
			block.Text = string(it.Data)
		default:
			block.Type = "text"
			block.Text = string(it.Data)
		}
		out[i] = block
	}
	return out
}
