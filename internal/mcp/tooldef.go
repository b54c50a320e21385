// tooldef.go — server-side tool/resource registration types and the
// notification message shape, supplementing protocol.go / types.go.
package mcp

import "encoding/json"

// JSONRPCNotification represents a JSON-RPC 2.0 notification: a request
// with no id, for which the core sends no response.
type JSONRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// ToolInputField describes one parameter of a tool's input schema.
type ToolInputField struct {
	Name        string
	Type        string // JSON Schema primitive: string, number, boolean, object, array
	Description string
	Required    bool
}

// ToolDef is the core's registration-time view of a tool: name,
// description, and a typed field list. BuildInputSchema renders it into
// the wire-level {type, properties, required} object.
type ToolDef struct {
	Name        string
	Description string
	Fields      []ToolInputField
}

// BuildInputSchema converts Fields into the JSON Schema object clients
// expect in tools/list responses.
func (t ToolDef) BuildInputSchema() map[string]any {
	props := make(map[string]any, len(t.Fields))
	var required []string
	for _, f := range t.Fields {
		prop := map[string]any{"type": f.Type}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToMCPTool renders the registration-time ToolDef into the wire type.
func (t ToolDef) ToMCPTool() MCPTool {
	return MCPTool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.BuildInputSchema(),
	}
}

// ResourceDef is a registered resource: URI-addressed, opaque to the core.
type ResourceDef struct {
	URI         string
	Name        string
	MimeType    string
	Description string
}

func (r ResourceDef) ToMCPResource() MCPResource {
	return MCPResource{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MimeType}
}

// ResourceTemplateDef is a registered resource template; match semantics
// against a concrete URI are out of scope for the core (handled
// externally), so the core only stores and lists templates verbatim.
type ResourceTemplateDef struct {
	URITemplate string
	Name        string
	MimeType    string
	Description string
}

// MCPResourceTemplate is the wire shape of a resource template.
type MCPResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

func (r ResourceTemplateDef) ToMCPResourceTemplate() MCPResourceTemplate {
	return MCPResourceTemplate{URITemplate: r.URITemplate, Name: r.Name, Description: r.Description, MimeType: r.MimeType}
}
