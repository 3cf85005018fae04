package main

import (
	"context"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/basaltrun/toolfed"
	"github.com/basaltrun/toolfed/facade"
)

// serveMCP exposes fac's four meta-operations as MCP tools over stdio,
// refusing any other tool name in-band per spec.md §4.D. Grounded on
// Aureuma-si's credentials-mcp/main.go mcp.NewServer/mcp.AddTool wiring,
// with a receiving middleware (modelcontextprotocol/go-sdk's
// examples/server/middleware pattern) standing in for the catch-all route
// the SDK has no way to register: AddTool only ever binds exact names, so
// a call for anything else would otherwise surface as the SDK's own
// jsonrpc "unknown tool" protocol fault instead of the façade's in-band
// refusal.
func serveMCP(ctx context.Context, fac *facade.Facade) error {
	impl := &mcp.Implementation{
		Name:    "toolfed",
		Title:   "Tool Federation Gateway",
		Version: "0.1.0",
	}
	server := mcp.NewServer(impl, &mcp.ServerOptions{HasTools: true})
	server.AddReceivingMiddleware(refuseNonMetaTools)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tool_names",
		Description: "List qualified tool names across all federated backends, optionally filtered by backend name and keywords.",
	}, listToolNamesHandler(fac))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_tool_definition",
		Description: "Fetch the full definition (description, input/output schema) of one qualified tool name.",
	}, getToolDefinitionHandler(fac))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_tools",
		Description: "Search for tools relevant to a natural-language query, optionally scoped to one backend.",
	}, searchToolsHandler(fac))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_script",
		Description: "Run a Go script in the sandbox. The script imports generated bindings and calls federated tools directly; this is the only way to invoke a non-meta tool.",
	}, executeScriptHandler(fac))

	return server.Run(ctx, &mcp.StdioTransport{})
}

// refuseNonMetaTools intercepts tools/call for any name outside the
// façade's four meta-operations and returns facade.RefuseDirectDispatch's
// in-band CallToolResult instead of calling through to the SDK's own
// handler dispatch (which would 404 with a protocol-level jsonrpc.Error
// for a name it never registered).
func refuseNonMetaTools(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		call, ok := req.(*mcp.CallToolRequest)
		if !ok || facade.IsMetaOperation(call.Params.Name) {
			return next(ctx, method, req)
		}
		return toCallToolResult(facade.RefuseDirectDispatch(call.Params.Name)), nil
	}
}

func toCallToolResult(result toolfed.CallResult) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: result.IsError}
	for _, part := range result.Content {
		switch part.Type {
		case toolfed.ContentText:
			out.Content = append(out.Content, &mcp.TextContent{Text: part.Text})
		case toolfed.ContentStructured:
			out.StructuredContent = part.Structured
		}
	}
	return out
}

type listToolNamesInput struct {
	Server   string   `json:"server,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

func listToolNamesHandler(fac *facade.Facade) func(context.Context, *mcp.CallToolRequest, listToolNamesInput) (*mcp.CallToolResult, facade.ListToolNamesResult, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in listToolNamesInput) (*mcp.CallToolResult, facade.ListToolNamesResult, error) {
		return nil, fac.ListToolNames(in.Server, in.Keywords, in.Limit), nil
	}
}

type getToolDefinitionInput struct {
	ToolName string `json:"tool_name"`
}

func getToolDefinitionHandler(fac *facade.Facade) func(context.Context, *mcp.CallToolRequest, getToolDefinitionInput) (*mcp.CallToolResult, toolfed.ToolRecord, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in getToolDefinitionInput) (*mcp.CallToolResult, toolfed.ToolRecord, error) {
		rec, err := fac.GetToolDefinition(in.ToolName)
		if err != nil {
			return nil, toolfed.ToolRecord{}, err
		}
		return nil, rec, nil
	}
}

type searchToolsInput struct {
	Query  string `json:"query"`
	Server string `json:"server,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type searchToolsOutput struct {
	Tools []toolfed.ToolRecord `json:"tools"`
}

func searchToolsHandler(fac *facade.Facade) func(context.Context, *mcp.CallToolRequest, searchToolsInput) (*mcp.CallToolResult, searchToolsOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in searchToolsInput) (*mcp.CallToolResult, searchToolsOutput, error) {
		tools := fac.SearchTools(ctx, in.Query, in.Server, in.Limit)
		return nil, searchToolsOutput{Tools: tools}, nil
	}
}

type executeScriptInput struct {
	Code      string `json:"code"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

func executeScriptHandler(fac *facade.Facade) func(context.Context, *mcp.CallToolRequest, executeScriptInput) (*mcp.CallToolResult, facade.ExecuteResult, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in executeScriptInput) (*mcp.CallToolResult, facade.ExecuteResult, error) {
		result, err := fac.ExecuteScript(ctx, in.Code, in.TimeoutMS)
		if err != nil {
			return nil, facade.ExecuteResult{}, err
		}
		return nil, result, nil
	}
}
