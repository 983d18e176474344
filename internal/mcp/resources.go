package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/chatlift/internal/canonical"
	"github.com/hurttlocker/chatlift/internal/observe"
)

const (
	schemaResourceURI      = "chatlift://schema/canonical-message"
	remediationResourceURI = "chatlift://guides/missing-attachments"
)

func registerSchemaResource(s *server.MCPServer) {
	resource := mcp.NewResource(
		schemaResourceURI,
		"Canonical Message Schema",
		mcp.WithResourceDescription("JSON Schema every extracted message conforms to, with its schema version."),
		mcp.WithMIMEType("application/schema+json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/schema+json", Text: string(canonical.SchemaJSON())},
		}, nil
	})

	guide := mcp.NewResource(
		remediationResourceURI,
		"Missing Attachment Remediation",
		mcp.WithResourceDescription("Steps that bring attachments not present on disk back before re-running an extraction."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(guide, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		payload := map[string]interface{}{
			"steps": observe.Remediation,
			"count": len(observe.Remediation),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
