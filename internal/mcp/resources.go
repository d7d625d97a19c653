package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// recentSpansLimit caps the recent-spans resource payload.
const recentSpansLimit = 20

func (s *Server) registerResources() {
	// tsuiseki://spans/recent — most recently started spans.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"tsuiseki://spans/recent",
			"Recent Spans",
			mcplib.WithResourceDescription("Most recently started inference spans across all traces"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentSpans,
	)
}

func (s *Server) handleRecentSpans(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	spans := s.store.AllSpans()
	sortSpansNewestFirst(spans)
	if len(spans) > recentSpansLimit {
		spans = spans[:recentSpansLimit]
	}

	data, err := json.MarshalIndent(spans, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal recent spans: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
