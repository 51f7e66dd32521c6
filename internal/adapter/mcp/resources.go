package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/SearchForge/internal/domain/quality"
	"github.com/Strob0t/SearchForge/internal/domain/search"
)

const (
	searchesURI       = "searchforge://searches"
	searchTemplateURI = searchesURI + "/{id}"
	jsonMIME          = "application/json"
)

// searchSnapshot is the per-search resource body.
type searchSnapshot struct {
	SearchID  string             `json:"search_id"`
	SessionID string             `json:"session_id"`
	Query     string             `json:"query"`
	Status    search.Status      `json:"status"`
	Evidence  int                `json:"evidence"`
	Quality   quality.Assessment `json:"quality"`
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(searchesURI, "Searches",
			mcplib.WithResourceDescription("Searches currently held in memory, most recent first"),
			mcplib.WithMIMEType(jsonMIME),
		),
		s.handleSearchesResource,
	)
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(searchTemplateURI, "Search",
			mcplib.WithTemplateDescription("Status, evidence count and quality assessment of one search"),
			mcplib.WithTemplateMIMEType(jsonMIME),
		),
		s.handleSearchResource,
	)
}

func (s *Server) handleSearchesResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Searches == nil {
		return jsonContents(req.Params.URI, map[string]string{"error": "search source not configured"})
	}
	return jsonContents(req.Params.URI, s.deps.Searches.List())
}

func (s *Server) handleSearchResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	id := strings.TrimPrefix(req.Params.URI, searchesURI+"/")
	if id == "" || id == req.Params.URI {
		return nil, fmt.Errorf("resource %q: missing search id", req.Params.URI)
	}
	if s.deps.Searches == nil {
		return nil, fmt.Errorf("search %s: source not configured", id)
	}
	srch, err := s.deps.Searches.Search(id)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", id, err)
	}
	return jsonContents(req.Params.URI, searchSnapshot{
		SearchID:  srch.ID,
		SessionID: srch.SessionID,
		Query:     srch.Query,
		Status:    srch.Status(),
		Evidence:  srch.Evidence.Len(),
		Quality:   srch.Gate.Assess(),
	})
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: uri, MIMEType: jsonMIME, Text: string(data)},
	}, nil
}

func toolResultJSON(text string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(text)
}
