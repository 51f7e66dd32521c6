package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/SearchForge/internal/domain/evidence"
	"github.com/Strob0t/SearchForge/internal/domain/search"
)

const defaultTopEvidence = 5

var errMissingArg = errors.New("missing required argument")

// toolFunc is a tool body run against a resolved search.
type toolFunc func(ctx context.Context, s *search.Search, args map[string]any) (any, error)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.tool(mcplib.NewTool("register_hit",
			mcplib.WithDescription("Register a retrieved hit. A known id keeps the higher-scoring record. Returns the canonical id."),
			searchIDArg(),
			mcplib.WithString("id", mcplib.Description("Hit id; derived from question and answer when empty")),
			mcplib.WithString("question", mcplib.Required(), mcplib.Description("Question or title of the hit")),
			mcplib.WithString("answer", mcplib.Required(), mcplib.Description("Answer or body of the hit")),
			mcplib.WithNumber("score", mcplib.Required(), mcplib.Description("Retrieval score")),
			mcplib.WithObject("metadata", mcplib.Description("Arbitrary metadata")),
		), registerHit),
		s.tool(mcplib.NewTool("log_search",
			mcplib.WithDescription("Record one retrieval call. Repeated identical searches are kept."),
			searchIDArg(),
			mcplib.WithString("query", mcplib.Required(), mcplib.Description("Query sent to the retrieval backend")),
			mcplib.WithNumber("num_results", mcplib.Description("Number of results returned")),
			mcplib.WithString("type", mcplib.Description("Search type, e.g. semantic or keyword")),
			mcplib.WithObject("filters", mcplib.Description("Filters applied")),
		), logSearch),
		s.tool(mcplib.NewTool("rate_hit",
			mcplib.WithDescription("Rate how relevant a hit is. Later ratings overwrite earlier ones."),
			searchIDArg(),
			mcplib.WithString("hit_id", mcplib.Required(), mcplib.Description("Id returned by register_hit")),
			mcplib.WithString("rating", mcplib.Required(), mcplib.Enum("RELEVANT", "PARTIAL", "OFF_TOPIC", "UNKNOWN")),
			mcplib.WithNumber("confidence", mcplib.Description("Rater confidence, 0-100")),
		), rateHit),
		s.tool(mcplib.NewTool("record_draft",
			mcplib.WithDescription("Record that an answer draft exists. Returns the updated quality assessment."),
			searchIDArg(),
			mcplib.WithString("draft", mcplib.Description("Draft text; its length is recorded")),
			mcplib.WithNumber("length", mcplib.Description("Draft length when the text is not sent")),
		), recordDraft),
		s.tool(mcplib.NewTool("record_critique",
			mcplib.WithDescription("Record the critique outcome of the current draft. Returns the updated quality assessment."),
			searchIDArg(),
			mcplib.WithBoolean("passed", mcplib.Required(), mcplib.Description("Whether the draft passed critique")),
			mcplib.WithString("verdict", mcplib.Description("Critique verdict")),
		), recordCritique),
		s.tool(mcplib.NewTool("quality_status",
			mcplib.WithDescription("Current confidence, phase and guidance of the search."),
			searchIDArg(),
		), qualityStatus),
		s.tool(mcplib.NewTool("top_evidence",
			mcplib.WithDescription("Best rated evidence so far: RELEVANT, then PARTIAL, then OFF_TOPIC, then UNKNOWN, ties broken by higher rating confidence. Unrated hits are not returned."),
			searchIDArg(),
			mcplib.WithNumber("n", mcplib.Description("Maximum number of records (default 5)")),
		), topEvidence),
	)
}

func searchIDArg() mcplib.ToolOption {
	return mcplib.WithString("search_id", mcplib.Required(), mcplib.Description("Search the tool acts on"))
}

// tool binds fn to t. Every invocation runs through the search's tracker so
// it emits tool_start and tool_end on the search's event bus.
func (s *Server) tool(t mcplib.Tool, fn toolFunc) mcpserver.ServerTool { //nolint:gocritic // hugeParam: mcp-go tool value
	name := t.Name
	return mcpserver.ServerTool{
		Tool: t,
		Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
			if s.deps.Searches == nil {
				return mcplib.NewToolResultError("search source not configured"), nil
			}
			args := req.GetArguments()
			searchID, _ := args["search_id"].(string)
			if searchID == "" {
				return mcplib.NewToolResultError("search_id is required"), nil
			}
			srch, err := s.deps.Searches.Search(searchID)
			if err != nil {
				return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("search %s", searchID), err), nil
			}
			if srch.Bus.IsDone() {
				return mcplib.NewToolResultError(fmt.Sprintf("search %s already finished", searchID)), nil
			}

			toolArgs := make(map[string]any, len(args))
			for k, v := range args {
				if k != "search_id" {
					toolArgs[k] = v
				}
			}
			res, err := srch.Tracker.Track(ctx, name, toolArgs, func(ctx context.Context) (any, error) {
				return fn(ctx, srch, toolArgs)
			})
			if err != nil {
				return mcplib.NewToolResultErrorFromErr(name+" failed", err), nil
			}
			data, err := json.Marshal(res)
			if err != nil {
				return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
			}
			return toolResultJSON(string(data)), nil
		},
	}
}

func registerHit(_ context.Context, s *search.Search, args map[string]any) (any, error) {
	question, err := requireString(args, "question")
	if err != nil {
		return nil, err
	}
	answer, err := requireString(args, "answer")
	if err != nil {
		return nil, err
	}
	score, ok := args["score"].(float64)
	if !ok {
		return nil, fmt.Errorf("score: %w", errMissingArg)
	}
	id, _ := args["id"].(string)
	meta, _ := args["metadata"].(map[string]any)
	canonical := s.Evidence.Register(evidence.Record{
		ID:       id,
		Question: question,
		Answer:   answer,
		Score:    score,
		Metadata: meta,
	})
	return map[string]any{"id": canonical}, nil
}

func logSearch(_ context.Context, s *search.Search, args map[string]any) (any, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	num, _ := args["num_results"].(float64)
	typ, _ := args["type"].(string)
	if typ == "" {
		typ = "semantic"
	}
	filters, _ := args["filters"].(map[string]any)
	s.Evidence.LogSearch(query, int(num), filters, typ)
	return map[string]any{"search_count": s.Evidence.SearchCount()}, nil
}

func rateHit(_ context.Context, s *search.Search, args map[string]any) (any, error) {
	hitID, err := requireString(args, "hit_id")
	if err != nil {
		return nil, err
	}
	raw, err := requireString(args, "rating")
	if err != nil {
		return nil, err
	}
	conf, _ := args["confidence"].(float64)
	rating := evidence.ParseRating(raw)
	s.Evidence.SetRating(hitID, rating, int(conf))
	return map[string]any{"hit_id": strings.TrimSpace(hitID), "rating": rating.String()}, nil
}

func recordDraft(_ context.Context, s *search.Search, args map[string]any) (any, error) {
	length := 0
	if draft, ok := args["draft"].(string); ok && draft != "" {
		length = utf8.RuneCountInString(draft)
	} else if n, ok := args["length"].(float64); ok {
		length = int(n)
	}
	s.Gate.RecordDraft(length)
	return s.Gate.Assess(), nil
}

func recordCritique(_ context.Context, s *search.Search, args map[string]any) (any, error) {
	passed, ok := args["passed"].(bool)
	if !ok {
		return nil, fmt.Errorf("passed: %w", errMissingArg)
	}
	verdict, _ := args["verdict"].(string)
	s.Gate.RecordCritique(passed, verdict)
	return s.Gate.Assess(), nil
}

func qualityStatus(_ context.Context, s *search.Search, _ map[string]any) (any, error) {
	return s.Gate.Assess(), nil
}

func topEvidence(_ context.Context, s *search.Search, args map[string]any) (any, error) {
	n := defaultTopEvidence
	if v, ok := args["n"].(float64); ok && v > 0 {
		n = int(v)
	}
	return s.Evidence.TopRated(n), nil
}

func requireString(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s: %w", key, errMissingArg)
	}
	return v, nil
}
