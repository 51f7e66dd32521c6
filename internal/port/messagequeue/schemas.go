package messagequeue

// SearchStartPayload is the schema for searches.start messages.
type SearchStartPayload struct {
	SearchID       string `json:"search_id" validate:"required"`
	SessionID      string `json:"session_id" validate:"required"`
	ConversationID string `json:"conversation_id" validate:"required"`
	Query          string `json:"query" validate:"required"`
	FollowUp       bool   `json:"follow_up"`
}

// SearchCancelPayload is the schema for searches.cancel messages.
type SearchCancelPayload struct {
	SearchID string `json:"search_id" validate:"required"`
}

// SearchClosePayload is the schema for searches.close messages.
type SearchClosePayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

// SearchCompletePayload is the schema for searches.complete messages.
// Error is set when the loop failed; Cancelled when it stopped on request.
// CallIDs lists every tool call the worker made for the search.
type SearchCompletePayload struct {
	SearchID      string          `json:"search_id" validate:"required"`
	CallIDs       []string        `json:"call_ids,omitempty"`
	Answer        string          `json:"answer"`
	Sources       []SourcePayload `json:"sources"`
	ExecutionTime float64         `json:"execution_time"`
	Usage         map[string]any  `json:"usage"`
	Error         string          `json:"error,omitempty"`
	Cancelled     bool            `json:"cancelled,omitempty"`
}

// SourcePayload is one cited evidence record.
type SourcePayload struct {
	ID       string         `json:"id"`
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchToolPayload is the schema for searches.tool messages.
type SearchToolPayload struct {
	SearchID      string         `json:"search_id" validate:"required"`
	CallID        string         `json:"call_id" validate:"required"`
	Phase         string         `json:"phase" validate:"required,oneof=start end"`
	Tool          string         `json:"tool" validate:"required"`
	Args          map[string]any `json:"args,omitempty"`
	ResultSummary string         `json:"result_summary,omitempty"`
	Duration      float64        `json:"duration,omitempty" validate:"gte=0"` // seconds
	Error         string         `json:"error,omitempty"`
}
