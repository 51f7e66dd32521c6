// Package evidence defines retrieved evidence records, the search log,
// relevance ratings, and the per-search Store that owns them.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Record is a single retrieved item. Identity is ID.
type Record struct {
	ID       string         `json:"id"`
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchEntry is one invocation of the retrieval backend.
type SearchEntry struct {
	Type       string         `json:"type"`
	Query      string         `json:"query"`
	NumResults int            `json:"num_results"`
	Filters    map[string]any `json:"filters,omitempty"`
}

// Rating classifies how relevant a hit is to the user's question.
// Lower tiers rank better.
type Rating int

const (
	RatingRelevant Rating = iota
	RatingPartial
	RatingOffTopic
	RatingUnknown
)

var ratingNames = map[Rating]string{
	RatingRelevant: "RELEVANT",
	RatingPartial:  "PARTIAL",
	RatingOffTopic: "OFF_TOPIC",
	RatingUnknown:  "UNKNOWN",
}

func (r Rating) String() string {
	if s, ok := ratingNames[r]; ok {
		return s
	}
	return "UNKNOWN"
}

// MarshalText encodes the rating by name.
func (r Rating) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a rating name; unrecognised names become RatingUnknown.
func (r *Rating) UnmarshalText(b []byte) error {
	*r = ParseRating(string(b))
	return nil
}

// ParseRating maps a case-insensitive rating name to a Rating.
func ParseRating(s string) Rating {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RELEVANT":
		return RatingRelevant
	case "PARTIAL":
		return RatingPartial
	case "OFF_TOPIC", "OFFTOPIC", "OFF-TOPIC":
		return RatingOffTopic
	default:
		return RatingUnknown
	}
}

// RatingEntry is the latest rating recorded for a hit.
type RatingEntry struct {
	HitID      string `json:"hit_id"`
	Rating     Rating `json:"rating"`
	Confidence int    `json:"confidence"`
}

// canonicalID trims id, or derives a stable id from the record content.
func canonicalID(rec *Record) string {
	if id := strings.TrimSpace(rec.ID); id != "" {
		return id
	}
	sum := sha256.Sum256([]byte(rec.Question + "\x00" + rec.Answer))
	return "hit_" + hex.EncodeToString(sum[:6])
}
