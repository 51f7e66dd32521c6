package evidence

import (
	"maps"
	"sort"
	"strings"
	"sync"
)

// Store owns the evidence of one search: registered hits, the search log and ratings.
// All methods are safe for concurrent use. Absent ids are a normal state and never error.
type Store struct {
	mu       sync.RWMutex
	records  map[string]Record
	order    []string // registration order of first sighting
	searches []SearchEntry
	ratings  map[string]RatingEntry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]Record),
		ratings: make(map[string]RatingEntry),
	}
}

// Register inserts rec, or replaces the stored record when rec scores higher.
// Lower or equal scores are ignored. Returns the canonical id.
func (s *Store) Register(rec Record) string {
	id := canonicalID(&rec)
	rec.ID = id
	if rec.Metadata != nil {
		rec.Metadata = maps.Clone(rec.Metadata)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerLocked(rec)
	return id
}

func (s *Store) registerLocked(rec Record) {
	cur, ok := s.records[rec.ID]
	if !ok {
		s.records[rec.ID] = rec
		s.order = append(s.order, rec.ID)
		return
	}
	if rec.Score > cur.Score {
		s.records[rec.ID] = rec
	}
}

// LogSearch appends a search invocation. Repeated identical searches are kept.
func (s *Store) LogSearch(query string, numResults int, filters map[string]any, searchType string) {
	entry := SearchEntry{
		Type:       searchType,
		Query:      query,
		NumResults: numResults,
	}
	if filters != nil {
		entry.Filters = maps.Clone(filters)
	}

	s.mu.Lock()
	s.searches = append(s.searches, entry)
	s.mu.Unlock()
}

// SetRating records the rating for id, overwriting any earlier one.
func (s *Store) SetRating(id string, rating Rating, confidence int) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	s.ratings[id] = RatingEntry{HitID: id, Rating: rating, Confidence: confidence}
	s.mu.Unlock()
}

// Rating returns the latest rating for id.
func (s *Store) Rating(id string) (RatingEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ratings[strings.TrimSpace(id)]
	return r, ok
}

// RatingCounts returns the number of ratings per tier.
func (s *Store) RatingCounts() map[Rating]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Rating]int, len(ratingNames))
	for _, r := range s.ratings {
		counts[r.Rating]++
	}
	return counts
}

// Get returns the stored record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[strings.TrimSpace(id)]
	return rec, ok
}

// Evidence returns the records for ids in the given order, skipping unknown ids.
func (s *Store) Evidence(ids []string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[strings.TrimSpace(id)]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// TopRated returns up to n rated records, best first: by rating tier, then by
// descending rating confidence, then by registration order. n <= 0 means all.
func (s *Store) TopRated(n int) []Record {
	s.mu.RLock()
	type ranked struct {
		rec    Record
		rating RatingEntry
	}
	candidates := make([]ranked, 0, len(s.ratings))
	for _, id := range s.order {
		r, ok := s.ratings[id]
		if !ok {
			continue
		}
		candidates = append(candidates, ranked{rec: s.records[id], rating: r})
	}
	s.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].rating, candidates[j].rating
		if a.Rating != b.Rating {
			return a.Rating < b.Rating
		}
		return a.Confidence > b.Confidence
	})

	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}
	out := make([]Record, n)
	for i := range n {
		out[i] = candidates[i].rec
	}
	return out
}

// Searches returns a copy of the search log in insertion order.
func (s *Store) Searches() []SearchEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SearchEntry(nil), s.searches...)
}

// SearchCount returns the length of the search log.
func (s *Store) SearchCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.searches)
}

// DistinctSearches counts searches with a distinct type and normalized query.
func (s *Store) DistinctSearches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.searches))
	for _, e := range s.searches {
		key := e.Type + "\x00" + strings.ToLower(strings.Join(strings.Fields(e.Query), " "))
		seen[key] = struct{}{}
	}
	return len(seen)
}

// MaxScore returns the highest raw score across all registered records.
func (s *Store) MaxScore() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best := 0.0
	for _, rec := range s.records {
		if rec.Score > best {
			best = rec.Score
		}
	}
	return best
}

// Len returns the number of distinct registered records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Merge folds a child store into s. Registrations follow the higher-score rule,
// ratings only fill gaps, and the child's search log is appended.
func (s *Store) Merge(other *Store) {
	if other == nil || other == s {
		return
	}

	// Snapshot the child first so the two locks are never held together.
	other.mu.RLock()
	records := make([]Record, 0, len(other.order))
	for _, id := range other.order {
		records = append(records, other.records[id])
	}
	ratings := make([]RatingEntry, 0, len(other.ratings))
	for _, id := range other.order {
		if r, ok := other.ratings[id]; ok {
			ratings = append(ratings, r)
		}
	}
	for id, r := range other.ratings {
		if _, registered := other.records[id]; !registered {
			ratings = append(ratings, r)
		}
	}
	searches := append([]SearchEntry(nil), other.searches...)
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.registerLocked(rec)
	}
	for _, r := range ratings {
		if _, ok := s.ratings[r.HitID]; !ok {
			s.ratings[r.HitID] = r
		}
	}
	s.searches = append(s.searches, searches...)
}

// Snapshot is a point-in-time copy of a Store for serialization.
type Snapshot struct {
	Records  []Record       `json:"records"`
	Searches []SearchEntry  `json:"searches"`
	Ratings  []RatingEntry  `json:"ratings"`
	Counts   map[string]int `json:"rating_counts"`
}

// Snapshot copies the store contents in registration order.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Records:  make([]Record, 0, len(s.order)),
		Searches: append([]SearchEntry{}, s.searches...),
		Ratings:  make([]RatingEntry, 0, len(s.ratings)),
		Counts:   make(map[string]int, len(ratingNames)),
	}
	for _, id := range s.order {
		snap.Records = append(snap.Records, s.records[id])
		if r, ok := s.ratings[id]; ok {
			snap.Ratings = append(snap.Ratings, r)
		}
	}
	for _, r := range s.ratings {
		snap.Counts[r.Rating.String()]++
	}
	return snap
}
