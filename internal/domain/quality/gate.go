// Package quality computes a search's confidence score and phase from its evidence.
package quality

import (
	"math"
	"sync"

	"github.com/Strob0t/SearchForge/internal/domain/evidence"
)

// Factor weights. Each factor is clamped to its weight before summing.
const (
	WeightRelevance = 35
	WeightPeakMatch = 25
	WeightBreadth   = 10
	WeightDraft     = 15
	WeightCritique  = 15

	// CritiqueFailedPoints is awarded when the last critique did not pass.
	CritiqueFailedPoints = 5
	// PartialCredit is the fraction of a RELEVANT rating a PARTIAL rating counts for.
	PartialCredit = 0.3

	MaxConfidence = 100
)

// Default thresholds.
const (
	DefaultReadyThreshold = 60
	DefaultStallThreshold = 6
	// MinRelevantToAvoidStall is the RELEVANT count below which a long search log stalls.
	MinRelevantToAvoidStall = 2
)

// Phase describes how close a search is to producing a final answer.
type Phase string

const (
	PhaseContinue Phase = "continue"
	PhaseReady    Phase = "ready"
	PhaseStalled  Phase = "stalled"
	PhaseFinalize Phase = "finalize"
)

var guidance = map[Phase]string{
	PhaseContinue: "Keep searching: gather and rate more evidence before drafting",
	PhaseReady:    "Evidence is sufficient: write a draft answer and request a critique",
	PhaseStalled:  "Evidence insufficient after multiple searches: broaden or reformulate the query",
	PhaseFinalize: "Draft passed critique: finalize the answer with citations",
}

// Thresholds configures phase boundaries. Zero values fall back to the defaults.
type Thresholds struct {
	Ready int `json:"ready"`
	Stall int `json:"stall"`
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Ready <= 0 {
		t.Ready = DefaultReadyThreshold
	}
	if t.Stall <= 0 {
		t.Stall = DefaultStallThreshold
	}
	return t
}

// Critique is the outcome of the last draft review.
type Critique struct {
	Passed  bool   `json:"passed"`
	Verdict string `json:"verdict"`
}

// Factors is the per-factor breakdown of a confidence score.
type Factors struct {
	Relevance float64 `json:"relevance"`
	PeakMatch float64 `json:"peak_match"`
	Breadth   float64 `json:"breadth"`
	Draft     float64 `json:"draft"`
	Critique  float64 `json:"critique"`
}

// Assessment is a single consistent evaluation of the gate.
type Assessment struct {
	Confidence int     `json:"confidence"`
	Phase      Phase   `json:"phase"`
	Guidance   string  `json:"guidance"`
	Factors    Factors `json:"factors"`
}

// Gate derives confidence and phase from an evidence store plus the recorded
// draft and critique outcomes. Identical state always yields identical output.
type Gate struct {
	store      *evidence.Store
	thresholds Thresholds

	mu           sync.RWMutex
	draftLength  int
	lastCritique *Critique
}

// NewGate creates a gate over store with the default thresholds.
func NewGate(store *evidence.Store) *Gate {
	return NewGateWithThresholds(store, Thresholds{})
}

// NewGateWithThresholds creates a gate over store with custom thresholds.
func NewGateWithThresholds(store *evidence.Store, t Thresholds) *Gate {
	return &Gate{store: store, thresholds: t.withDefaults()}
}

// Store returns the evidence store the gate reads from.
func (g *Gate) Store() *evidence.Store {
	return g.store
}

// RecordDraft records that a draft of the given length exists.
func (g *Gate) RecordDraft(length int) {
	g.mu.Lock()
	g.draftLength = length
	g.mu.Unlock()
}

// RecordCritique records the outcome of the latest critique.
func (g *Gate) RecordCritique(passed bool, verdict string) {
	g.mu.Lock()
	g.lastCritique = &Critique{Passed: passed, Verdict: verdict}
	g.mu.Unlock()
}

// HasDraft reports whether a non-empty draft has been recorded.
func (g *Gate) HasDraft() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.draftLength > 0
}

// DraftLength returns the length of the recorded draft.
func (g *Gate) DraftLength() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.draftLength
}

// LastCritique returns the last recorded critique.
func (g *Gate) LastCritique() (Critique, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.lastCritique == nil {
		return Critique{}, false
	}
	return *g.lastCritique, true
}

// Confidence returns the 0..100 confidence score.
func (g *Gate) Confidence() int {
	return g.Assess().Confidence
}

// Phase returns the current phase.
func (g *Gate) Phase() Phase {
	return g.Assess().Phase
}

// Guidance returns the advisory next-step string for the current phase.
func (g *Gate) Guidance() string {
	return g.Assess().Guidance
}

// Assess evaluates confidence, phase and guidance from one read of the state.
func (g *Gate) Assess() Assessment {
	in := g.inputs()
	f := computeFactors(in)
	conf := confidence(f)
	phase := phaseFor(conf, in, g.thresholds)
	return Assessment{
		Confidence: conf,
		Phase:      phase,
		Guidance:   guidance[phase],
		Factors:    f,
	}
}

// GuidanceFor returns the advisory string for p.
func GuidanceFor(p Phase) string {
	return guidance[p]
}

type inputs struct {
	relevant    int
	partial     int
	rated       int
	maxScore    float64
	distinct    int
	searchCount int
	hasDraft    bool
	critique    *Critique
}

func (g *Gate) inputs() inputs {
	counts := g.store.RatingCounts()
	in := inputs{
		relevant:    counts[evidence.RatingRelevant],
		partial:     counts[evidence.RatingPartial],
		maxScore:    g.store.MaxScore(),
		distinct:    g.store.DistinctSearches(),
		searchCount: g.store.SearchCount(),
	}
	for _, n := range counts {
		in.rated += n
	}

	g.mu.RLock()
	in.hasDraft = g.draftLength > 0
	if g.lastCritique != nil {
		c := *g.lastCritique
		in.critique = &c
	}
	g.mu.RUnlock()
	return in
}

func computeFactors(in inputs) Factors {
	var f Factors
	if in.rated > 0 {
		weighted := float64(in.relevant) + PartialCredit*float64(in.partial)
		f.Relevance = clamp(WeightRelevance*weighted/float64(in.rated), WeightRelevance)
	}
	f.PeakMatch = clamp(WeightPeakMatch*in.maxScore, WeightPeakMatch)
	f.Breadth = clamp(float64(in.distinct), WeightBreadth)
	if in.hasDraft {
		f.Draft = WeightDraft
	}
	if in.critique != nil {
		if in.critique.Passed {
			f.Critique = WeightCritique
		} else {
			f.Critique = CritiqueFailedPoints
		}
	}
	return f
}

func confidence(f Factors) int {
	total := f.Relevance + f.PeakMatch + f.Breadth + f.Draft + f.Critique
	// Round away representation noise (e.g. 28.999999) before truncating.
	total = math.Floor(math.Round(total*1e9) / 1e9)
	return int(clamp(total, MaxConfidence))
}

func phaseFor(conf int, in inputs, t Thresholds) Phase {
	if in.searchCount >= t.Stall && in.relevant < MinRelevantToAvoidStall {
		return PhaseStalled
	}
	if conf >= t.Ready {
		if in.hasDraft && in.critique != nil && in.critique.Passed {
			return PhaseFinalize
		}
		return PhaseReady
	}
	return PhaseContinue
}

func clamp(v, limit float64) float64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
