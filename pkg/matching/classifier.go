package matching

import (
	"context"
	"sort"
	"sync"

	"github.com/racegraph/platform/pkg/common/models"
)

// MatchType describes how a user was linked to a driver record.
type MatchType string

const (
	MatchTypeTransponder MatchType = "transponder"
	MatchTypeExact       MatchType = "exact"
	MatchTypeFuzzy       MatchType = "fuzzy"
)

// VerdictStatus is the initial trust level of a match.
type VerdictStatus string

const (
	// VerdictConfirmed is trusted immediately.
	VerdictConfirmed VerdictStatus = "confirmed"
	// VerdictSuggested needs user confirmation or corroboration.
	VerdictSuggested VerdictStatus = "suggested"
)

type Verdict struct {
	MatchType       MatchType     `json:"match_type"`
	SimilarityScore float64       `json:"similarity_score"`
	Status          VerdictStatus `json:"status"`
}

// MatchResult pairs a candidate driver with its verdict.
type MatchResult struct {
	Driver  models.DriverRecord `json:"driver"`
	Verdict Verdict             `json:"verdict"`
}

type Classifier struct {
	cfg Config
}

func NewClassifier(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.AutoConfirmMin <= 0 {
		cfg.AutoConfirmMin = def.AutoConfirmMin
	}
	if cfg.SuggestMin <= 0 {
		cfg.SuggestMin = def.SuggestMin
	}
	if cfg.MinEventsForAutoConfirm <= 0 {
		cfg.MinEventsForAutoConfirm = def.MinEventsForAutoConfirm
	}
	if cfg.MatcherID == "" {
		cfg.MatcherID = def.MatcherID
	}
	if cfg.MatcherVersion == "" {
		cfg.MatcherVersion = def.MatcherVersion
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Classifier{cfg: cfg}
}

func (c *Classifier) Config() Config {
	return c.cfg
}

// Classify decides whether the driver record could belong to the user.
// Decision order: transponder equality, exact normalized name, fuzzy name.
// The first applicable rule wins; transponder matches never fall through
// to a name comparison. Returns ok=false when no rule reaches the suggest
// threshold.
//
// Transponder matches start as suggested rather than confirmed: a shared
// transponder across events is only trusted once corroborated (see the
// auto-confirm promotion in the links service).
func (c *Classifier) Classify(user models.UserIdentity, driver models.DriverRecord, skipTransponder bool) (Verdict, bool) {
	if !skipTransponder &&
		user.TransponderNumber != "" &&
		driver.TransponderNumber != "" &&
		user.TransponderNumber == driver.TransponderNumber {
		return Verdict{
			MatchType:       MatchTypeTransponder,
			SimilarityScore: 1.0,
			Status:          VerdictSuggested,
		}, true
	}

	if user.NormalizedName != "" && user.NormalizedName == driver.NormalizedName {
		return Verdict{
			MatchType:       MatchTypeExact,
			SimilarityScore: 1.0,
			Status:          VerdictConfirmed,
		}, true
	}

	// An empty normalized name carries no identity signal; it must never
	// reach the scorer, where two empty strings would score 1.0.
	if user.NormalizedName == "" || driver.NormalizedName == "" {
		return Verdict{}, false
	}

	score := Similarity(user.NormalizedName, driver.NormalizedName)
	switch {
	case score >= c.cfg.AutoConfirmMin:
		return Verdict{MatchType: MatchTypeFuzzy, SimilarityScore: score, Status: VerdictConfirmed}, true
	case score >= c.cfg.SuggestMin:
		return Verdict{MatchType: MatchTypeFuzzy, SimilarityScore: score, Status: VerdictSuggested}, true
	}

	return Verdict{}, false
}

// FindMatches classifies every candidate against the user and returns the
// hits sorted by similarity descending, input order preserved among ties.
// Scoring is pure, so candidates are fanned out across a bounded worker
// pool with no ordering requirement; only the final sort is ordered.
func (c *Classifier) FindMatches(ctx context.Context, user models.UserIdentity, drivers []models.DriverRecord) []MatchResult {
	type slot struct {
		verdict Verdict
		ok      bool
	}
	slots := make([]slot, len(drivers))

	workers := c.cfg.Workers
	if workers > len(drivers) {
		workers = len(drivers)
	}

	var wg sync.WaitGroup
	indexes := make(chan int)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				verdict, ok := c.Classify(user, drivers[i], false)
				slots[i] = slot{verdict: verdict, ok: ok}
			}
		}()
	}

feed:
	for i := range drivers {
		select {
		case <-ctx.Done():
			break feed
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()

	results := make([]MatchResult, 0, len(drivers))
	for i, s := range slots {
		if !s.ok {
			continue
		}
		results = append(results, MatchResult{Driver: drivers[i], Verdict: s.verdict})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Verdict.SimilarityScore > results[j].Verdict.SimilarityScore
	})

	return results
}
