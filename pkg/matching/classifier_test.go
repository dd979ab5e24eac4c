package matching

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/racegraph/platform/pkg/common/models"
)

func testUser(normalized, transponder string) models.UserIdentity {
	return models.UserIdentity{
		UserID:            uuid.New(),
		DriverNameRaw:     normalized,
		NormalizedName:    normalized,
		TransponderNumber: transponder,
	}
}

func testDriver(normalized, transponder string) models.DriverRecord {
	return models.DriverRecord{
		ID:                uuid.New(),
		DisplayName:       normalized,
		NormalizedName:    normalized,
		TransponderNumber: transponder,
	}
}

func TestClassifyTransponderShortCircuits(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	verdict, ok := c.Classify(testUser("john smith", "7781"), testDriver("completely different", "7781"), false)
	if !ok {
		t.Fatal("expected a match")
	}
	if verdict.MatchType != MatchTypeTransponder {
		t.Fatalf("expected transponder match, got %s", verdict.MatchType)
	}
	if verdict.SimilarityScore != 1.0 {
		t.Fatalf("expected score 1.0, got %v", verdict.SimilarityScore)
	}
	if verdict.Status != VerdictSuggested {
		t.Fatalf("transponder matches start suggested, got %s", verdict.Status)
	}
}

func TestClassifySkipTransponder(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	_, ok := c.Classify(testUser("john smith", "7781"), testDriver("completely different", "7781"), true)
	if ok {
		t.Fatal("expected no match with transponder check skipped and dissimilar names")
	}
}

func TestClassifyExactBeatsFuzzyRegardlessOfTransponders(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	// Both sides carry transponders, but different ones: presence alone
	// must not stop the exact-name rule.
	verdict, ok := c.Classify(testUser("john smith", "1111"), testDriver("john smith", "2222"), false)
	if !ok {
		t.Fatal("expected a match")
	}
	if verdict.MatchType != MatchTypeExact || verdict.SimilarityScore != 1.0 || verdict.Status != VerdictConfirmed {
		t.Fatalf("expected exact/1.0/confirmed, got %+v", verdict)
	}
}

func TestClassifyEmptyNamesNeverMatch(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	// Two empty names must not reach the scorer, where they would score
	// 1.0 and auto-confirm.
	if verdict, ok := c.Classify(testUser("", ""), testDriver("", ""), false); ok {
		t.Fatalf("two empty normalized names must not match, got %+v", verdict)
	}
	if _, ok := c.Classify(testUser("", ""), testDriver("john smith", ""), false); ok {
		t.Fatal("empty user name must not match")
	}
	if _, ok := c.Classify(testUser("john smith", ""), testDriver("", ""), false); ok {
		t.Fatal("empty driver name must not match")
	}
}

func TestClassifyFuzzyThresholds(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	cases := []struct {
		name     string
		user     string
		driver   string
		match    bool
		expected VerdictStatus
	}{
		{"above auto-confirm", "jon smith", "john smith", true, VerdictConfirmed},
		{"between thresholds", "michael", "michelle", true, VerdictSuggested},
		{"below suggest", "dwayne", "duane", false, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict, ok := c.Classify(testUser(tc.user, ""), testDriver(tc.driver, ""), false)
			if ok != tc.match {
				t.Fatalf("match = %v, want %v", ok, tc.match)
			}
			if !tc.match {
				return
			}
			if verdict.MatchType != MatchTypeFuzzy {
				t.Fatalf("expected fuzzy match, got %s", verdict.MatchType)
			}
			if verdict.Status != tc.expected {
				t.Fatalf("status = %s, want %s", verdict.Status, tc.expected)
			}
		})
	}
}

func TestClassifyThresholdsInclusive(t *testing.T) {
	// A score exactly on a threshold lands on the stronger side.
	cfg := DefaultConfig()
	cfg.AutoConfirmMin = Similarity("michael", "michelle")
	c := NewClassifier(cfg)

	verdict, ok := c.Classify(testUser("michael", ""), testDriver("michelle", ""), false)
	if !ok || verdict.Status != VerdictConfirmed {
		t.Fatalf("score at auto_confirm_min should confirm, got ok=%v verdict=%+v", ok, verdict)
	}

	cfg = DefaultConfig()
	cfg.SuggestMin = Similarity("dwayne", "duane")
	c = NewClassifier(cfg)

	verdict, ok = c.Classify(testUser("dwayne", ""), testDriver("duane", ""), false)
	if !ok || verdict.Status != VerdictSuggested {
		t.Fatalf("score at suggest_min should suggest, got ok=%v verdict=%+v", ok, verdict)
	}
}

func TestFindMatchesSortsAndFilters(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	user := testUser("jon smith", "")

	exactA := testDriver("jon smith", "")
	exactB := testDriver("jon smith", "")
	fuzzy := testDriver("john smith", "")
	miss := testDriver("aleksandr volkov", "")

	results := c.FindMatches(context.Background(), user, []models.DriverRecord{miss, fuzzy, exactA, exactB})

	if len(results) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(results))
	}
	if results[0].Driver.ID != exactA.ID || results[1].Driver.ID != exactB.ID {
		t.Fatal("equal scores must keep input order")
	}
	if results[2].Driver.ID != fuzzy.ID {
		t.Fatal("fuzzy match should sort below the exact matches")
	}
	for i := 1; i < len(results); i++ {
		if results[i].Verdict.SimilarityScore > results[i-1].Verdict.SimilarityScore {
			t.Fatal("results not sorted by score descending")
		}
	}
}

func TestFindMatchesEmptyCandidates(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	results := c.FindMatches(context.Background(), testUser("jon smith", ""), nil)
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}
