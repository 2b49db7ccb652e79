package classify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/tokens"
)

// Classifier scans text against the builtin rule table. It is
// stateless after construction and safe for concurrent use; every
// request takes one pass over the table.
type Classifier struct {
	patterns []Pattern
	logger   *zap.SugaredLogger
}

// New creates a Classifier with the builtin patterns.
func New(logger *zap.SugaredLogger) *Classifier {
	return &Classifier{
		patterns: builtinPatterns(),
		logger:   logger,
	}
}

// Classify scans text and returns the classification result. The
// context carries the inspection deadline: the scan checks it between
// rules and aborts with ctx.Err() when exceeded, leaving the fail-open
// or fail-closed decision to the caller.
func (c *Classifier) Classify(ctx context.Context, text string) (*Result, error) {
	result := &Result{
		PatternCounts: make(map[Category]int),
		TokenEstimate: tokens.Estimate(text),
	}

	if text == "" {
		result.Categories = []Category{CategoryNone}
		result.Risk = RiskLow
		return result, nil
	}

	matchedNames := make(map[Category][]string)
	for i := range c.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := &c.patterns[i]
		if p.Matches(text) {
			result.PatternCounts[p.Category]++
			matchedNames[p.Category] = append(matchedNames[p.Category], p.Name)
		}
	}

	for _, cat := range categoryOrder {
		count := result.PatternCounts[cat]
		if count == 0 {
			continue
		}
		result.Categories = append(result.Categories, cat)
		result.RawScore += groupScore(cat, count)
		result.Details = append(result.Details,
			fmt.Sprintf("%s: %s", cat, strings.Join(matchedNames[cat], ", ")))
		if violationCategories[cat] {
			result.PolicyViolation = true
		}
	}

	if len(result.Categories) == 0 {
		result.Categories = []Category{CategoryNone}
		result.Risk = RiskLow
		return result, nil
	}

	result.Score = normalizeScore(result.RawScore)
	result.Risk = deriveRisk(result)
	return result, nil
}

// groupScore is min(count*weight, cap) for one category group.
func groupScore(cat Category, count int) int {
	score := count * categoryWeights[cat]
	if score > groupScoreCap {
		return groupScoreCap
	}
	return score
}

// normalizeScore maps the raw weighted sum onto 0-100.
func normalizeScore(raw int) int {
	normalized := int(math.Round(float64(raw) / rawScoreFullScale * 100))
	if normalized > 100 {
		return 100
	}
	return normalized
}

// deriveRisk applies the risk band rules: PHI or stacked PII force
// critical regardless of score.
func deriveRisk(r *Result) Risk {
	switch {
	case r.Score >= 75:
		return RiskCritical
	case r.PatternCounts[CategoryPHI] > 0:
		return RiskCritical
	case r.PatternCounts[CategoryPII] > 1:
		return RiskCritical
	case r.Score >= 50:
		return RiskHigh
	case r.Score >= 25:
		return RiskModerate
	default:
		return RiskLow
	}
}

// Merge combines per-attachment results into one request-level result:
// categories union, pattern counts take the per-file maximum, and the
// scores take the most sensitive file's values.
func Merge(results ...*Result) *Result {
	merged := &Result{
		PatternCounts: make(map[Category]int),
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		for cat, count := range r.PatternCounts {
			if count > merged.PatternCounts[cat] {
				merged.PatternCounts[cat] = count
			}
		}
		if r.RawScore > merged.RawScore {
			merged.RawScore = r.RawScore
			merged.Score = r.Score
		}
		if r.PolicyViolation {
			merged.PolicyViolation = true
		}
		merged.Details = append(merged.Details, r.Details...)
		if r.TokenEstimate > merged.TokenEstimate {
			merged.TokenEstimate = r.TokenEstimate
		}
	}

	for _, cat := range categoryOrder {
		if merged.PatternCounts[cat] > 0 {
			merged.Categories = append(merged.Categories, cat)
		}
	}
	if len(merged.Categories) == 0 {
		merged.Categories = []Category{CategoryNone}
		merged.Risk = RiskLow
		return merged
	}

	merged.Risk = deriveRisk(merged)
	return merged
}
