// Package classify implements the deterministic DLP classification
// engine. A classifier input is the request body (or extracted
// attachment text) as a string; the output is the set of matched
// sensitive-data categories, a normalized 0-100 sensitivity score, and
// a risk band. Identical input bytes always produce identical results.
package classify

// Category groups related detection patterns
type Category string

const (
	CategoryPII         Category = "pii"
	CategoryFinancial   Category = "financial"
	CategorySourceCode  Category = "source_code"
	CategoryPHI         Category = "phi"
	CategoryTradeSecret Category = "trade_secret"
	CategoryInternalURL Category = "internal_url"

	// CategoryNone is reported when nothing matched.
	CategoryNone Category = "none"
)

// categoryOrder fixes the reporting order so results are byte-stable.
var categoryOrder = []Category{
	CategoryPII,
	CategoryFinancial,
	CategorySourceCode,
	CategoryPHI,
	CategoryTradeSecret,
	CategoryInternalURL,
}

// categoryWeights are the per-group scoring weights.
var categoryWeights = map[Category]int{
	CategoryPII:         4,
	CategoryFinancial:   4,
	CategorySourceCode:  2,
	CategoryPHI:         5,
	CategoryTradeSecret: 5,
	CategoryInternalURL: 3,
}

// groupScoreCap bounds each group's contribution to the raw score.
const groupScoreCap = 20

// rawScoreFullScale is the raw score that normalizes to 100.
const rawScoreFullScale = 40

// violationCategories are the groups that flip policy_violation_flag.
// Source code and internal URLs raise the score but are not violations
// on their own.
var violationCategories = map[Category]bool{
	CategoryPII:         true,
	CategoryPHI:         true,
	CategoryTradeSecret: true,
	CategoryFinancial:   true,
}

// Risk is the coarse risk band derived from the score and categories.
type Risk string

const (
	RiskCritical Risk = "critical"
	RiskHigh     Risk = "high"
	RiskModerate Risk = "moderate"
	RiskLow      Risk = "low"
)

// Result is the classification outcome for one piece of text.
type Result struct {
	// Categories is the ordered set of matched groups, or [none].
	Categories []Category `json:"categories_detected"`

	// Score is the normalized sensitivity score, 0-100.
	Score int `json:"sensitivity_score"`

	// RawScore is the unnormalized weighted sum (0-120). Policy uses it
	// as the sensitivity points term of the risk-exposure unit.
	RawScore int `json:"raw_score"`

	// Risk is the derived risk band.
	Risk Risk `json:"risk_category"`

	// PolicyViolation is true iff a violation category matched.
	PolicyViolation bool `json:"policy_violation_flag"`

	// Details lists the matched pattern names per group, for humans.
	Details []string `json:"details,omitempty"`

	// PatternCounts is how many distinct patterns matched per group.
	PatternCounts map[Category]int `json:"-"`

	// TokenEstimate is the canonical chars/4 estimate for the input.
	TokenEstimate int `json:"token_count_estimate"`
}

// Sensitive reports whether the request needs a policy decision.
func (r *Result) Sensitive() bool {
	return r.PolicyViolation
}

// HasCategory reports whether cat is among the matched categories.
func (r *Result) HasCategory(cat Category) bool {
	for _, c := range r.Categories {
		if c == cat {
			return true
		}
	}
	return false
}
