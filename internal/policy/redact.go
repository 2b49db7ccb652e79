package policy

import (
	"regexp"
	"strings"

	"github.com/complyze/complyze-proxy/internal/classify"
)

// Redaction tokens. Dashboards key on these exact strings.
const (
	TokenEmail      = "[REDACTED_EMAIL]"
	TokenSSN        = "[REDACTED_SSN]"
	TokenCreditCard = "[REDACTED_CREDIT_CARD]"
	TokenPhone      = "[REDACTED_PHONE]"
	TokenInternalIP = "[REDACTED_INTERNAL_IP]"
)

type redactionRule struct {
	token    string
	regex    *regexp.Regexp
	validate func(string) bool
}

// redactionRules run in fixed order: cards before SSNs and phones so a
// shorter digit pattern never splits a card number, addresses last.
var redactionRules = []redactionRule{
	{token: TokenCreditCard, regex: classify.CardRegex, validate: classify.LuhnValid},
	{token: TokenSSN, regex: classify.SSNRegex},
	{token: TokenEmail, regex: classify.EmailRegex},
	{token: TokenPhone, regex: classify.PhoneRegex},
	{token: TokenInternalIP, regex: classify.RFC1918Regex},
}

// RedactionResult reports what Redact rewrote.
type RedactionResult struct {
	Body    string
	Changed bool
	// Counts is how many spans each token replaced, keyed by token.
	Counts map[string]int
}

// Redact rewrites body, replacing each sensitive span with its
// redaction token. The output is deterministic: rules run in a fixed
// order and each pass replaces every remaining occurrence.
func Redact(body string) *RedactionResult {
	result := &RedactionResult{
		Body:   body,
		Counts: make(map[string]int),
	}

	for _, rule := range redactionRules {
		count := 0
		result.Body = rule.regex.ReplaceAllStringFunc(result.Body, func(match string) string {
			if rule.validate != nil && !rule.validate(match) {
				return match
			}
			count++
			return rule.token
		})
		if count > 0 {
			result.Counts[rule.token] = count
			result.Changed = true
		}
	}

	return result
}

// Tokens returns the redaction tokens present in body, for tests and
// log summaries.
func Tokens(body string) []string {
	all := []string{TokenCreditCard, TokenSSN, TokenEmail, TokenPhone, TokenInternalIP}
	var present []string
	for _, tok := range all {
		if strings.Contains(body, tok) {
			present = append(present, tok)
		}
	}
	return present
}
