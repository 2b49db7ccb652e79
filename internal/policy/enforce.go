package policy

import (
	"github.com/complyze/complyze-proxy/internal/classify"
	"github.com/complyze/complyze-proxy/internal/config"
)

// Action is the enforcement action applied to one request. Empty means
// the request was not sensitive and nothing was applied.
type Action string

const (
	ActionMonitor Action = "monitor"
	ActionWarn    Action = "warn"
	ActionRedact  Action = "redact"
	ActionBlock   Action = "block"
)

// Decision is the outcome of evaluating one inspected request.
type Decision struct {
	// Action is set only when the request was sensitive.
	Action Action

	// Forward says whether the request goes upstream at all.
	Forward bool

	// Body is the bytes to forward. Identical to the input unless the
	// redactor rewrote it.
	Body []byte

	// Blocked is true only for an applied block (sensitive + critical).
	Blocked bool

	// Response is the synthesized client response when Forward is
	// false.
	Response *Response

	// Redaction carries rewrite details when the redactor ran.
	Redaction *RedactionResult
}

// Evaluate resolves the enforcement action for a classified request.
// mode must already be resolved through the canonical-then-legacy
// chain; result must be non-nil.
func Evaluate(mode config.EnforcementMode, result *classify.Result, body []byte) *Decision {
	decision := &Decision{
		Forward: true,
		Body:    body,
	}

	if !result.Sensitive() {
		return decision
	}

	switch mode {
	case config.ModeWarn:
		decision.Action = ActionWarn
		decision.Forward = false
		decision.Body = nil
		decision.Response = warnResponse(result)

	case config.ModeRedact:
		decision.Action = ActionRedact
		redaction := Redact(string(body))
		decision.Redaction = redaction
		if redaction.Changed {
			decision.Body = []byte(redaction.Body)
		}

	case config.ModeBlock:
		if result.Risk == classify.RiskCritical {
			decision.Action = ActionBlock
			decision.Forward = false
			decision.Body = nil
			decision.Blocked = true
			decision.Response = blockResponse(result)
			break
		}
		// Only critical risk blocks; sensitive but non-critical
		// traffic is observed, not stopped.
		decision.Action = ActionMonitor

	default:
		// monitor, and anything unrecognized that slipped through
		// settings resolution.
		decision.Action = ActionMonitor
	}

	return decision
}
