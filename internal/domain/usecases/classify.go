package usecases

import (
	"strings"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
)

// DefaultEscalationTriggers are scanned in this order; the first hit wins.
var DefaultEscalationTriggers = []string{
	"escalate",
	"approval required",
	"outside my scope",
	"requires approval",
}

// EscalationClassifier is a deterministic keyword tripwire over the response text.
// It is a heuristic: a response can commit to something risky without using any
// trigger phrase, so misses are expected and are not failures.
type EscalationClassifier struct {
	triggers []string
}

// NewEscalationClassifier creates a classifier. Empty triggers select the defaults.
func NewEscalationClassifier(triggers []string) *EscalationClassifier {
	if len(triggers) == 0 {
		triggers = DefaultEscalationTriggers
	}
	normalized := make([]string, 0, len(triggers))
	for _, t := range triggers {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			normalized = append(normalized, t)
		}
	}
	return &EscalationClassifier{triggers: normalized}
}

// Triggers returns the ordered trigger list.
func (c *EscalationClassifier) Triggers() []string {
	out := make([]string, len(c.triggers))
	copy(out, c.triggers)
	return out
}

// Classify scans the full response. It never fails.
func (c *EscalationClassifier) Classify(responseText, approverHint string) entities.EscalationVerdict {
	verdict := entities.EscalationVerdict{Approver: strings.TrimSpace(approverHint)}
	lower := strings.ToLower(responseText)
	for _, t := range c.triggers {
		if strings.Contains(lower, t) {
			verdict.Required = true
			verdict.Reason = t
			break
		}
	}
	return verdict
}
