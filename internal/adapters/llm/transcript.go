package llm

import (
	"strings"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
)

// DefaultTemperature keeps answers close to the evidence.
const DefaultTemperature float32 = 0.2

// turn is a backend-neutral chat message.
type turn struct {
	Role    entities.Role
	Content string
}

// priorTurns returns the history a backend sees. Error turns are a record for
// the user, not something the model said, so they are dropped.
func priorTurns(req ports.CompletionRequest) []turn {
	out := make([]turn, 0, len(req.Evidence.History))
	for _, h := range req.Evidence.History {
		if h.Kind == entities.TurnError || strings.TrimSpace(h.Content) == "" {
			continue
		}
		out = append(out, turn{Role: h.Role, Content: h.Content})
	}
	return out
}

// userPrompt is the final user message: the evidence block, then the question.
func userPrompt(req ports.CompletionRequest) string {
	var sb strings.Builder
	if ev := strings.TrimSpace(req.Evidence.Text); ev != "" {
		sb.WriteString(ev)
		sb.WriteString("\n\n")
	}
	sb.WriteString("USER QUESTION:\n")
	sb.WriteString(req.Message)
	return sb.String()
}
