package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
)

// GeminiAdapter implements ports.CompletionBackend using Google's Gemini API.
type GeminiAdapter struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiAdapter creates a Gemini completion backend.
func NewGeminiAdapter(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &GeminiAdapter{
		client: client,
		model:  model,
		logger: logger.Named("gemini"),
	}, nil
}

// buildContents renders history, evidence and the message as Gemini contents.
// Binary evidence is sent inline next to the textual reference in the prompt.
func buildContents(req ports.CompletionRequest) []*genai.Content {
	var contents []*genai.Content
	for _, t := range priorTurns(req) {
		role := genai.Role(genai.RoleUser)
		if t.Role == entities.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}

	parts := make([]*genai.Part, 0, len(req.Evidence.Attachments)+1)
	for _, att := range req.Evidence.Attachments {
		parts = append(parts, genai.NewPartFromBytes(att.Data, att.MimeType))
	}
	parts = append(parts, genai.NewPartFromText(userPrompt(req)))
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	return contents
}

func (a *GeminiAdapter) config(req ports.CompletionRequest) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.Instruction, genai.RoleUser),
		Temperature:       genai.Ptr(DefaultTemperature),
	}
}

// Generate returns the whole response text.
func (a *GeminiAdapter) Generate(ctx context.Context, req ports.CompletionRequest) (string, error) {
	resp, err := a.client.Models.GenerateContent(ctx, a.model, buildContents(req), a.config(req))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini generate: %w: no candidates", ports.ErrMalformedResponse)
	}
	return resp.Text(), nil
}

// GenerateStream forwards Gemini stream chunks as deltas.
func (a *GeminiAdapter) GenerateStream(ctx context.Context, req ports.CompletionRequest) (<-chan ports.StreamDelta, error) {
	contents := buildContents(req)
	cfg := a.config(req)

	ch := make(chan ports.StreamDelta, 16)
	go func() {
		defer close(ch)

		send := func(d ports.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		chunks := 0
		for resp, err := range a.client.Models.GenerateContentStream(ctx, a.model, contents, cfg) {
			if err != nil {
				send(ports.StreamDelta{Error: fmt.Errorf("gemini stream: %w", err)})
				return
			}
			chunks++
			if text := resp.Text(); text != "" {
				if !send(ports.StreamDelta{Content: text}) {
					return
				}
			}
		}
		a.logger.Debug("stream finished", zap.Int("chunks", chunks))
		send(ports.StreamDelta{Done: true})
	}()

	return ch, nil
}
