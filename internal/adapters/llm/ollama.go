// Package llm provides the completion backends.
// Clean Architecture: Adapters implementing ports.CompletionBackend.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
)

// OllamaLLMAdapter implements ports.CompletionBackend using the Ollama chat API.
type OllamaLLMAdapter struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

// NewOllamaLLMAdapter creates a new Ollama LLM adapter.
func NewOllamaLLMAdapter(baseURL, model string, logger *zap.Logger) *OllamaLLMAdapter {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaLLMAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		// No client timeout: the turn deadline on the request context bounds
		// the call, streamed body included.
		client: &http.Client{},
		logger: logger.Named("ollama"),
	}
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatRequest is the Ollama chat API request.
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

// ollamaChatResponse is one Ollama chat API response object.
type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func (a *OllamaLLMAdapter) buildRequest(req ports.CompletionRequest, stream bool) ollamaChatRequest {
	msgs := []ollamaMessage{{Role: "system", Content: req.Instruction}}
	for _, t := range priorTurns(req) {
		msgs = append(msgs, ollamaMessage{Role: string(t.Role), Content: t.Content})
	}

	last := ollamaMessage{Role: string(entities.RoleUser), Content: userPrompt(req)}
	for _, att := range req.Evidence.Attachments {
		// Ollama only takes images; PDFs stay as their textual reference.
		if !strings.HasPrefix(att.MimeType, "image/") {
			a.logger.Debug("attachment sent as reference only",
				zap.String("name", att.Name), zap.String("mime", att.MimeType))
			continue
		}
		last.Images = append(last.Images, base64.StdEncoding.EncodeToString(att.Data))
	}
	msgs = append(msgs, last)

	return ollamaChatRequest{
		Model:    a.model,
		Messages: msgs,
		Stream:   stream,
		Options:  map[string]any{"temperature": DefaultTemperature},
	}
}

func (a *OllamaLLMAdapter) post(ctx context.Context, body ollamaChatRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// Generate returns the whole response text.
func (a *OllamaLLMAdapter) Generate(ctx context.Context, creq ports.CompletionRequest) (string, error) {
	resp, err := a.post(ctx, a.buildRequest(creq, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w: %v", ports.ErrMalformedResponse, err)
	}
	if chatResp.Error != "" {
		return "", fmt.Errorf("ollama: %s", chatResp.Error)
	}
	return chatResp.Message.Content, nil
}

// GenerateStream streams NDJSON chunks from Ollama. The goroutine exits when
// the stream ends or ctx is done.
func (a *OllamaLLMAdapter) GenerateStream(ctx context.Context, creq ports.CompletionRequest) (<-chan ports.StreamDelta, error) {
	resp, err := a.post(ctx, a.buildRequest(creq, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan ports.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		send := func(d ports.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				send(ports.StreamDelta{Error: fmt.Errorf("decoding chunk: %w: %v", ports.ErrMalformedResponse, err)})
				return
			}
			if chunk.Error != "" {
				send(ports.StreamDelta{Error: fmt.Errorf("ollama: %s", chunk.Error)})
				return
			}
			if !send(ports.StreamDelta{Content: chunk.Message.Content, Done: chunk.Done}) || chunk.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(ports.StreamDelta{Error: fmt.Errorf("reading stream: %w", err)})
		}
	}()

	return ch, nil
}
