package usecases

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
)

// embedPrefixRunes bounds how much of each document is embedded.
const embedPrefixRunes = 2000

// RelevanceRanker scores text evidence against the user message.
// Binary documents are never scored and keep a zero score.
type RelevanceRanker struct {
	embedder ports.EmbeddingService
	logger   *zap.Logger
}

// NewRelevanceRanker creates a ranker over an embedding service.
func NewRelevanceRanker(embedder ports.EmbeddingService, logger *zap.Logger) *RelevanceRanker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelevanceRanker{embedder: embedder, logger: logger.Named("relevance")}
}

// Score returns cosine similarity per document id.
func (r *RelevanceRanker) Score(ctx context.Context, query string, docs []entities.EvidenceDocument) (map[string]float64, error) {
	var (
		ids   []string
		texts []string
	)
	for _, d := range docs {
		if d.MimeCategory.IsBinary() || d.Content == "" {
			continue
		}
		ids = append(ids, d.ID)
		texts = append(texts, prefixRunes(d.Content, embedPrefixRunes))
	}
	if len(texts) == 0 {
		return nil, nil
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	docVecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding evidence: %w", err)
	}
	if len(docVecs) != len(ids) {
		return nil, fmt.Errorf("embedding evidence: got %d vectors for %d documents", len(docVecs), len(ids))
	}

	scores := make(map[string]float64, len(ids))
	for i, id := range ids {
		scores[id] = cosineSimilarity(queryVec, docVecs[i])
	}
	r.logger.Debug("scored evidence", zap.Int("documents", len(scores)))
	return scores, nil
}

// cosineSimilarity calculates cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func prefixRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
