package usecases

import (
	"fmt"
	"sort"
	"strings"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
)

// NoEvidenceMarker opens the evidence text when a department has no documents.
const NoEvidenceMarker = "No evidence available"

// AssembleInput is the raw grounding material for one turn.
type AssembleInput struct {
	Department string
	Evidence   []entities.EvidenceDocument
	History    []entities.ConversationTurn

	// MaxEvidenceChars bounds each inlined text document; <= 0 disables truncation.
	MaxEvidenceChars int
	// MaxHistoryTurns keeps only the most recent turns.
	MaxHistoryTurns int
	// MaxEvidenceDocuments caps the document count; <= 0 means no cap.
	MaxEvidenceDocuments int

	// Relevance holds optional document scores keyed by document id.
	Relevance map[string]float64
}

// GroundingAssembler packages evidence and history into a bounded bundle.
type GroundingAssembler struct{}

// NewGroundingAssembler creates a GroundingAssembler.
func NewGroundingAssembler() *GroundingAssembler {
	return &GroundingAssembler{}
}

// Assemble builds the evidence bundle. It is pure and never fails.
func (a *GroundingAssembler) Assemble(in AssembleInput) entities.EvidenceBundle {
	bundle := entities.EvidenceBundle{Department: in.Department}

	docs := selectEvidence(in)
	if in.MaxEvidenceDocuments > 0 && len(docs) > in.MaxEvidenceDocuments {
		docs = docs[:in.MaxEvidenceDocuments]
		bundle.EvidenceTruncated = true
	}

	var sb strings.Builder
	if len(docs) == 0 {
		fmt.Fprintf(&sb, "%s: no documents have been provided for the %s department. "+
			"Tell the user there is no supporting context instead of inferring one.", NoEvidenceMarker, in.Department)
	} else {
		fmt.Fprintf(&sb, "EVIDENCE FOR THE %s DEPARTMENT:\n", strings.ToUpper(in.Department))
	}

	for _, doc := range docs {
		entry := entities.ManifestEntry{DocumentID: doc.ID, Name: doc.Name, MimeType: doc.MimeType}

		if doc.MimeCategory.IsBinary() {
			ref := fmt.Sprintf("[Document Reference: %s (%s)]", doc.Name, doc.MimeType)
			bundle.Attachments = append(bundle.Attachments, entities.BinaryAttachment{
				DocumentID: doc.ID,
				Name:       doc.Name,
				MimeType:   doc.MimeType,
				Data:       doc.Data,
				Reference:  ref,
			})
			sb.WriteString("\n")
			sb.WriteString(ref)
			sb.WriteString("\n")
		} else {
			content, cut := truncateRunes(doc.Content, in.MaxEvidenceChars)
			entry.Truncated = cut
			if cut {
				bundle.EvidenceTruncated = true
			}
			fmt.Fprintf(&sb, "\n--- BEGIN DOCUMENT: %s ---\n%s\n--- END DOCUMENT ---\n", doc.Name, content)
		}
		bundle.Manifest = append(bundle.Manifest, entry)
	}
	bundle.Text = sb.String()

	bundle.History, bundle.HistoryTruncated = windowHistory(in.History, in.MaxHistoryTurns)
	return bundle
}

// selectEvidence filters to the department and orders by pin, relevance, recency.
func selectEvidence(in AssembleInput) []entities.EvidenceDocument {
	docs := make([]entities.EvidenceDocument, 0, len(in.Evidence))
	for _, d := range in.Evidence {
		if strings.EqualFold(d.Department, in.Department) {
			docs = append(docs, d)
		}
	}

	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if sa, sb := in.Relevance[a.ID], in.Relevance[b.ID]; sa != sb {
			return sa > sb
		}
		if !a.UploadedAt.Equal(b.UploadedAt) {
			return a.UploadedAt.After(b.UploadedAt)
		}
		return a.ID < b.ID
	})
	return docs
}

// windowHistory keeps the last max turns in arrival order. Older turns are dropped, never summarized.
func windowHistory(history []entities.ConversationTurn, max int) ([]entities.ConversationTurn, bool) {
	if max < 0 {
		max = 0
	}
	truncated := len(history) > max
	if truncated {
		history = history[len(history)-max:]
	}
	out := make([]entities.ConversationTurn, len(history))
	copy(out, history)
	return out, truncated
}

func truncateRunes(s string, max int) (string, bool) {
	if max <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s, false
	}
	return fmt.Sprintf("%s\n[... truncated: %d of %d characters shown]", string(runes[:max]), max, len(runes)), true
}
