package usecases

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
)

// Slots the compiler fills itself rather than the injector.
const (
	SlotKnowledgeLayers  = "knowledge_layers"
	SlotEvidenceManifest = "evidence_manifest"
)

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// TemplateCompiler merges knowledge layers and injected slots into one instruction.
type TemplateCompiler struct {
	logger *zap.Logger
}

// NewTemplateCompiler creates a TemplateCompiler.
func NewTemplateCompiler(logger *zap.Logger) *TemplateCompiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateCompiler{logger: logger.Named("compiler")}
}

// Compile produces the instruction text. Identical inputs yield identical bytes.
func (c *TemplateCompiler) Compile(
	tmpl entities.InstructionTemplate,
	department string,
	layers []entities.KnowledgeLayer,
	slots map[string]string,
	manifest []entities.ManifestEntry,
) (*entities.CompiledInstruction, error) {
	ordered, err := OrderLayers(layers)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(slots)+2)
	for k, v := range slots {
		values[k] = v
	}
	values[SlotKnowledgeLayers] = governanceBlock(ordered)
	values[SlotEvidenceManifest] = renderManifest(department, manifest)

	// One pass keyed by name: substituted text is never rescanned.
	var missing []string
	text := placeholderRe.ReplaceAllStringFunc(tmpl.Body, func(m string) string {
		name := m[2 : len(m)-2]
		v, ok := values[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})

	if len(missing) > 0 {
		return nil, &entities.ConfigurationError{
			Op:     "compile",
			Detail: "unresolved placeholders: " + strings.Join(uniqueSorted(missing), ", "),
		}
	}
	if strings.Contains(text, "{{") {
		return nil, &entities.ConfigurationError{Op: "compile", Detail: "malformed placeholder left in instruction"}
	}

	ids := make([]string, len(ordered))
	for i, l := range ordered {
		ids[i] = l.ID
	}

	c.logger.Debug("compiled instruction",
		zap.String("department", department),
		zap.Strings("layers", ids),
		zap.Int("chars", len(text)),
	)

	return &entities.CompiledInstruction{
		Department: department,
		Text:       text,
		LayerIDs:   ids,
	}, nil
}

// OrderLayers sorts layers by ascending precedence and checks the order is total.
func OrderLayers(layers []entities.KnowledgeLayer) ([]entities.KnowledgeLayer, error) {
	if len(layers) == 0 {
		return nil, &entities.ConfigurationError{Op: "layers", Detail: "no knowledge layers"}
	}

	ordered := make([]entities.KnowledgeLayer, len(layers))
	copy(ordered, layers)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Precedence != ordered[j].Precedence {
			return ordered[i].Precedence < ordered[j].Precedence
		}
		return ordered[i].ID < ordered[j].ID
	})

	for i, l := range ordered {
		if strings.Contains(l.Body, "{{") {
			return nil, &entities.ConfigurationError{
				Op:     "layers",
				Detail: fmt.Sprintf("layer %q contains a placeholder", l.ID),
			}
		}
		if i > 0 && ordered[i-1].Precedence == l.Precedence {
			return nil, &entities.ConfigurationError{
				Op:     "layers",
				Detail: fmt.Sprintf("layers %q and %q share precedence %d", ordered[i-1].ID, l.ID, l.Precedence),
			}
		}
	}
	return ordered, nil
}

// ValidateTemplate checks the template against the recognized slot set.
// It runs at startup so a mismatch never reaches a live request.
func ValidateTemplate(tmpl entities.InstructionTemplate, slotNames []string) error {
	if tmpl.Version != SlotSetVersion {
		return &entities.ConfigurationError{
			Op:     "template",
			Detail: fmt.Sprintf("template version %q does not match slot set version %q", tmpl.Version, SlotSetVersion),
		}
	}

	known := make(map[string]bool, len(slotNames)+2)
	for _, n := range slotNames {
		known[n] = true
	}
	known[SlotKnowledgeLayers] = true
	known[SlotEvidenceManifest] = true

	var unknown []string
	seenLayers := false
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl.Body, -1) {
		if m[1] == SlotKnowledgeLayers {
			seenLayers = true
		}
		if !known[m[1]] {
			unknown = append(unknown, m[1])
		}
	}
	if len(unknown) > 0 {
		return &entities.ConfigurationError{
			Op:     "template",
			Detail: "unknown placeholders: " + strings.Join(uniqueSorted(unknown), ", "),
		}
	}
	if !seenLayers {
		return &entities.ConfigurationError{Op: "template", Detail: "template has no {{" + SlotKnowledgeLayers + "}} section"}
	}
	if stray := placeholderRe.ReplaceAllString(tmpl.Body, ""); strings.Contains(stray, "{{") {
		return &entities.ConfigurationError{Op: "template", Detail: "template contains a malformed placeholder"}
	}
	return nil
}

func governanceBlock(layers []entities.KnowledgeLayer) string {
	parts := make([]string, len(layers))
	for i, l := range layers {
		parts[i] = strings.TrimSpace(l.Body)
	}
	return strings.Join(parts, "\n\n")
}

func renderManifest(department string, manifest []entities.ManifestEntry) string {
	if len(manifest) == 0 {
		return fmt.Sprintf("%s for the %s department. Do not claim that any document supports an answer.",
			NoEvidenceMarker, neutralizeBraces(department))
	}

	var sb strings.Builder
	sb.WriteString("AVAILABLE CONTEXT REPOSITORY DOCUMENTS:\n")
	for _, m := range manifest {
		fmt.Fprintf(&sb, "- %s (%s)", neutralizeBraces(m.Name), m.MimeType)
		if m.Truncated {
			sb.WriteString(" [excerpt]")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nPrioritize information found in these documents over general knowledge and cite the document name explicitly.")
	return sb.String()
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
