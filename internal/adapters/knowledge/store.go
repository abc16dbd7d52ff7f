// Package knowledge loads the governance corpus: the master instruction
// template and the knowledge layers merged into every compiled instruction.
package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/usecases"
)

//go:embed defaults/corpus.yaml
var defaultCorpus []byte

// Corpus is the on-disk shape of a governance file.
type Corpus struct {
	Template entities.InstructionTemplate `yaml:"template"`
	Layers   []entities.KnowledgeLayer    `yaml:"layers"`
}

// snapshot is immutable once published.
type snapshot struct {
	source      string
	template    entities.InstructionTemplate
	layers      []entities.KnowledgeLayer
	departments []string
}

// Store implements ports.KnowledgeStore. Reload swaps whole corpora, so a
// compile in flight keeps reading the snapshot it started with.
type Store struct {
	current   atomic.Pointer[snapshot]
	slotNames []string
	logger    *zap.Logger
}

// NewStore creates a store holding the embedded default corpus.
// slotNames is the injector's slot table, checked against the template.
func NewStore(slotNames []string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{slotNames: slotNames, logger: logger.Named("knowledge")}
	if err := s.load("embedded", defaultCorpus); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultCorpus returns the embedded corpus file.
func DefaultCorpus() []byte {
	return append([]byte(nil), defaultCorpus...)
}

// LoadFile replaces the corpus with the contents of path.
// On error the previous corpus stays in place.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading knowledge corpus: %w", err)
	}
	return s.load(path, data)
}

// LoadBytes replaces the corpus with a YAML document.
func (s *Store) LoadBytes(source string, data []byte) error {
	return s.load(source, data)
}

func (s *Store) load(source string, data []byte) error {
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return &entities.ConfigurationError{Op: "knowledge", Detail: fmt.Sprintf("parsing %s: %v", source, err)}
	}

	snap, err := build(source, c, s.slotNames)
	if err != nil {
		return err
	}
	prev := s.current.Swap(snap)

	fields := []zap.Field{
		zap.String("source", source),
		zap.Int("layers", len(snap.layers)),
		zap.Strings("departments", snap.departments),
	}
	if prev != nil {
		fields = append(fields, zap.String("previous", prev.source))
	}
	s.logger.Info("knowledge corpus loaded", fields...)
	return nil
}

// build validates a corpus and freezes it into a snapshot.
func build(source string, c Corpus, slotNames []string) (*snapshot, error) {
	if err := usecases.ValidateTemplate(c.Template, slotNames); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(c.Layers))
	deptSet := make(map[string]string)
	for i, l := range c.Layers {
		if strings.TrimSpace(l.ID) == "" {
			return nil, &entities.ConfigurationError{Op: "knowledge", Detail: fmt.Sprintf("layer %d has no id", i)}
		}
		if seen[l.ID] {
			return nil, &entities.ConfigurationError{Op: "knowledge", Detail: fmt.Sprintf("duplicate layer id %q", l.ID)}
		}
		seen[l.ID] = true

		switch l.Scope.Kind {
		case entities.ScopeGlobal:
		case entities.ScopeDepartment:
			if strings.TrimSpace(l.Scope.Department) == "" {
				return nil, &entities.ConfigurationError{Op: "knowledge", Detail: fmt.Sprintf("layer %q has department scope without a department", l.ID)}
			}
			deptSet[strings.ToLower(l.Scope.Department)] = l.Scope.Department
		default:
			return nil, &entities.ConfigurationError{Op: "knowledge", Detail: fmt.Sprintf("layer %q has unknown scope %q", l.ID, l.Scope.Kind)}
		}
	}
	if len(deptSet) == 0 {
		return nil, &entities.ConfigurationError{Op: "knowledge", Detail: "corpus defines no department layers"}
	}

	snap := &snapshot{
		source:   source,
		template: c.Template,
		layers:   append([]entities.KnowledgeLayer(nil), c.Layers...),
	}
	for _, name := range deptSet {
		snap.departments = append(snap.departments, name)
	}
	sort.Strings(snap.departments)

	// Every department must compile with a total layer order.
	for _, d := range snap.departments {
		if _, err := usecases.OrderLayers(snap.applicable(d)); err != nil {
			return nil, fmt.Errorf("department %s: %w", d, err)
		}
	}
	return snap, nil
}

func (s *snapshot) applicable(department string) []entities.KnowledgeLayer {
	var out []entities.KnowledgeLayer
	for _, l := range s.layers {
		if l.Scope.Applies(department) {
			out = append(out, l)
		}
	}
	return out
}

func (s *snapshot) canonical(department string) (string, error) {
	department = strings.TrimSpace(department)
	for _, d := range s.departments {
		if strings.EqualFold(d, department) {
			return d, nil
		}
	}
	return "", &entities.ConfigurationError{
		Op:     "knowledge",
		Detail: fmt.Sprintf("no department layer for %q", department),
	}
}

// Governance returns the template and the layers governing department.
// A department without its own layer is a deployment mistake.
func (s *Store) Governance(department string) (entities.Governance, error) {
	snap := s.current.Load()
	name, err := snap.canonical(department)
	if err != nil {
		return entities.Governance{}, err
	}
	return entities.Governance{
		Department: name,
		Template:   snap.template,
		Layers:     snap.applicable(name),
	}, nil
}

// Canonical returns the corpus spelling of department.
func (s *Store) Canonical(department string) (string, error) {
	return s.current.Load().canonical(department)
}

// Departments lists the departments the corpus governs, sorted.
func (s *Store) Departments() []string {
	return append([]string(nil), s.current.Load().departments...)
}

// Source names where the current corpus came from.
func (s *Store) Source() string {
	return s.current.Load().source
}
