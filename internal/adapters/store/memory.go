package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
)

// MemoryStore keeps the ledger, evidence and profiles in process memory.
// Used for tests and single-node development; contents die with the process.
type MemoryStore struct {
	appends *keyLocks

	mu       sync.RWMutex
	threads  map[entities.ThreadKey][]entities.ConversationTurn
	evidence []entities.EvidenceDocument
	profiles map[string]*entities.BusinessProfile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appends:  newKeyLocks(),
		threads:  make(map[entities.ThreadKey][]entities.ConversationTurn),
		profiles: make(map[string]*entities.BusinessProfile),
	}
}

func threadLockKey(key entities.ThreadKey) string {
	return key.Department + "\x00" + key.Thread
}

// Append stores one turn at the end of its thread.
func (s *MemoryStore) Append(ctx context.Context, key entities.ThreadKey, turn entities.ConversationTurn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	unlock := s.appends.lock(threadLockKey(key))
	defer unlock()

	return s.appendLocked(key, turn), nil
}

// AppendExchange stores both turns back to back; nothing can land between them.
func (s *MemoryStore) AppendExchange(ctx context.Context, key entities.ThreadKey, user, reply entities.ConversationTurn) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	unlock := s.appends.lock(threadLockKey(key))
	defer unlock()

	userID := s.appendLocked(key, user)
	replyID := s.appendLocked(key, reply)
	return userID, replyID, nil
}

// appendLocked needs the key lock held.
func (s *MemoryStore) appendLocked(key entities.ThreadKey, turn entities.ConversationTurn) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn.ID = uuid.NewString()
	turn.Seq = int64(len(s.threads[key]) + 1)
	if turn.Kind == "" {
		turn.Kind = entities.TurnMessage
	}
	if turn.Escalation != nil {
		v := *turn.Escalation
		turn.Escalation = &v
	}
	s.threads[key] = append(s.threads[key], turn)
	return turn.ID
}

// Recent returns the last n turns in arrival order; n <= 0 returns all of them.
func (s *MemoryStore) Recent(ctx context.Context, key entities.ThreadKey, n int) ([]entities.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.threads[key]
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]entities.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

// Threads lists a department's thread ids in sorted order.
func (s *MemoryStore) Threads(ctx context.Context, department string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for k := range s.threads {
		if k.Department == department {
			out = append(out, k.Thread)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadEvidence returns the department's documents.
func (s *MemoryStore) LoadEvidence(ctx context.Context, department string) ([]entities.EvidenceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entities.EvidenceDocument
	for _, d := range s.evidence {
		if strings.EqualFold(d.Department, department) {
			out = append(out, d)
		}
	}
	return out, nil
}

// AddEvidence stores a new document. Documents are never replaced.
func (s *MemoryStore) AddEvidence(ctx context.Context, doc entities.EvidenceDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.evidence {
		if d.ID == doc.ID {
			return fmt.Errorf("evidence %s already exists", doc.ID)
		}
	}
	doc.Data = append([]byte(nil), doc.Data...)
	s.evidence = append(s.evidence, doc)
	return nil
}

// LoadProfile returns a copy of the workspace profile.
func (s *MemoryStore) LoadProfile(ctx context.Context, workspaceID string) (*entities.BusinessProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[workspaceID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", workspaceID, ports.ErrNotFound)
	}
	return p.Clone(), nil
}

// SaveProfile replaces the workspace profile. Departments already configured
// are carried over so a save never removes an expert.
func (s *MemoryStore) SaveProfile(ctx context.Context, profile *entities.BusinessProfile) error {
	if profile == nil || profile.WorkspaceID == "" {
		return &entities.ValidationError{Field: "workspace_id", Detail: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := profile.Clone()
	if prev, ok := s.profiles[profile.WorkspaceID]; ok {
		keepDepartments(prev, next)
	}
	s.profiles[profile.WorkspaceID] = next
	return nil
}

// AddDepartment adds or updates one department config.
func (s *MemoryStore) AddDepartment(ctx context.Context, workspaceID string, dc entities.DepartmentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[workspaceID]
	if !ok {
		return fmt.Errorf("profile %s: %w", workspaceID, ports.ErrNotFound)
	}
	next := p.Clone()
	next.AddDepartment(dc)
	s.profiles[workspaceID] = next
	return nil
}
