// Package ports defines interfaces for external dependencies.
// Usecases depend on these abstractions; adapters implement them.
package ports

import (
	"context"
	"errors"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
)

// EmbeddingService generates vector embeddings for text.
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionRequest is everything a backend needs for one turn.
type CompletionRequest struct {
	Instruction string
	Evidence    entities.EvidenceBundle
	Message     string
}

// ErrNotFound is returned by stores for an unknown key.
var ErrNotFound = errors.New("not found")

// ErrMalformedResponse marks a backend answer that could not be decoded.
var ErrMalformedResponse = errors.New("malformed completion response")

// StreamDelta is one incremental piece of a streamed completion.
type StreamDelta struct {
	Content string
	Done    bool
	Error   error
}

// CompletionBackend is the text-generation service.
type CompletionBackend interface {
	// Generate returns the whole response text.
	Generate(ctx context.Context, req CompletionRequest) (string, error)

	// GenerateStream returns deltas as they arrive. The channel is closed when
	// the stream ends; implementations stop sending once ctx is done.
	GenerateStream(ctx context.Context, req CompletionRequest) (<-chan StreamDelta, error)
}

// ConversationLedger is the append-only per-thread history.
// Appends to one key are linearized; different keys never contend.
type ConversationLedger interface {
	// Append stores one turn and returns its assigned id.
	Append(ctx context.Context, key entities.ThreadKey, turn entities.ConversationTurn) (string, error)

	// AppendExchange stores a user turn and its reply as one serialized step.
	AppendExchange(ctx context.Context, key entities.ThreadKey, user, reply entities.ConversationTurn) (userID, replyID string, err error)

	// Recent returns the last n turns in arrival order.
	Recent(ctx context.Context, key entities.ThreadKey, n int) ([]entities.ConversationTurn, error)

	// Threads lists the thread ids known for a department.
	Threads(ctx context.Context, department string) ([]string, error)
}

// ProfileStore persists business profiles.
type ProfileStore interface {
	LoadProfile(ctx context.Context, workspaceID string) (*entities.BusinessProfile, error)
	SaveProfile(ctx context.Context, profile *entities.BusinessProfile) error

	// AddDepartment is the additive "add expert" flow.
	AddDepartment(ctx context.Context, workspaceID string, dc entities.DepartmentConfig) error
}

// EvidenceStore is the add-only document pool.
type EvidenceStore interface {
	LoadEvidence(ctx context.Context, department string) ([]entities.EvidenceDocument, error)
	AddEvidence(ctx context.Context, doc entities.EvidenceDocument) error
}

// KnowledgeStore serves knowledge layers and the instruction template.
type KnowledgeStore interface {
	// Governance returns a copy of the template and the layers governing the
	// department, both taken from the same corpus.
	Governance(department string) (entities.Governance, error)

	// Canonical resolves a department name case-insensitively to the
	// spelling the corpus uses. Unknown departments are a ConfigurationError.
	Canonical(department string) (string, error)

	// Departments lists the departments with a department-scoped layer.
	Departments() []string
}

// DocumentLoader reads a file from disk for ingestion.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (name string, data []byte, err error)
	SupportedExtensions() []string
}

// FileWatcher monitors a directory for changes.
type FileWatcher interface {
	// Watch starts monitoring the directory tree and emits events.
	Watch(ctx context.Context, dir string) (<-chan FileEvent, error)

	// Stop stops the watcher.
	Stop() error
}

// FileEvent represents a file system change.
type FileEvent struct {
	Path      string
	Operation FileOperation
}

// FileOperation is the type of file change.
type FileOperation int

const (
	FileCreated FileOperation = iota
	FileModified
	FileDeleted
)
