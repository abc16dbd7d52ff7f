package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
)

// TurnOptions bound one turn. Zero fields fall back to the use case defaults.
type TurnOptions struct {
	MaxEvidenceChars     int
	MaxHistoryTurns      int
	MaxEvidenceDocuments int
	Deadline             time.Duration
	Stream               bool
}

// DefaultTurnOptions are used when neither config nor caller sets a bound.
func DefaultTurnOptions() TurnOptions {
	return TurnOptions{
		MaxEvidenceChars: 4000,
		MaxHistoryTurns:  10,
		Deadline:         60 * time.Second,
	}
}

// TurnInput is everything one turn works on.
type TurnInput struct {
	Department string
	ThreadID   string
	Message    string
	Profile    *entities.BusinessProfile
	Evidence   []entities.EvidenceDocument
	Options    TurnOptions
}

// TurnResult is a completed, recorded turn.
type TurnResult struct {
	Text              string
	Escalation        entities.EscalationVerdict
	TurnID            string
	UserTurnID        string
	ThreadID          string
	HistoryTruncated  bool
	EvidenceTruncated bool
	LayerIDs          []string
}

// TurnDeps wires a TurnUseCase.
type TurnDeps struct {
	Knowledge  ports.KnowledgeStore
	Ledger     ports.ConversationLedger
	Backend    ports.CompletionBackend
	Embedder   ports.EmbeddingService // optional; nil disables relevance ranking
	Triggers   []string
	Defaults   TurnOptions
	Logger     *zap.Logger
	Clock      func() time.Time
	ThreadIDFn func() string
}

// TurnUseCase runs one user turn end to end.
type TurnUseCase struct {
	knowledge  ports.KnowledgeStore
	ledger     ports.ConversationLedger
	injector   *ContextInjector
	compiler   *TemplateCompiler
	assembler  *GroundingAssembler
	dispatcher *CompletionDispatcher
	classifier *EscalationClassifier
	ranker     *RelevanceRanker
	defaults   TurnOptions
	logger     *zap.Logger
	now        func() time.Time
	newThread  func() string
}

// NewTurnUseCase creates a TurnUseCase with injected dependencies.
func NewTurnUseCase(deps TurnDeps) *TurnUseCase {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	uc := &TurnUseCase{
		knowledge:  deps.Knowledge,
		ledger:     deps.Ledger,
		injector:   NewContextInjector(),
		compiler:   NewTemplateCompiler(logger),
		assembler:  NewGroundingAssembler(),
		dispatcher: NewCompletionDispatcher(deps.Backend, logger),
		classifier: NewEscalationClassifier(deps.Triggers),
		defaults:   mergeOptions(deps.Defaults, DefaultTurnOptions()),
		logger:     logger.Named("turn"),
		now:        deps.Clock,
		newThread:  deps.ThreadIDFn,
	}
	if deps.Embedder != nil {
		uc.ranker = NewRelevanceRanker(deps.Embedder, logger)
	}
	if uc.now == nil {
		uc.now = time.Now
	}
	if uc.newThread == nil {
		uc.newThread = uuid.NewString
	}
	return uc
}

// Injector exposes the slot table used by this use case.
func (uc *TurnUseCase) Injector() *ContextInjector { return uc.injector }

// Classifier exposes the shared escalation classifier.
func (uc *TurnUseCase) Classifier() *EscalationClassifier { return uc.classifier }

// Defaults returns the effective turn bounds.
func (uc *TurnUseCase) Defaults() TurnOptions { return uc.defaults }

// ProcessTurn compiles, grounds, dispatches, classifies and records one turn.
// A canceled turn records nothing. Any other completion failure records the
// user message and an error turn, then returns the failure.
func (uc *TurnUseCase) ProcessTurn(ctx context.Context, in TurnInput, sink DeltaSink) (*TurnResult, error) {
	department := strings.TrimSpace(in.Department)
	if department == "" {
		return nil, &entities.ValidationError{Field: "department", Detail: "must not be empty"}
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, &entities.ValidationError{Field: "message", Detail: "must not be empty"}
	}

	opts := mergeOptions(in.Options, uc.defaults)
	opts.Stream = in.Options.Stream
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		threadID = uc.newThread()
	}

	// Snapshot everything the compile reads.
	gov, err := uc.knowledge.Governance(department)
	if err != nil {
		return nil, err
	}
	if gov.Department != "" {
		department = gov.Department
	}
	key := entities.ThreadKey{Department: department, Thread: threadID}
	profile := in.Profile.Clone()
	evidence := make([]entities.EvidenceDocument, len(in.Evidence))
	copy(evidence, in.Evidence)

	history, err := uc.ledger.Recent(ctx, key, opts.MaxHistoryTurns+1)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	bundle := uc.assembler.Assemble(AssembleInput{
		Department:           department,
		Evidence:             evidence,
		History:              history,
		MaxEvidenceChars:     opts.MaxEvidenceChars,
		MaxHistoryTurns:      opts.MaxHistoryTurns,
		MaxEvidenceDocuments: opts.MaxEvidenceDocuments,
		Relevance:            uc.rank(ctx, in.Message, department, evidence),
	})

	slots := uc.injector.Inject(profile, department)
	instruction, err := uc.compiler.Compile(gov.Template, department, gov.Layers, slots, bundle.Manifest)
	if err != nil {
		return nil, err
	}

	completion, err := uc.dispatcher.Dispatch(ctx, DispatchRequest{
		Department:  department,
		Instruction: instruction.Text,
		Bundle:      bundle,
		Message:     in.Message,
		Stream:      opts.Stream,
		Deadline:    opts.Deadline,
	}, sink)
	if err != nil {
		var cf *entities.CompletionFailure
		if errors.As(err, &cf) && cf.Kind != entities.FailureCanceled {
			uc.recordFailure(ctx, key, in.Message)
		}
		return nil, err
	}

	approver := ""
	if profile != nil {
		approver = profile.DecisionApprover
	}
	verdict := uc.classifier.Classify(completion.Text, approver)

	now := uc.now()
	userID, replyID, err := uc.ledger.AppendExchange(ctx, key,
		entities.ConversationTurn{Role: entities.RoleUser, Kind: entities.TurnMessage, Content: in.Message, Timestamp: now},
		entities.ConversationTurn{Role: entities.RoleAssistant, Kind: entities.TurnMessage, Content: completion.Text, Timestamp: now, Escalation: &verdict},
	)
	if err != nil {
		return nil, fmt.Errorf("recording turn: %w", err)
	}

	uc.logger.Info("turn completed",
		zap.String("thread", key.String()),
		zap.Bool("escalation", verdict.Required),
		zap.Bool("history_truncated", bundle.HistoryTruncated),
		zap.Int("documents", len(bundle.Manifest)),
		zap.Duration("elapsed", completion.Elapsed),
	)

	return &TurnResult{
		Text:              completion.Text,
		Escalation:        verdict,
		TurnID:            replyID,
		UserTurnID:        userID,
		ThreadID:          threadID,
		HistoryTruncated:  bundle.HistoryTruncated,
		EvidenceTruncated: bundle.EvidenceTruncated,
		LayerIDs:          instruction.LayerIDs,
	}, nil
}

// recordFailure leaves a visible error turn. It runs even if the caller's
// deadline has passed.
func (uc *TurnUseCase) recordFailure(ctx context.Context, key entities.ThreadKey, message string) {
	now := uc.now()
	_, _, err := uc.ledger.AppendExchange(context.WithoutCancel(ctx), key,
		entities.ConversationTurn{Role: entities.RoleUser, Kind: entities.TurnMessage, Content: message, Timestamp: now},
		entities.ConversationTurn{Role: entities.RoleAssistant, Kind: entities.TurnError, Content: entities.UnreachableMessage, Timestamp: now},
	)
	if err != nil {
		uc.logger.Error("recording error turn", zap.String("thread", key.String()), zap.Error(err))
	}
}

func (uc *TurnUseCase) rank(ctx context.Context, query, department string, docs []entities.EvidenceDocument) map[string]float64 {
	if uc.ranker == nil || len(docs) == 0 {
		return nil
	}
	scores, err := uc.ranker.Score(ctx, query, docs)
	if err != nil {
		uc.logger.Warn("relevance ranking unavailable, using recency",
			zap.String("department", department), zap.Error(err))
		return nil
	}
	return scores
}

func mergeOptions(o, defaults TurnOptions) TurnOptions {
	if o.MaxEvidenceChars == 0 {
		o.MaxEvidenceChars = defaults.MaxEvidenceChars
	}
	if o.MaxHistoryTurns == 0 {
		o.MaxHistoryTurns = defaults.MaxHistoryTurns
	}
	if o.MaxEvidenceDocuments == 0 {
		o.MaxEvidenceDocuments = defaults.MaxEvidenceDocuments
	}
	if o.Deadline == 0 {
		o.Deadline = defaults.Deadline
	}
	return o
}

// ChatRequest is a persistence-backed turn addressed by workspace.
type ChatRequest struct {
	WorkspaceID string
	Department  string
	ThreadID    string
	Message     string
	Stream      bool
}

// ChatService loads the workspace state for a turn and runs it.
type ChatService struct {
	turns    *TurnUseCase
	profiles ports.ProfileStore
	evidence ports.EvidenceStore
	logger   *zap.Logger
}

// NewChatService creates a ChatService.
func NewChatService(turns *TurnUseCase, profiles ports.ProfileStore, evidence ports.EvidenceStore, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{turns: turns, profiles: profiles, evidence: evidence, logger: logger.Named("chat")}
}

// Chat loads the profile and the department's evidence concurrently, then
// processes the turn. A workspace without a profile gets "Not specified" slots.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest, sink DeltaSink) (*TurnResult, error) {
	if strings.TrimSpace(req.Department) == "" {
		return nil, &entities.ValidationError{Field: "department", Detail: "must not be empty"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, &entities.ValidationError{Field: "message", Detail: "must not be empty"}
	}
	department, err := s.turns.knowledge.Canonical(req.Department)
	if err != nil {
		return nil, err
	}

	var (
		profile  *entities.BusinessProfile
		evidence []entities.EvidenceDocument
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.profiles.LoadProfile(gctx, req.WorkspaceID)
		if errors.Is(err, ports.ErrNotFound) {
			s.logger.Warn("no profile for workspace", zap.String("workspace", req.WorkspaceID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading profile: %w", err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		docs, err := s.evidence.LoadEvidence(gctx, department)
		if err != nil {
			return fmt.Errorf("loading evidence: %w", err)
		}
		evidence = docs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return s.turns.ProcessTurn(ctx, TurnInput{
		Department: department,
		ThreadID:   req.ThreadID,
		Message:    req.Message,
		Profile:    profile,
		Evidence:   evidence,
		Options:    TurnOptions{Stream: req.Stream},
	}, sink)
}

// Threads lists the conversations of a department.
func (s *ChatService) Threads(ctx context.Context, department string) ([]string, error) {
	if strings.TrimSpace(department) == "" {
		return nil, &entities.ValidationError{Field: "department", Detail: "must not be empty"}
	}
	name, err := s.department(department)
	if err != nil {
		return nil, err
	}
	return s.turns.ledger.Threads(ctx, name)
}

// History returns the last n turns of a thread.
func (s *ChatService) History(ctx context.Context, key entities.ThreadKey, n int) ([]entities.ConversationTurn, error) {
	if strings.TrimSpace(key.Department) == "" || strings.TrimSpace(key.Thread) == "" {
		return nil, &entities.ValidationError{Field: "thread", Detail: "department and thread are required"}
	}
	name, err := s.department(key.Department)
	if err != nil {
		return nil, err
	}
	key.Department = name
	return s.turns.ledger.Recent(ctx, key, n)
}

// department maps a requested department onto its ledger spelling. Asking
// for the history of a department with no expert is a caller mistake.
func (s *ChatService) department(name string) (string, error) {
	canonical, err := s.turns.knowledge.Canonical(name)
	if entities.IsConfiguration(err) {
		return "", &entities.ValidationError{Field: "department", Detail: fmt.Sprintf("%q has no expert", strings.TrimSpace(name))}
	}
	return canonical, err
}
