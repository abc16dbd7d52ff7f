package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
)

type turnFixture struct {
	backend *mockBackend
	ledger  *mockLedger
	uc      *TurnUseCase
}

func newTurnFixture(backend *mockBackend, embedder *mockEmbedder) *turnFixture {
	ledger := newMockLedger()
	deps := TurnDeps{
		Knowledge: newMockKnowledge(),
		Ledger:    ledger,
		Backend:   backend,
		Defaults:  TurnOptions{Deadline: time.Second},
		Clock:     func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	}
	if embedder != nil {
		deps.Embedder = embedder
	}
	return &turnFixture{backend: backend, ledger: ledger, uc: NewTurnUseCase(deps)}
}

func TestProcessTurn_RecordsExchangeWithVerdict(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "I cannot set a 20% discount without approval required from finance."}, nil)
	profile := &entities.BusinessProfile{BusinessName: "Acme", DecisionApprover: "Jane Doe"}

	res, err := f.uc.ProcessTurn(context.Background(), TurnInput{
		Department: "Sales",
		ThreadID:   "t1",
		Message:    "Can we give a 20% discount?",
		Profile:    profile,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, entities.EscalationVerdict{Required: true, Reason: "approval required", Approver: "Jane Doe"}, res.Escalation)
	assert.Equal(t, "t1", res.ThreadID)
	assert.Equal(t, []string{"global", "sales", "output"}, res.LayerIDs)

	turns := f.ledger.all(entities.ThreadKey{Department: "Sales", Thread: "t1"})
	require.Len(t, turns, 2)
	assert.Equal(t, entities.RoleUser, turns[0].Role)
	assert.Equal(t, res.UserTurnID, turns[0].ID)
	assert.Equal(t, entities.RoleAssistant, turns[1].Role)
	assert.Equal(t, res.TurnID, turns[1].ID)
	require.NotNil(t, turns[1].Escalation)
	assert.Equal(t, res.Escalation, *turns[1].Escalation)
}

func TestProcessTurn_EmptyEvidenceStillDispatches(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "Without documents, here is a general cash plan."}, nil)

	_, err := f.uc.ProcessTurn(context.Background(), TurnInput{
		Department: "Finance",
		ThreadID:   "t1",
		Message:    "Build me a cash plan",
	}, nil)
	require.NoError(t, err)

	calls := f.backend.calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].Evidence.Text, NoEvidenceMarker))
	assert.Contains(t, calls[0].Instruction, "FINANCE DOCTRINE")
	assert.Contains(t, calls[0].Instruction, NoEvidenceMarker+" for the Finance department")
	assert.NotContains(t, calls[0].Instruction, "{{")
	assert.Equal(t, "Build me a cash plan", calls[0].Message)
}

func TestProcessTurn_ValidationBeforeWork(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "x"}, nil)

	for _, in := range []TurnInput{
		{Department: "", Message: "hi"},
		{Department: "Sales", Message: "   "},
	} {
		_, err := f.uc.ProcessTurn(context.Background(), in, nil)
		require.Error(t, err)
		assert.True(t, entities.IsValidation(err))
	}
	assert.Empty(t, f.backend.calls())
}

func TestProcessTurn_UnknownDepartmentIsConfigurationError(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "x"}, nil)
	_, err := f.uc.ProcessTurn(context.Background(), TurnInput{Department: "Astrology", Message: "hi"}, nil)
	require.Error(t, err)
	assert.True(t, entities.IsConfiguration(err))
	assert.Empty(t, f.backend.calls())
}

func TestProcessTurn_FailureRecordsErrorTurn(t *testing.T) {
	f := newTurnFixture(&mockBackend{err: errBackendDown}, nil)
	key := entities.ThreadKey{Department: "Sales", Thread: "t1"}

	_, err := f.uc.ProcessTurn(context.Background(), TurnInput{Department: "Sales", ThreadID: "t1", Message: "hi"}, nil)
	cf, ok := entities.AsCompletionFailure(err)
	require.True(t, ok)
	assert.Equal(t, entities.FailureUnavailable, cf.Kind)

	turns := f.ledger.all(key)
	require.Len(t, turns, 2)
	assert.Equal(t, entities.TurnMessage, turns[0].Kind)
	assert.Equal(t, entities.TurnError, turns[1].Kind)
	assert.Equal(t, entities.UnreachableMessage, turns[1].Content)
	assert.Nil(t, turns[1].Escalation)
}

func TestProcessTurn_TimeoutRecordsErrorTurn(t *testing.T) {
	f := newTurnFixture(&mockBackend{hang: true}, nil)

	_, err := f.uc.ProcessTurn(context.Background(), TurnInput{
		Department: "Sales",
		ThreadID:   "t1",
		Message:    "hi",
		Options:    TurnOptions{Deadline: 20 * time.Millisecond},
	}, nil)
	cf, ok := entities.AsCompletionFailure(err)
	require.True(t, ok)
	assert.Equal(t, entities.FailureTimeout, cf.Kind)

	turns := f.ledger.all(entities.ThreadKey{Department: "Sales", Thread: "t1"})
	require.Len(t, turns, 2)
	assert.Equal(t, entities.TurnError, turns[1].Kind)
}

func TestProcessTurn_CancelledStreamAppendsNothing(t *testing.T) {
	f := newTurnFixture(&mockBackend{chunks: []string{"Half an ans"}, hang: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.uc.ProcessTurn(ctx, TurnInput{
		Department: "Sales",
		ThreadID:   "t1",
		Message:    "hi",
		Options:    TurnOptions{Stream: true},
	}, func(string) error {
		cancel()
		return nil
	})
	cf, ok := entities.AsCompletionFailure(err)
	require.True(t, ok)
	assert.Equal(t, entities.FailureCanceled, cf.Kind)
	assert.Empty(t, f.ledger.all(entities.ThreadKey{Department: "Sales", Thread: "t1"}))
}

func TestProcessTurn_StreamsDeltas(t *testing.T) {
	f := newTurnFixture(&mockBackend{chunks: []string{"one ", "two"}}, nil)

	var got []string
	res, err := f.uc.ProcessTurn(context.Background(), TurnInput{
		Department: "Sales",
		Message:    "count",
		Options:    TurnOptions{Stream: true},
	}, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one ", "two"}, got)
	assert.Equal(t, "one two", res.Text)
	assert.NotEmpty(t, res.ThreadID)
}

func TestProcessTurn_HistoryWindow(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "ok"}, nil)
	key := entities.ThreadKey{Department: "Sales", Thread: "t1"}
	for i := 0; i < 6; i++ {
		_, err := f.ledger.Append(context.Background(), key, entities.ConversationTurn{Role: entities.RoleUser, Kind: entities.TurnMessage, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	res, err := f.uc.ProcessTurn(context.Background(), TurnInput{
		Department: "Sales",
		ThreadID:   "t1",
		Message:    "next",
		Options:    TurnOptions{MaxHistoryTurns: 4},
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.HistoryTruncated)

	history := f.backend.calls()[0].Evidence.History
	require.Len(t, history, 4)
	assert.Equal(t, "m2", history[0].Content)
	assert.Equal(t, "m5", history[3].Content)

	f2 := newTurnFixture(&mockBackend{reply: "ok"}, nil)
	res, err = f2.uc.ProcessTurn(context.Background(), TurnInput{Department: "Sales", ThreadID: "t1", Message: "first"}, nil)
	require.NoError(t, err)
	assert.False(t, res.HistoryTruncated)
}

func TestProcessTurn_ConcurrentTurnsSameThread(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "ack"}, nil)
	key := entities.ThreadKey{Department: "Sales", Thread: "busy"}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.uc.ProcessTurn(context.Background(), TurnInput{
				Department: "Sales",
				ThreadID:   "busy",
				Message:    fmt.Sprintf("question %d", i),
			}, nil)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	turns := f.ledger.all(key)
	require.Len(t, turns, 2*n)
	for i := 0; i < len(turns); i += 2 {
		assert.Equal(t, entities.RoleUser, turns[i].Role)
		assert.Equal(t, entities.RoleAssistant, turns[i+1].Role)
		assert.Equal(t, turns[i].Seq+1, turns[i+1].Seq)
	}
}

func TestProcessTurn_RelevanceOrdersEvidence(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "ok"}, &mockEmbedder{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	evidence := []entities.EvidenceDocument{
		{ID: "recent", Department: "Sales", Name: "travel.md", MimeCategory: entities.MimeText, Content: "travel policy", UploadedAt: base.Add(time.Hour)},
		{ID: "match", Department: "Sales", Name: "pricing.md", MimeCategory: entities.MimeText, Content: "pricing tiers", UploadedAt: base},
	}

	_, err := f.uc.ProcessTurn(context.Background(), TurnInput{
		Department: "Sales",
		Message:    "what is our pricing?",
		Evidence:   evidence,
	}, nil)
	require.NoError(t, err)

	manifest := f.backend.calls()[0].Evidence.Manifest
	require.Len(t, manifest, 2)
	assert.Equal(t, "match", manifest[0].DocumentID)
}

func TestProcessTurn_RankerFailureFallsBackToRecency(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "ok"}, &mockEmbedder{err: errors.New("embedder down")})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.uc.ProcessTurn(context.Background(), TurnInput{
		Department: "Sales",
		Message:    "pricing?",
		Evidence: []entities.EvidenceDocument{
			{ID: "old", Department: "Sales", Name: "pricing.md", MimeCategory: entities.MimeText, Content: "pricing", UploadedAt: base},
			{ID: "new", Department: "Sales", Name: "travel.md", MimeCategory: entities.MimeText, Content: "travel", UploadedAt: base.Add(time.Hour)},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", f.backend.calls()[0].Evidence.Manifest[0].DocumentID)
}

func TestChatService_LoadsWorkspaceState(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "Please escalate to the owner."}, nil)
	profiles := &mockProfiles{profiles: map[string]*entities.BusinessProfile{
		"ws1": {WorkspaceID: "ws1", BusinessName: "Acme", DecisionApprover: "Jane Doe"},
	}}
	evidence := &mockEvidence{docs: []entities.EvidenceDocument{
		{ID: "d1", Department: "Sales", Name: "playbook.md", MimeCategory: entities.MimeText, Content: "call within 5 minutes"},
		{ID: "d2", Department: "Finance", Name: "budget.csv", MimeCategory: entities.MimeText, Content: "q1,100"},
	}}
	svc := NewChatService(f.uc, profiles, evidence, nil)

	res, err := svc.Chat(context.Background(), ChatRequest{WorkspaceID: "ws1", Department: "Sales", ThreadID: "t1", Message: "how fast do we call leads?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", res.Escalation.Approver)
	assert.True(t, res.Escalation.Required)

	call := f.backend.calls()[0]
	assert.Contains(t, call.Instruction, "expert for Acme")
	assert.Contains(t, call.Evidence.Text, "call within 5 minutes")
	assert.NotContains(t, call.Evidence.Text, "q1,100")

	threads, err := svc.Threads(context.Background(), "Sales")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, threads)

	history, err := svc.History(context.Background(), entities.ThreadKey{Department: "Sales", Thread: "t1"}, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestChatService_MissingProfileUsesNotSpecified(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "ok"}, nil)
	svc := NewChatService(f.uc, &mockProfiles{}, &mockEvidence{}, nil)

	_, err := svc.Chat(context.Background(), ChatRequest{WorkspaceID: "nope", Department: "Sales", Message: "hi"}, nil)
	require.NoError(t, err)
	assert.Contains(t, f.backend.calls()[0].Instruction, "Decision approver: "+NotSpecified)
}

func TestChatService_EvidenceLoadError(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "ok"}, nil)
	svc := NewChatService(f.uc, &mockProfiles{}, &mockEvidence{err: errors.New("disk gone")}, nil)

	_, err := svc.Chat(context.Background(), ChatRequest{WorkspaceID: "ws", Department: "Sales", Message: "hi"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	assert.Empty(t, f.backend.calls())
}

func TestProcessTurn_DepartmentCaseSharesThread(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "noted"}, nil)

	for _, dept := range []string{"Sales", "sales", " SALES "} {
		_, err := f.uc.ProcessTurn(context.Background(), TurnInput{Department: dept, ThreadID: "t1", Message: "next"}, nil)
		require.NoError(t, err, dept)
	}

	calls := f.backend.calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[1].Evidence.History, 2)
	assert.Len(t, calls[2].Evidence.History, 4)
	assert.Equal(t, "Sales", calls[2].Evidence.Department)

	assert.Len(t, f.ledger.all(entities.ThreadKey{Department: "Sales", Thread: "t1"}), 6)
	assert.Empty(t, f.ledger.all(entities.ThreadKey{Department: "sales", Thread: "t1"}))
}

func TestChatService_ThreadsAndHistoryIgnoreDepartmentCase(t *testing.T) {
	f := newTurnFixture(&mockBackend{reply: "ok"}, nil)
	svc := NewChatService(f.uc, &mockProfiles{}, &mockEvidence{}, nil)

	_, err := svc.Chat(context.Background(), ChatRequest{WorkspaceID: "ws", Department: "sales", ThreadID: "t1", Message: "hi"}, nil)
	require.NoError(t, err)

	threads, err := svc.Threads(context.Background(), "SALES")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, threads)

	history, err := svc.History(context.Background(), entities.ThreadKey{Department: "Sales", Thread: "t1"}, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = svc.Threads(context.Background(), "Astrology")
	var verr *entities.ValidationError
	assert.ErrorAs(t, err, &verr)
}
