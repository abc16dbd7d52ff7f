package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xcro3dile/workmind-go/internal/adapters/knowledge"
	"github.com/0xcro3dile/workmind-go/internal/adapters/store"
	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
	"github.com/0xcro3dile/workmind-go/internal/domain/usecases"
)

// fakeBackend answers every turn with fixed chunks.
type fakeBackend struct {
	chunks []string
	err    error
}

func (b *fakeBackend) Generate(ctx context.Context, req ports.CompletionRequest) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return strings.Join(b.chunks, ""), nil
}

func (b *fakeBackend) GenerateStream(ctx context.Context, req ports.CompletionRequest) (<-chan ports.StreamDelta, error) {
	if b.err != nil {
		return nil, b.err
	}
	ch := make(chan ports.StreamDelta)
	go func() {
		defer close(ch)
		for _, c := range b.chunks {
			select {
			case ch <- ports.StreamDelta{Content: c}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- ports.StreamDelta{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

type fixture struct {
	handler http.Handler
	store   *store.MemoryStore
	backend *fakeBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	kb, err := knowledge.NewStore(usecases.NewContextInjector().Slots(), nil)
	require.NoError(t, err)

	backend := &fakeBackend{chunks: []string{"Discounts above 10% ", "need approval required ", "from finance."}}
	turns := usecases.NewTurnUseCase(usecases.TurnDeps{
		Knowledge: kb,
		Ledger:    mem,
		Backend:   backend,
	})
	srv := NewServer(Deps{
		Chat:      usecases.NewChatService(turns, mem, mem, nil),
		Ingest:    usecases.NewIngestUseCase(mem, 1024, nil),
		Profiles:  mem,
		Evidence:  mem,
		Knowledge: kb,
	})
	return &fixture{handler: srv.Handler(), store: mem, backend: backend}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 9, body["departments"])
}

func TestChat_RecordsAndEscalates(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPut, "/api/profile/ws1", map[string]any{"business_name": "Acme", "decision_approver": "Jane Doe"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chat", chatRequest{WorkspaceID: "ws1", Department: "Sales", Message: "Can I give 15% off?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[chatResponse](t, rec)
	assert.Equal(t, "Discounts above 10% need approval required from finance.", resp.Text)
	assert.True(t, resp.Escalation.Required)
	assert.Equal(t, "approval required", resp.Escalation.Reason)
	assert.Equal(t, "Jane Doe", resp.Escalation.Approver)
	require.NotEmpty(t, resp.ChatID)

	rec = f.do(t, http.MethodGet, "/api/threads/Sales", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{resp.ChatID}, decodeBody[map[string]any](t, rec)["chats"])

	rec = f.do(t, http.MethodGet, "/api/threads/Sales/"+resp.ChatID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[struct {
		History []entities.ConversationTurn `json:"history"`
	}](t, rec).History
	require.Len(t, history, 2)
	assert.Equal(t, resp.UserMessageID, history[0].ID)
	assert.Equal(t, resp.MessageID, history[1].ID)
	require.NotNil(t, history[1].Escalation)

	// Department spelling does not fork the conversation.
	rec = f.do(t, http.MethodPost, "/api/chat", chatRequest{WorkspaceID: "ws1", Department: "sales", ChatID: resp.ChatID, Message: "And 12%?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/threads/SALES", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{resp.ChatID}, decodeBody[map[string]any](t, rec)["chats"])

	turns, err := f.store.Recent(context.Background(), entities.ThreadKey{Department: "Sales", Thread: resp.ChatID}, 0)
	require.NoError(t, err)
	assert.Len(t, turns, 4)

	rec = f.do(t, http.MethodGet, "/api/threads/Astrology", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_ErrorMapping(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat", chatRequest{Department: "Sales", Message: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chat", chatRequest{Department: "Astrology", Message: "hi"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Expert is misconfigured", decodeBody[map[string]string](t, rec)["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.backend.err = errors.New("connection refused")
	rec = f.do(t, http.MethodPost, "/api/chat", chatRequest{Department: "Finance", ChatID: "c1", Message: "hi"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeBody[map[string]string](t, rec)["error"], "Finance expert engine")

	// The failed exchange is on record as an error turn.
	turns, err := f.store.Recent(context.Background(), entities.ThreadKey{Department: "Finance", Thread: "c1"}, 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, entities.TurnError, turns[1].Kind)

	rec = f.do(t, http.MethodGet, "/api/threads/Sales/none", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func readEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChatStream(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/chat/stream", chatRequest{Department: "Sales", ChatID: "s1", Message: "pricing?"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 4)
	var streamed strings.Builder
	for _, ev := range events[:3] {
		streamed.WriteString(ev["text"].(string))
	}
	final := events[3]
	assert.Equal(t, true, final["done"])
	assert.Equal(t, "s1", final["chat_id"])
	assert.Equal(t, streamed.String(), final["text"])
	assert.NotEmpty(t, final["message_id"])
}

func TestChatStream_Failures(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat/stream", chatRequest{Department: "", Message: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.backend.err = errors.New("connection refused")
	rec = f.do(t, http.MethodPost, "/api/chat/stream", chatRequest{Department: "Legal", Message: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0]["done"])
	assert.Contains(t, events[0]["error"], "Legal expert engine")
}

func TestProfile_AddDepartmentIsAdditive(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/profile/ws1/departments", entities.DepartmentConfig{Department: "Sales"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/profile/ws1", map[string]any{"business_name": "Acme"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/profile/ws1/departments", entities.DepartmentConfig{Department: "Sales", Priority: "High"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/profile/ws1/departments", entities.DepartmentConfig{Department: "Astrology"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/profile/ws1", map[string]any{"business_name": "Acme Corp"})
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[entities.BusinessProfile](t, rec)
	assert.Equal(t, "ws1", p.WorkspaceID)
	assert.Equal(t, "Acme Corp", p.BusinessName)
	assert.Equal(t, []string{"Sales"}, p.SelectedDepartments)

	rec = f.do(t, http.MethodGet, "/api/profile/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func upload(t *testing.T, h http.Handler, department, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("pinned", "true"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/evidence/"+department, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEvidenceUpload(t *testing.T) {
	f := newFixture(t)

	rec := upload(t, f.handler, "Sales", "pricing.md", []byte("# Price list"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decodeBody[evidenceEntry](t, rec)
	assert.Equal(t, "pricing.md", entry.Name)
	assert.Equal(t, "text/markdown", entry.MimeType)
	assert.True(t, entry.Pinned)

	rec = upload(t, f.handler, "Sales", "huge.txt", bytes.Repeat([]byte("x"), 2048))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, f.handler, "Sales", "blob", []byte{0x00, 0x01, 0x02, 0x03})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/evidence/sales", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decodeBody[struct {
		Documents []evidenceEntry `json:"documents"`
	}](t, rec).Documents
	require.Len(t, docs, 1)
	assert.Equal(t, entry.ID, docs[0].ID)
}
