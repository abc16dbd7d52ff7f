// Package http provides the HTTP server infrastructure.
// Clean Architecture: Framework/driver layer - outermost circle.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
	"github.com/0xcro3dile/workmind-go/internal/domain/usecases"
)

// Deps wires a Server.
type Deps struct {
	Chat      *usecases.ChatService
	Ingest    *usecases.IngestUseCase
	Profiles  ports.ProfileStore
	Evidence  ports.EvidenceStore
	Knowledge ports.KnowledgeStore
	Logger    *zap.Logger

	Addr            string
	ShutdownTimeout time.Duration
}

// Server is the HTTP server for the chat, profile and evidence API.
type Server struct {
	chat      *usecases.ChatService
	ingest    *usecases.IngestUseCase
	profiles  ports.ProfileStore
	evidence  ports.EvidenceStore
	knowledge ports.KnowledgeStore
	logger    *zap.Logger

	addr            string
	shutdownTimeout time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.ShutdownTimeout <= 0 {
		deps.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		chat:            deps.Chat,
		ingest:          deps.Ingest,
		profiles:        deps.Profiles,
		evidence:        deps.Evidence,
		knowledge:       deps.Knowledge,
		logger:          logger.Named("http"),
		addr:            deps.Addr,
		shutdownTimeout: deps.ShutdownTimeout,
	}
}

// Handler returns the routed API with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/departments", s.handleDepartments)

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream) // SSE streaming
	mux.HandleFunc("GET /api/threads/{department}", s.handleThreads)
	mux.HandleFunc("GET /api/threads/{department}/{thread}", s.handleHistory)

	mux.HandleFunc("GET /api/profile/{workspace}", s.handleGetProfile)
	mux.HandleFunc("PUT /api/profile/{workspace}", s.handlePutProfile)
	mux.HandleFunc("POST /api/profile/{workspace}/departments", s.handleAddDepartment)

	mux.HandleFunc("GET /api/evidence/{department}", s.handleListEvidence)
	mux.HandleFunc("POST /api/evidence/{department}", s.handleUpload)

	return corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the HTTP server until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second, // Longer for streaming
	}

	s.logger.Info("workmind server starting", zap.String("addr", s.addr))

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-shutdownErr
}

type chatRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Department  string `json:"department"`
	ChatID      string `json:"chat_id"`
	Message     string `json:"message"`
}

type chatResponse struct {
	Text              string                     `json:"text"`
	Escalation        entities.EscalationVerdict `json:"escalation"`
	MessageID         string                     `json:"message_id"`
	UserMessageID     string                     `json:"user_message_id"`
	ChatID            string                     `json:"chat_id"`
	HistoryTruncated  bool                       `json:"history_truncated"`
	EvidenceTruncated bool                       `json:"evidence_truncated"`
}

func newChatResponse(res *usecases.TurnResult) chatResponse {
	return chatResponse{
		Text:              res.Text,
		Escalation:        res.Escalation,
		MessageID:         res.TurnID,
		UserMessageID:     res.UserTurnID,
		ChatID:            res.ThreadID,
		HistoryTruncated:  res.HistoryTruncated,
		EvidenceTruncated: res.EvidenceTruncated,
	}
}

func (r chatRequest) toChat(stream bool) usecases.ChatRequest {
	return usecases.ChatRequest{
		WorkspaceID: r.WorkspaceID,
		Department:  r.Department,
		ThreadID:    r.ChatID,
		Message:     r.Message,
		Stream:      stream,
	}
}

// handleChat processes a non-streaming turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.chat.Chat(r.Context(), req.toChat(false), nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(res))
}

// handleChatStream runs a turn and relays deltas as SSE events. Headers are
// sent with the first delta, so a request rejected up front still gets a
// plain status code.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	sink := func(delta string) error {
		start()
		return sendSSE(w, flusher, map[string]any{"text": delta})
	}

	res, err := s.chat.Chat(r.Context(), req.toChat(true), sink)
	if err != nil {
		cf, isFailure := entities.AsCompletionFailure(err)
		if isFailure && cf.Kind == entities.FailureCanceled {
			return
		}
		if !started && !isFailure {
			s.writeError(w, r, err)
			return
		}
		start()
		msg := "Internal error"
		if isFailure {
			msg = cf.UserMessage()
		}
		s.logger.Warn("stream failed", zap.String("department", req.Department), zap.Error(err))
		_ = sendSSE(w, flusher, map[string]any{"error": msg, "done": true})
		return
	}

	start()
	resp := newChatResponse(res)
	_ = sendSSE(w, flusher, map[string]any{
		"done":       true,
		"escalation": resp.Escalation,
		"message_id": resp.MessageID,
		"chat_id":    resp.ChatID,
		"text":       resp.Text,
	})
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, data map[string]any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.chat.Threads(r.Context(), r.PathValue("department"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if threads == nil {
		threads = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": threads})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, &entities.ValidationError{Field: "limit", Detail: "must be a non-negative integer"})
			return
		}
		limit = n
	}

	key := entities.ThreadKey{Department: r.PathValue("department"), Thread: r.PathValue("thread")}
	turns, err := s.chat.History(r.Context(), key, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(turns) == 0 {
		s.writeError(w, r, fmt.Errorf("chat %s: %w", key, ports.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": turns})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.LoadProfile(r.Context(), r.PathValue("workspace"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var p entities.BusinessProfile
	if !s.decode(w, r, &p) {
		return
	}
	p.WorkspaceID = r.PathValue("workspace")

	if err := s.profiles.SaveProfile(r.Context(), &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.profiles.LoadProfile(r.Context(), p.WorkspaceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// handleAddDepartment is "add expert": additive, never removes a department.
func (s *Server) handleAddDepartment(w http.ResponseWriter, r *http.Request) {
	var dc entities.DepartmentConfig
	if !s.decode(w, r, &dc) {
		return
	}
	dc.Department = strings.TrimSpace(dc.Department)
	if dc.Department == "" {
		s.writeError(w, r, &entities.ValidationError{Field: "department", Detail: "must not be empty"})
		return
	}
	name, err := s.knowledge.Canonical(dc.Department)
	if err != nil {
		s.writeError(w, r, &entities.ValidationError{Field: "department", Detail: fmt.Sprintf("%q has no expert", dc.Department)})
		return
	}
	dc.Department = name

	if err := s.profiles.AddDepartment(r.Context(), r.PathValue("workspace"), dc); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dc)
}

type evidenceEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mime_type"`
	Size       int       `json:"size"`
	Pinned     bool      `json:"pinned"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func newEvidenceEntry(d entities.EvidenceDocument) evidenceEntry {
	size := len(d.Data)
	if !d.MimeCategory.IsBinary() {
		size = len(d.Content)
	}
	return evidenceEntry{ID: d.ID, Name: d.Name, MimeType: d.MimeType, Size: size, Pinned: d.Pinned, UploadedAt: d.UploadedAt}
}

func (s *Server) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	docs, err := s.evidence.LoadEvidence(r.Context(), r.PathValue("department"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]evidenceEntry, len(docs))
	for i, d := range docs {
		out[i] = newEvidenceEntry(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// handleUpload accepts one multipart "file" field, optionally "pinned".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.ingest.MaxBytes())
	// Room for the multipart envelope around the file.
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
			return
		}
		s.writeError(w, r, &entities.ValidationError{Field: "file", Detail: "expected a multipart upload"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, &entities.ValidationError{Field: "file", Detail: "missing"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pinned, _ := strconv.ParseBool(r.FormValue("pinned"))

	doc, err := s.ingest.Ingest(r.Context(), s.department(r.PathValue("department")), header.Filename, data, pinned)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEvidenceEntry(*doc))
}

func (s *Server) handleDepartments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"departments": s.knowledge.Departments()})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"departments": len(s.knowledge.Departments()),
	})
}

// department returns the corpus spelling of name, or name itself when no
// expert covers it.
func (s *Server) department(name string) string {
	if canonical, err := s.knowledge.Canonical(name); err == nil {
		return canonical
	}
	return strings.TrimSpace(name)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, r, &entities.ValidationError{Field: "body", Detail: "invalid JSON"})
		return false
	}
	return true
}

// writeError maps the domain error taxonomy onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "Internal error"

	var ve *entities.ValidationError
	switch cf, isFailure := entities.AsCompletionFailure(err); {
	case errors.As(err, &ve):
		status, msg = http.StatusBadRequest, ve.Error()
	case errors.Is(err, ports.ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case isFailure:
		status, msg = http.StatusBadGateway, cf.UserMessage()
	case entities.IsConfiguration(err):
		msg = "Expert is misconfigured"
	}

	if status >= 500 {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
