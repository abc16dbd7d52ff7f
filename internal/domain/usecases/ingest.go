package usecases

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
)

// DefaultMaxUploadBytes is the upload cap when none is configured.
const DefaultMaxUploadBytes = 5 << 20

type mimeRule struct {
	mimeType string
	category entities.MimeCategory
}

var extensionRules = map[string]mimeRule{
	".txt":  {"text/plain", entities.MimeText},
	".md":   {"text/markdown", entities.MimeText},
	".csv":  {"text/csv", entities.MimeText},
	".json": {"application/json", entities.MimeText},
	".yaml": {"application/yaml", entities.MimeText},
	".yml":  {"application/yaml", entities.MimeText},
	".html": {"text/html", entities.MimeText},
	".htm":  {"text/html", entities.MimeText},
	".xml":  {"application/xml", entities.MimeText},
	".log":  {"text/plain", entities.MimeText},
	".png":  {"image/png", entities.MimeImage},
	".jpg":  {"image/jpeg", entities.MimeImage},
	".jpeg": {"image/jpeg", entities.MimeImage},
	".gif":  {"image/gif", entities.MimeImage},
	".webp": {"image/webp", entities.MimeImage},
	".pdf":  {"application/pdf", entities.MimePDF},
}

// IngestUseCase turns uploaded files into evidence documents.
type IngestUseCase struct {
	store    ports.EvidenceStore
	maxBytes int
	logger   *zap.Logger
	now      func() time.Time
}

// NewIngestUseCase creates an IngestUseCase with injected dependencies.
func NewIngestUseCase(store ports.EvidenceStore, maxBytes int, logger *zap.Logger) *IngestUseCase {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestUseCase{
		store:    store,
		maxBytes: maxBytes,
		logger:   logger.Named("ingest"),
		now:      time.Now,
	}
}

// MaxBytes returns the upload cap.
func (uc *IngestUseCase) MaxBytes() int { return uc.maxBytes }

// SupportedExtensions lists the extensions classified without sniffing.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensionRules))
	for ext := range extensionRules {
		exts = append(exts, ext)
	}
	return uniqueSorted(exts)
}

// Ingest validates, classifies and stores one document in the department's pool.
func (uc *IngestUseCase) Ingest(ctx context.Context, department, name string, data []byte, pinned bool) (*entities.EvidenceDocument, error) {
	department = strings.TrimSpace(department)
	name = strings.TrimSpace(filepath.Base(name))
	if department == "" {
		return nil, &entities.ValidationError{Field: "department", Detail: "must not be empty"}
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, &entities.ValidationError{Field: "name", Detail: "must not be empty"}
	}
	if len(data) == 0 {
		return nil, &entities.ValidationError{Field: "file", Detail: "is empty"}
	}
	if len(data) > uc.maxBytes {
		return nil, &entities.ValidationError{
			Field:  "file",
			Detail: fmt.Sprintf("%d bytes exceeds the %d byte limit", len(data), uc.maxBytes),
		}
	}

	rule, err := classifyUpload(name, data)
	if err != nil {
		return nil, err
	}

	doc := entities.EvidenceDocument{
		ID:           uuid.NewString(),
		Department:   department,
		Name:         name,
		MimeType:     rule.mimeType,
		MimeCategory: rule.category,
		Pinned:       pinned,
		UploadedAt:   uc.now().UTC(),
	}
	if rule.category.IsBinary() {
		doc.Data = append([]byte(nil), data...)
	} else {
		if !utf8.Valid(data) {
			return nil, &entities.ValidationError{Field: "file", Detail: "text document is not valid UTF-8"}
		}
		doc.Content = string(data)
	}

	if err := uc.store.AddEvidence(ctx, doc); err != nil {
		return nil, fmt.Errorf("storing evidence: %w", err)
	}

	uc.logger.Info("evidence stored",
		zap.String("department", department),
		zap.String("name", name),
		zap.String("mime", doc.MimeType),
		zap.Int("bytes", len(data)),
	)
	return &doc, nil
}

// IngestFile reads a file through the loader and ingests it.
func (uc *IngestUseCase) IngestFile(ctx context.Context, loader ports.DocumentLoader, department, path string) (*entities.EvidenceDocument, error) {
	name, data, err := loader.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return uc.Ingest(ctx, department, name, data, false)
}

// classifyUpload picks the mime type by extension, then by content sniffing.
// Anything that is neither text, image nor PDF is rejected.
func classifyUpload(name string, data []byte) (mimeRule, error) {
	if rule, ok := extensionRules[strings.ToLower(filepath.Ext(name))]; ok {
		return rule, nil
	}

	detected := http.DetectContentType(data)
	base, _, _ := strings.Cut(detected, ";")
	base = strings.TrimSpace(base)
	switch {
	case strings.HasPrefix(base, "text/"):
		return mimeRule{base, entities.MimeText}, nil
	case strings.HasPrefix(base, "image/"):
		return mimeRule{base, entities.MimeImage}, nil
	case base == "application/pdf":
		return mimeRule{base, entities.MimePDF}, nil
	}
	return mimeRule{}, &entities.ValidationError{
		Field:  "file",
		Detail: fmt.Sprintf("unsupported content type %s", base),
	}
}
