package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
	"github.com/0xcro3dile/workmind-go/internal/domain/ports"
)

// SQLiteStore implements the ledger, evidence and profile ports on one SQLite file.
// Appends to one thread take the thread's key lock and compute the next
// position inside a transaction; other threads never wait on that lock.
type SQLiteStore struct {
	db      *sql.DB
	appends *keyLocks
	logger  *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = "./data/workmind.db"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Ensure data directory exists
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single writer connection; readers queue behind it.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:      db,
		appends: newKeyLocks(),
		logger:  logger.Named("sqlite"),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	store.logger.Info("store opened", zap.String("path", path))
	return store, nil
}

// initSchema creates the necessary tables.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		department TEXT NOT NULL,
		thread TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		escalation TEXT,
		created_at DATETIME NOT NULL,
		UNIQUE (department, thread, seq)
	);
	CREATE TABLE IF NOT EXISTS evidence (
		id TEXT PRIMARY KEY,
		department TEXT NOT NULL COLLATE NOCASE,
		name TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		mime_category TEXT NOT NULL,
		content TEXT,
		data BLOB,
		pinned INTEGER NOT NULL DEFAULT 0,
		uploaded_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_department ON evidence(department);
	CREATE TABLE IF NOT EXISTS profiles (
		workspace_id TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores one turn at the end of its thread.
func (s *SQLiteStore) Append(ctx context.Context, key entities.ThreadKey, turn entities.ConversationTurn) (string, error) {
	ids, err := s.appendTurns(ctx, key, turn)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AppendExchange stores both turns in one transaction.
func (s *SQLiteStore) AppendExchange(ctx context.Context, key entities.ThreadKey, user, reply entities.ConversationTurn) (string, string, error) {
	ids, err := s.appendTurns(ctx, key, user, reply)
	if err != nil {
		return "", "", err
	}
	return ids[0], ids[1], nil
}

func (s *SQLiteStore) appendTurns(ctx context.Context, key entities.ThreadKey, turns ...entities.ConversationTurn) ([]string, error) {
	unlock := s.appends.lock(threadLockKey(key))
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE department = ? AND thread = ?`,
		key.Department, key.Thread,
	).Scan(&last); err != nil {
		return nil, fmt.Errorf("reading thread position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO turns (id, department, thread, seq, role, kind, content, escalation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, len(turns))
	for i, turn := range turns {
		if turn.Kind == "" {
			turn.Kind = entities.TurnMessage
		}
		if turn.Timestamp.IsZero() {
			turn.Timestamp = time.Now()
		}
		var escalation sql.NullString
		if turn.Escalation != nil {
			b, err := json.Marshal(turn.Escalation)
			if err != nil {
				return nil, fmt.Errorf("encoding escalation: %w", err)
			}
			escalation = sql.NullString{String: string(b), Valid: true}
		}

		ids[i] = uuid.NewString()
		last++
		if _, err := stmt.ExecContext(ctx,
			ids[i], key.Department, key.Thread, last,
			string(turn.Role), string(turn.Kind), turn.Content, escalation, turn.Timestamp.UTC(),
		); err != nil {
			return nil, fmt.Errorf("inserting turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing turns: %w", err)
	}
	return ids, nil
}

// Recent returns the last n turns in arrival order; n <= 0 returns all of them.
func (s *SQLiteStore) Recent(ctx context.Context, key entities.ThreadKey, n int) ([]entities.ConversationTurn, error) {
	limit := n
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, role, kind, content, escalation, created_at
		FROM turns WHERE department = ? AND thread = ?
		ORDER BY seq DESC LIMIT ?
	`, key.Department, key.Thread, limit)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var out []entities.ConversationTurn
	for rows.Next() {
		var (
			t          entities.ConversationTurn
			role, kind string
			escalation sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Seq, &role, &kind, &t.Content, &escalation, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = entities.Role(role)
		t.Kind = entities.TurnKind(kind)
		if escalation.Valid {
			var v entities.EscalationVerdict
			if err := json.Unmarshal([]byte(escalation.String), &v); err != nil {
				return nil, fmt.Errorf("decoding escalation of %s: %w", t.ID, err)
			}
			t.Escalation = &v
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest first from the query; callers want arrival order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Threads lists a department's thread ids in sorted order.
func (s *SQLiteStore) Threads(ctx context.Context, department string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT thread FROM turns WHERE department = ? ORDER BY thread`, department)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var thread string
		if err := rows.Scan(&thread); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		out = append(out, thread)
	}
	return out, rows.Err()
}

// LoadEvidence returns the department's documents.
func (s *SQLiteStore) LoadEvidence(ctx context.Context, department string) ([]entities.EvidenceDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, department, name, mime_type, mime_category, content, data, pinned, uploaded_at
		FROM evidence WHERE department = ? ORDER BY uploaded_at, id
	`, department)
	if err != nil {
		return nil, fmt.Errorf("querying evidence: %w", err)
	}
	defer rows.Close()

	var out []entities.EvidenceDocument
	for rows.Next() {
		var (
			d        entities.EvidenceDocument
			category string
			content  sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Department, &d.Name, &d.MimeType, &category, &content, &d.Data, &d.Pinned, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("scanning evidence: %w", err)
		}
		d.MimeCategory = entities.MimeCategory(category)
		d.Content = content.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddEvidence stores a new document. An existing id is an error.
func (s *SQLiteStore) AddEvidence(ctx context.Context, doc entities.EvidenceDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (id, department, name, mime_type, mime_category, content, data, pinned, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Department, doc.Name, doc.MimeType, string(doc.MimeCategory),
		doc.Content, doc.Data, doc.Pinned, doc.UploadedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting evidence: %w", err)
	}
	return nil
}

// LoadProfile returns the workspace profile.
func (s *SQLiteStore) LoadProfile(ctx context.Context, workspaceID string) (*entities.BusinessProfile, error) {
	return loadProfile(ctx, s.db, workspaceID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadProfile(ctx context.Context, q queryer, workspaceID string) (*entities.BusinessProfile, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM profiles WHERE workspace_id = ?`, workspaceID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", workspaceID, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	var p entities.BusinessProfile
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("decoding profile %s: %w", workspaceID, err)
	}
	return &p, nil
}

// SaveProfile replaces the workspace profile, carrying over configured departments.
func (s *SQLiteStore) SaveProfile(ctx context.Context, profile *entities.BusinessProfile) error {
	if profile == nil || profile.WorkspaceID == "" {
		return &entities.ValidationError{Field: "workspace_id", Detail: "must not be empty"}
	}
	return s.updateProfile(ctx, profile.WorkspaceID, func(prev *entities.BusinessProfile) (*entities.BusinessProfile, error) {
		next := profile.Clone()
		if prev != nil {
			keepDepartments(prev, next)
		}
		return next, nil
	})
}

// AddDepartment adds or updates one department config.
func (s *SQLiteStore) AddDepartment(ctx context.Context, workspaceID string, dc entities.DepartmentConfig) error {
	return s.updateProfile(ctx, workspaceID, func(prev *entities.BusinessProfile) (*entities.BusinessProfile, error) {
		if prev == nil {
			return nil, fmt.Errorf("profile %s: %w", workspaceID, ports.ErrNotFound)
		}
		prev.AddDepartment(dc)
		return prev, nil
	})
}

func (s *SQLiteStore) updateProfile(ctx context.Context, workspaceID string, mutate func(prev *entities.BusinessProfile) (*entities.BusinessProfile, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := loadProfile(ctx, tx, workspaceID)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return err
	}

	next, err := mutate(prev)
	if err != nil {
		return err
	}
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (workspace_id, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(workspace_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, workspaceID, string(body), time.Now().UTC()); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return tx.Commit()
}
